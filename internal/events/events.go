package events

import (
	"encoding/json"
	"sync"
	"time"

	"coachbook/internal/models"
)

const (
	EventReservationCreated    = "reservation_created"
	EventReservationConfirmed  = "reservation_confirmed"
	EventReservationCancelled  = "reservation_cancelled"
	EventSweepCompleted        = "sweep_completed"
	EventReservationSuperseded = "reservation_superseded"
	EventPackageOpened         = "package_opened"
	EventSessionScheduled      = "session_scheduled"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// ReservationEventPayload is the reservation snapshot handed to event consumers.
type ReservationEventPayload struct {
	ReservationID    int64                    `json:"reservation_id"`
	Reference        string                   `json:"reference"`
	ProviderID       int64                    `json:"provider_id"`
	ClientID         int64                    `json:"client_id"`
	PackageID        *int64                   `json:"package_id,omitempty"`
	Mode             models.SettlementMode    `json:"mode"`
	Status           models.ReservationStatus `json:"status"`
	SettlementStatus models.SettlementStatus  `json:"settlement_status"`
	GrossPrice       int64                    `json:"gross_price"`
	Start            time.Time                `json:"start"`
	End              time.Time                `json:"end"`
	ChangedBy        string                   `json:"changed_by,omitempty"`
	Reason           string                   `json:"reason,omitempty"`
}

// NewReservationPayload snapshots r for publishing.
func NewReservationPayload(r *models.Reservation, changedBy, reason string) ReservationEventPayload {
	return ReservationEventPayload{
		ReservationID:    r.ID,
		Reference:        r.Reference,
		ProviderID:       r.ProviderID,
		ClientID:         r.ClientID,
		PackageID:        r.PackageID,
		Mode:             r.SettlementMode,
		Status:           r.Status,
		SettlementStatus: r.SettlementStatus,
		GrossPrice:       r.GrossPrice,
		Start:            r.Start,
		End:              r.End,
		ChangedBy:        changedBy,
		Reason:           reason,
	}
}

// PackageEventPayload describes a ledger change.
type PackageEventPayload struct {
	PackageID        int64  `json:"package_id"`
	ClientID         int64  `json:"client_id"`
	ProviderID       int64  `json:"provider_id"`
	SessionID        int64  `json:"session_id,omitempty"`
	RemainingMinutes int64  `json:"remaining_minutes"`
	ChangedBy        string `json:"changed_by,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	onError     func(event *Event, err error)
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type, or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// OnError sets a callback for handler failures. Failures never reach the publisher.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
