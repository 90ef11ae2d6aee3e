package models

import "time"

// FeeBreakdown is the frozen split of a gross price. The four parts sum to the gross price.
type FeeBreakdown struct {
	ProviderNet int64 `json:"provider_net"`
	GatewayFee  int64 `json:"gateway_fee"`
	PlatformFee int64 `json:"platform_fee"`
	ServiceFee  int64 `json:"service_fee"`
}

// Total returns the sum of all parts.
func (f FeeBreakdown) Total() int64 {
	return f.ProviderNet + f.GatewayFee + f.PlatformFee + f.ServiceFee
}

// Reservation is one booked interval of a provider.
type Reservation struct {
	ID               int64             `json:"id"`
	Reference        string            `json:"reference"`
	ProviderID       int64             `json:"provider_id"`
	ClientID         int64             `json:"client_id"`
	OfferingID       int64             `json:"offering_id"`
	PackageID        *int64            `json:"package_id,omitempty"`
	SessionID        *int64            `json:"session_id,omitempty"`
	Start            time.Time         `json:"start"`
	End              time.Time         `json:"end"`
	GrossPrice       int64             `json:"gross_price"`
	Status           ReservationStatus `json:"status"`
	SettlementStatus SettlementStatus  `json:"settlement_status"`
	SettlementMode   SettlementMode    `json:"settlement_mode"`
	Fees             FeeBreakdown      `json:"fees"`
	ChannelRef       string            `json:"channel_ref,omitempty"`
	CheckoutRef      string            `json:"checkout_ref,omitempty"`
	HoldUntil        time.Time         `json:"hold_until"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Version          int64             `json:"version"`
}

// DurationMinutes returns the booked interval length in whole minutes.
func (r *Reservation) DurationMinutes() int64 {
	return int64(r.End.Sub(r.Start) / time.Minute)
}

// Overlaps reports whether [start, end) intersects the reservation interval.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.Start.Before(end) && r.End.After(start)
}

// ReservationFilter narrows reservation listings. Zero values mean "any".
type ReservationFilter struct {
	ClientID   int64
	ProviderID int64
	Status     ReservationStatus
	From       time.Time
	To         time.Time
	Limit      int
}

// SweepResult counts the records a completion sweep transitioned.
type SweepResult struct {
	Sessions     int64 `json:"sessions"`
	Reservations int64 `json:"reservations"`
	Packages     int64 `json:"packages"`
}

// Total returns the number of transitioned records.
func (r SweepResult) Total() int64 {
	return r.Sessions + r.Reservations + r.Packages
}
