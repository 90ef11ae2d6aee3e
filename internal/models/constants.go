package models

import "time"

// ReservationStatus is the lifecycle status of a reservation.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCompleted ReservationStatus = "completed"
	StatusCancelled ReservationStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// SettlementStatus tracks how the money side of a reservation was resolved.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending_settlement"
	SettlementExternal  SettlementStatus = "settled_externally"
	SettlementByGateway SettlementStatus = "settled_by_gateway"
	SettlementFailed    SettlementStatus = "failed"
	// SettlementFree marks zero-price reservations; treated as paid.
	SettlementFree SettlementStatus = "free"
)

// IsPaid reports whether the settlement makes a reservation eligible for completion.
func (s SettlementStatus) IsPaid() bool {
	switch s {
	case SettlementByGateway, SettlementExternal, SettlementFree:
		return true
	default:
		return false
	}
}

// PaidSettlements lists settlement statuses that count as paid.
var PaidSettlements = []SettlementStatus{SettlementByGateway, SettlementExternal, SettlementFree}

// SettlementMode is how payment is mediated for a reservation.
type SettlementMode string

const (
	ModeGateway  SettlementMode = "gateway"
	ModeExternal SettlementMode = "external"
	ModeFree     SettlementMode = "zero_price"
)

// Valid reports whether m is one of the known modes.
func (m SettlementMode) Valid() bool {
	switch m {
	case ModeGateway, ModeExternal, ModeFree:
		return true
	default:
		return false
	}
}

// PackageStatus is the status of a prepaid package.
type PackageStatus string

const (
	// PackagePendingFunding holds a bundle bought with a first session until that payment settles.
	PackagePendingFunding PackageStatus = "pending_funding"
	PackageActive         PackageStatus = "active"
	PackageCompleted      PackageStatus = "completed"
	// PackageVoided is set when the reservation that funded the package failed to settle.
	PackageVoided PackageStatus = "voided"
)

// SessionStatus is the status of a package session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// SettlementOutcome is reported by the payment gateway.
type SettlementOutcome string

const (
	OutcomeSuccess SettlementOutcome = "success"
	OutcomeFailure SettlementOutcome = "failure"
)

const (
	// DefaultPendingHold is how long a fresh pending reservation blocks its slot.
	DefaultPendingHold = 15 * time.Minute

	// DefaultMinLeadTime is the minimum gap between account creation and session start.
	DefaultMinLeadTime = 24 * time.Hour

	// DefaultSweepInterval is how often the background completion sweep runs.
	DefaultSweepInterval = time.Minute

	// DefaultBookingAttempts per client within DefaultBookingAttemptWindow.
	DefaultBookingAttempts      = 20
	DefaultBookingAttemptWindow = time.Minute

	// ChannelQueueSize is the in-memory provisioning queue size.
	ChannelQueueSize = 256

	MinutesPerHour = 60
)
