package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Package is a purchased bundle owned by one client/provider/offering triple.
// Hours are stored as whole minutes.
type Package struct {
	ID                   int64          `json:"id"`
	ClientID             int64          `json:"client_id"`
	ProviderID           int64          `json:"provider_id"`
	OfferingID           int64          `json:"offering_id"`
	BundleID             *int64         `json:"bundle_id,omitempty"`
	// FundingReservationID is the reservation that paid for the package, if it was bought with a first session.
	FundingReservationID *int64         `json:"funding_reservation_id,omitempty"`
	TotalMinutes         int64          `json:"total_minutes"`
	RemainingMinutes     int64          `json:"remaining_minutes"`
	Status               PackageStatus  `json:"status"`
	SessionsPlanned      int            `json:"sessions_planned"`
	SessionsCompleted    int            `json:"sessions_completed"`
	GrossPrice           int64          `json:"gross_price"`
	Fees                 FeeBreakdown   `json:"fees"`
	SettlementMode       SettlementMode `json:"settlement_mode"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// TotalHours returns the package size in hours.
func (p *Package) TotalHours() decimal.Decimal {
	return HoursFromMinutes(p.TotalMinutes)
}

// RemainingHours returns the unconsumed hours.
func (p *Package) RemainingHours() decimal.Decimal {
	return HoursFromMinutes(p.RemainingMinutes)
}

// PackageSession is one scheduled interval consuming hours of a package.
type PackageSession struct {
	ID              int64         `json:"id"`
	PackageID       int64         `json:"package_id"`
	ReservationID   *int64        `json:"reservation_id,omitempty"`
	Start           time.Time     `json:"start"`
	End             time.Time     `json:"end"`
	DurationMinutes int64         `json:"duration_minutes"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
}

// UsageEntry is one projected line of a package's consumption history.
type UsageEntry struct {
	SessionID            int64           `json:"session_id"`
	ReservationID        *int64          `json:"reservation_id,omitempty"`
	Start                time.Time       `json:"start"`
	End                  time.Time       `json:"end"`
	Status               SessionStatus   `json:"status"`
	SequenceNumber       int             `json:"sequence_number"`
	IsFirst              bool            `json:"is_first"`
	SessionDurationHours decimal.Decimal `json:"session_duration_hours"`
	CumulativeHoursUsed  decimal.Decimal `json:"cumulative_hours_used"`
	ProgressPercent      decimal.Decimal `json:"progress_percent"`
}

// PackageUsage is the read model returned by the usage projector.
type PackageUsage struct {
	Package        Package         `json:"package"`
	TotalHours     decimal.Decimal `json:"total_hours"`
	RemainingHours decimal.Decimal `json:"remaining_hours"`
	Entries        []UsageEntry    `json:"entries"`
}

var minutesPerHour = decimal.NewFromInt(MinutesPerHour)

// HoursFromMinutes converts whole minutes to hours.
func HoursFromMinutes(minutes int64) decimal.Decimal {
	return decimal.NewFromInt(minutes).Div(minutesPerHour)
}

// MinutesFromHours converts hours to whole minutes, rounding to the nearest minute.
func MinutesFromHours(hours decimal.Decimal) int64 {
	return hours.Mul(minutesPerHour).Round(0).IntPart()
}

// IntervalMinutes returns the whole minutes between start and end.
func IntervalMinutes(start, end time.Time) int64 {
	return int64(end.Sub(start) / time.Minute)
}
