package models

import "time"

// Provider is a coach offering sessions. SettlementMode decides how bookings are paid.
type Provider struct {
	ID             int64          `yaml:"id" json:"id"`
	Name           string         `yaml:"name" json:"name"`
	SettlementMode SettlementMode `yaml:"settlement_mode" json:"settlement_mode"`
	CreatedAt      time.Time      `yaml:"-" json:"created_at"`
}

// Account is a client account as seen by the booking engine.
type Account struct {
	ID        int64     `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// Offering is a bookable coaching service. HourlyPrice is in minor currency units.
type Offering struct {
	ID              int64              `yaml:"id" json:"id"`
	ProviderID      int64              `yaml:"provider_id" json:"provider_id"`
	Title           string             `yaml:"title" json:"title"`
	HourlyPrice     int64              `yaml:"hourly_price" json:"hourly_price"`
	DurationMinutes int64              `yaml:"duration_minutes" json:"duration_minutes"`
	IsActive        bool               `yaml:"is_active" json:"is_active"`
	Bundles         []BundleDefinition `yaml:"bundles" json:"bundles,omitempty"`
	CreatedAt       time.Time          `yaml:"-" json:"created_at"`
	UpdatedAt       time.Time          `yaml:"-" json:"updated_at"`
}

// BundleDefinition is a discounted multi-hour purchase option of an offering.
type BundleDefinition struct {
	ID              int64 `yaml:"id" json:"id"`
	OfferingID      int64 `yaml:"offering_id" json:"offering_id"`
	Hours           int64 `yaml:"hours" json:"hours"`
	TotalPrice      int64 `yaml:"total_price" json:"total_price"`
	PlannedSessions int   `yaml:"planned_sessions" json:"planned_sessions"`
	IsActive        bool  `yaml:"is_active" json:"is_active"`
}

// Discount returns hourlyPrice*hours - totalPrice. Negative values are not rejected.
func (b BundleDefinition) Discount(hourlyPrice int64) int64 {
	return hourlyPrice*b.Hours - b.TotalPrice
}

// TotalMinutes returns the bundle size in minutes.
func (b BundleDefinition) TotalMinutes() int64 {
	return b.Hours * MinutesPerHour
}
