package service

import (
	"errors"
	"fmt"
	"time"

	"coachbook/internal/database"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrLeadTimeViolation     = errors.New("start is before the minimum lead time")
	ErrSettlementRejected    = errors.New("settlement rejected by gateway")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrInvalidTransition     = errors.New("invalid reservation transition")
	ErrBundleUnavailable     = errors.New("bundle definition unavailable")
	ErrOfferingUnavailable   = errors.New("offering unavailable")
	ErrThrottled             = errors.New("too many booking attempts")
)

// ValidationError is malformed input. It is never worth retrying unchanged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// LeadTimeError carries the earliest start the client may book.
type LeadTimeError struct {
	EarliestStart time.Time
}

func (e *LeadTimeError) Error() string {
	return fmt.Sprintf("%s: earliest allowed start is %s", ErrLeadTimeViolation, e.EarliestStart.Format(time.RFC3339))
}

func (e *LeadTimeError) Unwrap() error { return ErrLeadTimeViolation }

// SlotError reports the interval that was already taken.
type SlotError struct {
	ProviderID int64
	Start      time.Time
	End        time.Time
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("provider %d is not free %s - %s", e.ProviderID,
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (e *SlotError) Unwrap() error { return database.ErrSlotUnavailable }

// ExhaustedError reports how many hours the package still holds.
type ExhaustedError struct {
	PackageID      int64
	RequestedHours decimal.Decimal
	RemainingHours decimal.Decimal
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("package %d has %s hours left, %s requested", e.PackageID,
		e.RemainingHours.String(), e.RequestedHours.String())
}

func (e *ExhaustedError) Unwrap() error { return database.ErrPackageExhausted }
