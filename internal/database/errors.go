package database

import (
	"errors"
	"strings"
)

var (
	ErrProviderNotFound    = errors.New("provider not found")
	ErrOfferingNotFound    = errors.New("offering not found")
	ErrBundleNotFound      = errors.New("bundle definition not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrPackageNotFound     = errors.New("package not found")
	ErrSessionNotFound     = errors.New("package session not found")
)

var (
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrPackageExhausted       = errors.New("package has insufficient remaining hours")
	ErrPackageNotOwned        = errors.New("package does not belong to client")
	ErrPackageInactive        = errors.New("package is not active")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// slotGuardMessage is raised by the reservation overlap triggers.
const slotGuardMessage = "slot_unavailable"

// guardError maps trigger and CHECK failures to sentinel errors. It returns
// nil for anything else.
func guardError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, slotGuardMessage):
		return ErrSlotUnavailable
	case strings.Contains(msg, "CHECK constraint failed") && strings.Contains(msg, "remaining_minutes"):
		return ErrPackageExhausted
	}
	return nil
}
