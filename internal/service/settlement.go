package service

import (
	"context"
	"fmt"
	"time"

	"coachbook/internal/domain"
	"coachbook/internal/events"
	"coachbook/internal/metrics"
	"coachbook/internal/models"
)

// SettlementResult describes what a settlement callback did.
type SettlementResult struct {
	Reservation *models.Reservation `json:"reservation"`
	// Changed is false when the callback repeated an outcome already applied.
	Changed bool `json:"changed"`
	// Superseded is set when a payment arrived after another booking took the slot.
	Superseded bool `json:"superseded"`

	// released lists package reservations cancelled because their package was voided.
	released []int64
}

// HandleSettlement applies a gateway outcome to a gateway-mediated reservation.
// A failure cancels the reservation, releases any hours it consumed and
// returns the result together with ErrSettlementRejected.
func (s *BookingService) HandleSettlement(ctx context.Context, reservationID int64, outcome models.SettlementOutcome, now time.Time) (*SettlementResult, error) {
	if outcome != models.OutcomeSuccess && outcome != models.OutcomeFailure {
		return nil, invalid("outcome", fmt.Sprintf("unknown outcome %q", outcome))
	}

	res := &SettlementResult{}
	err := s.store.InTx(ctx, func(tx domain.StoreTx) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.SettlementMode != models.ModeGateway {
			return fmt.Errorf("%w: reservation %d is not gateway-mediated", ErrInvalidTransition, r.ID)
		}

		if outcome == models.OutcomeSuccess {
			return s.applySuccess(ctx, tx, r, res, now)
		}
		return s.applyFailure(ctx, tx, r, res, now)
	})
	if err != nil {
		return nil, err
	}
	metrics.IncSettlement(string(outcome))

	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	res.Reservation = r

	if res.Changed {
		s.logger.Info().
			Int64("reservation_id", r.ID).
			Str("outcome", string(outcome)).
			Str("status", string(r.Status)).
			Bool("superseded", res.Superseded).
			Msg("settlement applied")
	}

	switch {
	case !res.Changed:
	case res.Superseded:
		s.publishReservation(events.EventReservationSuperseded, r, "gateway", "slot taken before payment settled")
	case r.Status == models.StatusConfirmed:
		s.publishReservation(events.EventReservationConfirmed, r, "gateway", "")
		s.requestChannel(ctx, r)
	case outcome == models.OutcomeFailure:
		s.publishReservation(events.EventReservationCancelled, r, "gateway", "settlement failed")
	}

	s.publishReleased(ctx, res.released, "gateway", "package funding failed")

	if outcome == models.OutcomeFailure {
		return res, fmt.Errorf("%w: reservation %d", ErrSettlementRejected, r.ID)
	}
	return res, nil
}

func (s *BookingService) applySuccess(ctx context.Context, tx domain.StoreTx, r *models.Reservation, res *SettlementResult, now time.Time) error {
	switch r.Status {
	case models.StatusPending:
		overlap, err := tx.HasConfirmedOverlap(ctx, r.ProviderID, r.Start, r.End, r.ID)
		if err != nil {
			return err
		}
		if overlap {
			// the hold lapsed and someone else confirmed the slot; keep the
			// payment on record so operators can refund it
			if err := tx.TransitionReservation(ctx, r.ID, r.Version, models.StatusCancelled, models.SettlementByGateway, now); err != nil {
				return err
			}
			res.Changed, res.Superseded = true, true
			// the bundle itself was paid for, only its first session is lost
			if err := s.activateFunded(ctx, tx, r, now); err != nil {
				return err
			}
			_, err := s.releaseHours(ctx, tx, r, false, now)
			return err
		}
		if err := tx.TransitionReservation(ctx, r.ID, r.Version, models.StatusConfirmed, models.SettlementByGateway, now); err != nil {
			return err
		}
		res.Changed = true
		return s.activateFunded(ctx, tx, r, now)

	case models.StatusCancelled:
		if r.SettlementStatus == models.SettlementByGateway {
			return nil
		}
		// paid after cancellation: record the money for a refund
		if err := tx.TransitionReservation(ctx, r.ID, r.Version, models.StatusCancelled, models.SettlementByGateway, now); err != nil {
			return err
		}
		res.Changed = true
		return nil

	case models.StatusConfirmed, models.StatusCompleted:
		if r.SettlementStatus == models.SettlementByGateway {
			return nil
		}
		return fmt.Errorf("%w: reservation %d is %s with settlement %s", ErrInvalidTransition, r.ID, r.Status, r.SettlementStatus)
	}
	return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, r.Status)
}

func (s *BookingService) applyFailure(ctx context.Context, tx domain.StoreTx, r *models.Reservation, res *SettlementResult, now time.Time) error {
	switch r.Status {
	case models.StatusPending:
		if err := tx.TransitionReservation(ctx, r.ID, r.Version, models.StatusCancelled, models.SettlementFailed, now); err != nil {
			return err
		}
		res.Changed = true
		released, err := s.releaseHours(ctx, tx, r, true, now)
		res.released = released
		return err
	case models.StatusCancelled:
		return nil
	}
	return fmt.Errorf("%w: reservation %d is already %s", ErrInvalidTransition, r.ID, r.Status)
}

// activateFunded releases the package r paid for, if any.
func (s *BookingService) activateFunded(ctx context.Context, tx domain.StoreTx, r *models.Reservation, now time.Time) error {
	if r.PackageID == nil {
		return nil
	}
	pkg, err := tx.GetPackage(ctx, *r.PackageID)
	if err != nil {
		return err
	}
	if pkg.FundingReservationID == nil || *pkg.FundingReservationID != r.ID {
		return nil
	}
	return tx.ActivatePackage(ctx, pkg.ID, now)
}

// releaseHours is the compensating action for a reservation that will not
// happen: its scheduled session is cancelled and the hours go back to the
// package. When voidFunding is set and r paid for the package, the whole
// package is voided instead and every other live reservation booked against it
// is cancelled; their ids are returned.
func (s *BookingService) releaseHours(ctx context.Context, tx domain.StoreTx, r *models.Reservation, voidFunding bool, now time.Time) ([]int64, error) {
	if r.PackageID == nil {
		return nil, nil
	}
	pkg, err := tx.GetPackage(ctx, *r.PackageID)
	if err != nil {
		return nil, err
	}

	if voidFunding && pkg.FundingReservationID != nil && *pkg.FundingReservationID == r.ID {
		released, err := tx.VoidPackage(ctx, pkg.ID, now)
		if err != nil {
			return nil, err
		}
		s.logger.Info().
			Int64("package_id", pkg.ID).
			Int64("reservation_id", r.ID).
			Int("released", len(released)).
			Msg("package voided")
		return released, nil
	}

	if r.SessionID == nil {
		return nil, nil
	}
	cancelled, err := tx.CancelSession(ctx, *r.SessionID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		// the session already took place or was released before
		return nil, nil
	}
	if pkg.Status == models.PackageVoided {
		return nil, nil
	}
	return nil, tx.CreditPackage(ctx, pkg.ID, r.DurationMinutes(), now)
}

// publishReleased announces reservations cancelled by a package void.
func (s *BookingService) publishReleased(ctx context.Context, ids []int64, changedBy, reason string) {
	for _, id := range ids {
		r, err := s.store.GetReservation(ctx, id)
		if err != nil {
			s.logger.Error().Err(err).Int64("reservation_id", id).Msg("failed to load released reservation")
			continue
		}
		s.publishReservation(events.EventReservationCancelled, r, changedBy, reason)
	}
}

// CancelReservation cancels a pending or confirmed reservation and returns
// any hours it consumed. A pending bundle purchase voids its package along
// with every session booked from it.
func (s *BookingService) CancelReservation(ctx context.Context, reservationID int64, actor string, now time.Time) (*models.Reservation, error) {
	var released []int64
	err := s.store.InTx(ctx, func(tx domain.StoreTx) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != models.StatusPending && r.Status != models.StatusConfirmed {
			return fmt.Errorf("%w: reservation %d is already %s", ErrInvalidTransition, r.ID, r.Status)
		}
		if err := tx.TransitionReservation(ctx, r.ID, r.Version, models.StatusCancelled, r.SettlementStatus, now); err != nil {
			return err
		}
		released, err = s.releaseHours(ctx, tx, r, r.Status == models.StatusPending, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("reservation_id", r.ID).Str("actor", actor).Msg("reservation cancelled")
	s.publishReservation(events.EventReservationCancelled, r, actor, "cancelled")
	s.publishReleased(ctx, released, actor, "package funding cancelled")
	return r, nil
}

// MarkSettledExternally records that an externally settled reservation was
// paid, which makes it eligible for completion.
func (s *BookingService) MarkSettledExternally(ctx context.Context, reservationID int64, now time.Time) (*models.Reservation, error) {
	err := s.store.InTx(ctx, func(tx domain.StoreTx) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.SettlementMode != models.ModeExternal {
			return fmt.Errorf("%w: reservation %d is not externally settled", ErrInvalidTransition, r.ID)
		}
		if r.SettlementStatus == models.SettlementExternal {
			return nil
		}
		if r.Status != models.StatusConfirmed || r.SettlementStatus != models.SettlementPending {
			return fmt.Errorf("%w: reservation %d is %s with settlement %s", ErrInvalidTransition, r.ID, r.Status, r.SettlementStatus)
		}
		return tx.TransitionReservation(ctx, r.ID, r.Version, r.Status, models.SettlementExternal, now)
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetReservation(ctx, reservationID)
}
