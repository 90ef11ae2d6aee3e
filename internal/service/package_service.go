package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coachbook/internal/database"
	"coachbook/internal/domain"
	"coachbook/internal/events"
	"coachbook/internal/models"
)

type PurchasePackageRequest struct {
	ClientID int64 `json:"client_id"`
	BundleID int64 `json:"bundle_id"`
}

// PurchasePackage opens a package without booking a session. Gateway bundles
// need a checkout and are bought together with their first session instead.
func (s *BookingService) PurchasePackage(ctx context.Context, req PurchasePackageRequest, now time.Time) (*models.Package, error) {
	if req.ClientID <= 0 {
		return nil, invalid("client_id", "is required")
	}
	if req.BundleID <= 0 {
		return nil, invalid("bundle_id", "is required")
	}

	if _, err := s.identity.GetAccount(ctx, req.ClientID); err != nil {
		if errors.Is(err, database.ErrAccountNotFound) {
			return nil, invalid("client_id", "unknown account")
		}
		return nil, fmt.Errorf("%w: identity: %v", ErrDependencyUnavailable, err)
	}

	bundle, err := s.store.GetBundle(ctx, req.BundleID)
	if err != nil {
		if errors.Is(err, database.ErrBundleNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrBundleUnavailable, err)
		}
		return nil, err
	}
	offering, err := s.store.GetOffering(ctx, bundle.OfferingID)
	if err != nil {
		return nil, err
	}
	if !offering.IsActive {
		return nil, fmt.Errorf("%w: offering %d is not active", ErrOfferingUnavailable, offering.ID)
	}
	if _, err := s.bundleFor(ctx, bundle.ID, offering); err != nil {
		return nil, err
	}
	provider, err := s.store.GetProvider(ctx, offering.ProviderID)
	if err != nil {
		return nil, err
	}

	mode := provider.SettlementMode
	if bundle.TotalPrice == 0 {
		mode = models.ModeFree
	}
	if mode == models.ModeGateway {
		return nil, invalid("bundle_id", "gateway bundles are purchased with a first session")
	}

	fees, err := s.pricing.Compute(bundle.TotalPrice, mode, bundle.Hours)
	if err != nil {
		return nil, fmt.Errorf("%w: pricing: %v", ErrDependencyUnavailable, err)
	}

	bundleID := bundle.ID
	pkg := &models.Package{
		ClientID:        req.ClientID,
		ProviderID:      offering.ProviderID,
		OfferingID:      offering.ID,
		BundleID:        &bundleID,
		TotalMinutes:    bundle.TotalMinutes(),
		SessionsPlanned: bundle.PlannedSessions,
		GrossPrice:      bundle.TotalPrice,
		Fees:            fees,
		SettlementMode:  mode,
		CreatedAt:       now,
	}
	err = s.store.InTx(ctx, func(tx domain.StoreTx) error {
		return tx.OpenPackage(ctx, pkg, 0)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("package_id", pkg.ID).Int64("client_id", pkg.ClientID).Int64("bundle_id", bundle.ID).Msg("package purchased")
	s.publishPackage(events.EventPackageOpened, events.PackageEventPayload{
		PackageID:        pkg.ID,
		ClientID:         pkg.ClientID,
		ProviderID:       pkg.ProviderID,
		RemainingMinutes: pkg.RemainingMinutes,
		ChangedBy:        "client",
	})
	return pkg, nil
}

type ScheduleSessionRequest struct {
	ProviderID int64     `json:"provider_id"`
	PackageID  int64     `json:"package_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// ScheduleSession books a ledger-only session on behalf of the provider. The
// slot must be free and the package must cover it.
func (s *BookingService) ScheduleSession(ctx context.Context, req ScheduleSessionRequest, now time.Time) (*models.PackageSession, error) {
	if req.ProviderID <= 0 {
		return nil, invalid("provider_id", "is required")
	}
	if err := validateInterval(req.Start, req.End, now); err != nil {
		return nil, err
	}
	minutes := models.IntervalMinutes(req.Start, req.End)

	var pkg *models.Package
	session := &models.PackageSession{
		PackageID:       req.PackageID,
		Start:           req.Start,
		End:             req.End,
		DurationMinutes: minutes,
		CreatedAt:       now,
	}
	err := s.store.InTx(ctx, func(tx domain.StoreTx) error {
		var err error
		pkg, err = tx.GetPackage(ctx, req.PackageID)
		if err != nil {
			return err
		}
		if pkg.ProviderID != req.ProviderID {
			return database.ErrPackageNotOwned
		}

		free, err := tx.IsFree(ctx, req.ProviderID, req.Start, req.End, now)
		if err != nil {
			return err
		}
		if !free {
			return &SlotError{ProviderID: req.ProviderID, Start: req.Start, End: req.End}
		}

		if _, err := tx.ValidatePackage(ctx, pkg.ID, pkg.ClientID, minutes); err != nil {
			if errors.Is(err, database.ErrPackageExhausted) {
				return &ExhaustedError{
					PackageID:      pkg.ID,
					RequestedHours: models.HoursFromMinutes(minutes),
					RemainingHours: pkg.RemainingHours(),
				}
			}
			return err
		}

		if err := tx.InsertSession(ctx, session); err != nil {
			return err
		}
		return tx.DebitPackage(ctx, pkg.ID, minutes, now)
	})
	if err != nil {
		return nil, err
	}

	s.publishPackage(events.EventSessionScheduled, events.PackageEventPayload{
		PackageID:        pkg.ID,
		ClientID:         pkg.ClientID,
		ProviderID:       pkg.ProviderID,
		SessionID:        session.ID,
		RemainingMinutes: pkg.RemainingMinutes - minutes,
		ChangedBy:        "provider",
	})
	return session, nil
}

// PackageUsage sweeps, then projects the package's consumption history.
func (s *BookingService) PackageUsage(ctx context.Context, packageID int64, now time.Time) (*models.PackageUsage, error) {
	if _, err := s.sweeper.Sweep(ctx, now); err != nil {
		return nil, err
	}
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.store.ListPackageSessions(ctx, packageID)
	if err != nil {
		return nil, err
	}
	usage := ProjectUsage(pkg, sessions)
	return &usage, nil
}
