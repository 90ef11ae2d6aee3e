package service

import (
	"context"
	"errors"
	"testing"

	"coachbook/internal/database"
	"coachbook/internal/events"
	"coachbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchasePackage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pkg, err := f.svc.PurchasePackage(ctx, PurchasePackageRequest{ClientID: 7, BundleID: 200}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(300), pkg.TotalMinutes)
	assert.Equal(t, int64(300), pkg.RemainingMinutes)
	assert.Equal(t, models.PackageActive, pkg.Status)
	assert.Equal(t, 5, pkg.SessionsPlanned)
	assert.Equal(t, models.ModeExternal, pkg.SettlementMode)
	assert.Equal(t, models.FeeBreakdown{ProviderNet: 20000}, pkg.Fees)
	assert.Nil(t, pkg.FundingReservationID)
	assert.Contains(t, f.events.seen(), events.EventPackageOpened)

	tests := []struct {
		name    string
		req     PurchasePackageRequest
		wantErr error
	}{
		{"gateway bundle", PurchasePackageRequest{ClientID: 7, BundleID: 100}, ErrValidation},
		{"inactive bundle", PurchasePackageRequest{ClientID: 7, BundleID: 101}, ErrBundleUnavailable},
		{"unknown bundle", PurchasePackageRequest{ClientID: 7, BundleID: 999}, ErrBundleUnavailable},
		{"unknown account", PurchasePackageRequest{ClientID: 99, BundleID: 200}, ErrValidation},
		{"missing bundle", PurchasePackageRequest{ClientID: 7}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PurchasePackage(ctx, tt.req, baseTime)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestScheduleSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pkg, err := f.svc.PurchasePackage(ctx, PurchasePackageRequest{ClientID: 7, BundleID: 200}, baseTime)
	require.NoError(t, err)

	session, err := f.svc.ScheduleSession(ctx, ScheduleSessionRequest{ProviderID: 2, PackageID: pkg.ID, Start: at(10), End: at(12)}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(120), session.DurationMinutes)
	assert.Nil(t, session.ReservationID)
	assert.Contains(t, f.events.seen(), events.EventSessionScheduled)

	got, err := f.db.GetPackage(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(180), got.RemainingMinutes)

	t.Run("LedgerOnlySessionBlocksBookings", func(t *testing.T) {
		_, err := f.book(t, 20, 2, 8, at(11), at(12), baseTime)
		assert.ErrorIs(t, err, database.ErrSlotUnavailable)
	})

	t.Run("OtherProvider", func(t *testing.T) {
		_, err := f.svc.ScheduleSession(ctx, ScheduleSessionRequest{ProviderID: 1, PackageID: pkg.ID, Start: at(14), End: at(15)}, baseTime)
		assert.ErrorIs(t, err, database.ErrPackageNotOwned)
	})

	t.Run("SlotTaken", func(t *testing.T) {
		_, err := f.svc.ScheduleSession(ctx, ScheduleSessionRequest{ProviderID: 2, PackageID: pkg.ID, Start: at(11), End: at(13)}, baseTime)
		var slotErr *SlotError
		assert.True(t, errors.As(err, &slotErr))
	})

	t.Run("Exhausted", func(t *testing.T) {
		_, err := f.svc.ScheduleSession(ctx, ScheduleSessionRequest{ProviderID: 2, PackageID: pkg.ID, Start: at(14), End: at(18)}, baseTime)
		var exhausted *ExhaustedError
		require.True(t, errors.As(err, &exhausted))
		assert.Equal(t, "3", exhausted.RemainingHours.String())
	})

	t.Run("UnknownPackage", func(t *testing.T) {
		_, err := f.svc.ScheduleSession(ctx, ScheduleSessionRequest{ProviderID: 2, PackageID: 999, Start: at(14), End: at(15)}, baseTime)
		assert.ErrorIs(t, err, database.ErrPackageNotFound)
	})

	t.Run("InvalidInterval", func(t *testing.T) {
		_, err := f.svc.ScheduleSession(ctx, ScheduleSessionRequest{ProviderID: 2, PackageID: pkg.ID, Start: at(15), End: at(14)}, baseTime)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestPackageUsage_OutOfOrderScheduling(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pkg, err := f.svc.PurchasePackage(ctx, PurchasePackageRequest{ClientID: 7, BundleID: 200}, baseTime)
	require.NoError(t, err)

	// the third session on the calendar is scheduled first
	_, err = f.svc.ScheduleSession(ctx, ScheduleSessionRequest{ProviderID: 2, PackageID: pkg.ID, Start: at(16), End: at(17)}, baseTime)
	require.NoError(t, err)
	_, err = f.svc.CreateReservation(ctx, CreateReservationRequest{
		OfferingID: 20, ProviderID: 2, ClientID: 7, Start: at(10), End: at(11.5), PackageID: &pkg.ID,
	}, baseTime)
	require.NoError(t, err)
	_, err = f.svc.ScheduleSession(ctx, ScheduleSessionRequest{ProviderID: 2, PackageID: pkg.ID, Start: at(13), End: at(13.5)}, baseTime)
	require.NoError(t, err)

	usage, err := f.svc.PackageUsage(ctx, pkg.ID, baseTime)
	require.NoError(t, err)
	require.Len(t, usage.Entries, 3)

	assert.True(t, usage.Entries[0].Start.Equal(at(10)))
	assert.True(t, usage.Entries[0].IsFirst)
	assert.NotNil(t, usage.Entries[0].ReservationID)
	assert.Equal(t, "1.5", usage.Entries[0].CumulativeHoursUsed.String())
	assert.Equal(t, "2", usage.Entries[1].CumulativeHoursUsed.String())
	assert.Equal(t, "0.5", usage.Entries[1].SessionDurationHours.String())
	assert.Equal(t, 3, usage.Entries[2].SequenceNumber)
	assert.Equal(t, "3", usage.Entries[2].CumulativeHoursUsed.String())
	assert.Equal(t, "60", usage.Entries[2].ProgressPercent.String())
	assert.Equal(t, "2", usage.RemainingHours.String())

	// after the sessions take place the sweep completes them and the package counter follows
	later, err := f.svc.PackageUsage(ctx, pkg.ID, at(20))
	require.NoError(t, err)
	assert.Equal(t, 3, later.Package.SessionsCompleted)
	for _, e := range later.Entries {
		assert.Equal(t, models.SessionCompleted, e.Status)
	}

	_, err = f.svc.PackageUsage(ctx, 999, baseTime)
	assert.ErrorIs(t, err, database.ErrPackageNotFound)
}
