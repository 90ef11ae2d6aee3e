package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"coachbook/internal/config"
	"coachbook/internal/database"
	"coachbook/internal/domain"
	"coachbook/internal/events"
	"coachbook/internal/models"
	"coachbook/internal/pricing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// day is three days after baseTime at midnight.
var day = time.Date(2026, 5, 7, 0, 0, 0, 0, time.UTC)

func at(hour float64) time.Time {
	return day.Add(time.Duration(hour * float64(time.Hour)))
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateCheckout(ctx context.Context, r *models.Reservation, title string) (*domain.Checkout, error) {
	args := m.Called(ctx, r, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Checkout), args.Error(1)
}

type mockChannels struct {
	mock.Mock
}

func (m *mockChannels) EnqueueChannel(ctx context.Context, reservationID, providerID, clientID int64) error {
	return m.Called(ctx, reservationID, providerID, clientID).Error(0)
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) CheckRateLimit(ctx context.Context, clientID int64, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, clientID, limit, window)
	return args.Bool(0), args.Error(1)
}

type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) handle(e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

type fixture struct {
	db       *database.DB
	svc      *BookingService
	gateway  *mockGateway
	channels *mockChannels
	events   *recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupWith(t, config.BookingConfig{PendingHold: 15 * time.Minute, MinLeadTime: 24 * time.Hour}, nil)
}

func setupWith(t *testing.T, cfg config.BookingConfig, limiter domain.AttemptLimiter) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "coachbook.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	providers := []models.Provider{
		{ID: 1, Name: "Gateway coach", SettlementMode: models.ModeGateway},
		{ID: 2, Name: "Cash coach", SettlementMode: models.ModeExternal},
	}
	offerings := []models.Offering{
		{ID: 10, ProviderID: 1, Title: "Private lesson", HourlyPrice: 10000, DurationMinutes: 60, IsActive: true,
			Bundles: []models.BundleDefinition{
				{ID: 100, Hours: 5, TotalPrice: 45000, PlannedSessions: 5, IsActive: true},
				{ID: 101, Hours: 10, TotalPrice: 80000, PlannedSessions: 10, IsActive: false},
			}},
		{ID: 20, ProviderID: 2, Title: "Court session", HourlyPrice: 5000, DurationMinutes: 60, IsActive: true,
			Bundles: []models.BundleDefinition{{ID: 200, Hours: 5, TotalPrice: 20000, PlannedSessions: 5, IsActive: true}}},
		{ID: 30, ProviderID: 1, Title: "Intro call", HourlyPrice: 0, DurationMinutes: 30, IsActive: true},
		{ID: 40, ProviderID: 2, Title: "Retired clinic", HourlyPrice: 3000, DurationMinutes: 60, IsActive: false},
	}
	accounts := []models.Account{
		{ID: 7, Name: "Player", CreatedAt: baseTime.Add(-30 * 24 * time.Hour)},
		{ID: 8, Name: "Rival", CreatedAt: baseTime.Add(-30 * 24 * time.Hour)},
		{ID: 9, Name: "Newcomer", CreatedAt: baseTime.Add(-time.Hour)},
	}
	require.NoError(t, db.SeedCatalog(context.Background(), providers, offerings, accounts))

	calc, err := pricing.NewCalculator(config.PricingConfig{
		GatewayPercent:       "2.9",
		GatewayFixed:         30,
		PlatformPercent:      "10",
		ServicePercent:       "5",
		BundleServicePercent: "3",
	})
	require.NoError(t, err)

	gw := &mockGateway{}
	ch := &mockChannels{}
	ch.On("EnqueueChannel", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	rec := &recorder{}
	bus := events.NewEventBus()
	bus.Subscribe(events.AllEvents, rec.handle)

	deps := Dependencies{
		Store:    db,
		Identity: db,
		Pricing:  calc,
		Gateway:  gw,
		Channels: ch,
		Events:   bus,
		Limiter:  limiter,
	}
	return &fixture{
		db:       db,
		svc:      NewBookingService(deps, cfg, &logger),
		gateway:  gw,
		channels: ch,
		events:   rec,
	}
}

func (f *fixture) expectCheckout() {
	f.gateway.On("CreateCheckout", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.Checkout{Ref: "cs_test_1", URL: "https://checkout.example/cs_test_1"}, nil).Maybe()
}

func (f *fixture) book(t *testing.T, offeringID, providerID, clientID int64, start, end time.Time, now time.Time) (*CreateResult, error) {
	t.Helper()
	return f.svc.CreateReservation(context.Background(), CreateReservationRequest{
		OfferingID: offeringID,
		ProviderID: providerID,
		ClientID:   clientID,
		Start:      start,
		End:        end,
	}, now)
}

func ptr(v int64) *int64 {
	return &v
}
