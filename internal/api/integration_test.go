package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"coachbook/internal/config"
	"coachbook/internal/database"
	"coachbook/internal/events"
	"coachbook/internal/models"
	"coachbook/internal/pricing"
	"coachbook/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Full stack over a real sqlite store: account registration, a package
// purchase, two bookings drawn from it and the usage history.
func TestIntegration_PackageFlow(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SeedCatalog(context.Background(),
		[]models.Provider{{ID: 2, Name: "Cash coach", SettlementMode: models.ModeExternal}},
		[]models.Offering{{ID: 20, ProviderID: 2, Title: "Court session", HourlyPrice: 5000, DurationMinutes: 60, IsActive: true,
			Bundles: []models.BundleDefinition{{ID: 200, Hours: 5, TotalPrice: 20000, PlannedSessions: 5, IsActive: true}}}},
		nil,
	))

	calc, err := pricing.NewCalculator(config.PricingConfig{GatewayPercent: "2.9", GatewayFixed: 30, PlatformPercent: "10", ServicePercent: "5", BundleServicePercent: "3"})
	require.NoError(t, err)

	svc := service.NewBookingService(service.Dependencies{
		Store:    db,
		Identity: db,
		Pricing:  calc,
		Events:   events.NewEventBus(),
	}, config.BookingConfig{PendingHold: 15 * time.Minute, MinLeadTime: 24 * time.Hour}, &logger)

	cfg := testAPIConfig()
	srv := NewHTTPServer(cfg, svc, db, &logger)
	current := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	srv.now = func() time.Time { return current }
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	call := func(method, path string, body any) (*http.Response, map[string]any) {
		t.Helper()
		return doAuth(t, method, ts.URL+path, body, "admin-key", "admin-extra")
	}

	resp, _ := call(http.MethodPost, "/api/v1/accounts", models.Account{ID: 7, Name: "Player", CreatedAt: current.Add(-48 * time.Hour)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := call(http.MethodPost, "/api/v1/packages", service.PurchasePackageRequest{ClientID: 7, BundleID: 200})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	pkgID := int64(body["id"].(float64))

	day := time.Date(2026, 5, 7, 0, 0, 0, 0, time.UTC)
	resp, body = call(http.MethodPost, "/api/v1/reservations", service.CreateReservationRequest{
		OfferingID: 20, ProviderID: 2, ClientID: 7, Start: day.Add(14 * time.Hour), End: day.Add(16 * time.Hour), PackageID: &pkgID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "free", body["mode"])
	assert.Equal(t, float64(0), body["gross_price"])

	resp, _ = call(http.MethodPost, fmt.Sprintf("/api/v1/packages/%d/sessions", pkgID), service.ScheduleSessionRequest{
		ProviderID: 2, Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = call(http.MethodPost, "/api/v1/reservations", service.CreateReservationRequest{
		OfferingID: 20, ProviderID: 2, ClientID: 7, Start: day.Add(15 * time.Hour), End: day.Add(17 * time.Hour), PackageID: &pkgID,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "slot_unavailable", body["error"])

	resp, body = call(http.MethodPost, "/api/v1/reservations", service.CreateReservationRequest{
		OfferingID: 20, ProviderID: 2, ClientID: 7, Start: day.Add(18 * time.Hour), End: day.Add(21 * time.Hour), PackageID: &pkgID,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "package_exhausted", body["error"])
	assert.Equal(t, "2", body["details"].(map[string]any)["remaining_hours"])

	resp, body = call(http.MethodGet, fmt.Sprintf("/api/v1/packages/%d/usage", pkgID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, true, first["is_first"])
	assert.Equal(t, "1", first["cumulative_hours_used"])
	assert.Equal(t, "60", entries[1].(map[string]any)["progress_percent"])

	// sweep on read completes the past sessions
	current = day.Add(22 * time.Hour)
	resp, body = call(http.MethodGet, "/api/v1/reservations?client_id=7", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := body["reservations"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "completed", list[0].(map[string]any)["status"])
}

func doAuth(t *testing.T, method, url string, body any, key, extra string) (*http.Response, map[string]any) {
	t.Helper()
	return doWith(t, method, url, body, map[string]string{"x-api-key": key, "x-api-extra": extra})
}
