package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coachbook/internal/database"
	"coachbook/internal/models"
	"coachbook/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBookingService struct {
	mock.Mock
}

func (m *mockBookingService) CreateReservation(ctx context.Context, req service.CreateReservationRequest, now time.Time) (*service.CreateResult, error) {
	args := m.Called(ctx, req, now)
	res, _ := args.Get(0).(*service.CreateResult)
	return res, args.Error(1)
}

func (m *mockBookingService) GetReservation(ctx context.Context, id int64, now time.Time) (*models.Reservation, error) {
	args := m.Called(ctx, id, now)
	res, _ := args.Get(0).(*models.Reservation)
	return res, args.Error(1)
}

func (m *mockBookingService) ListReservations(ctx context.Context, filter models.ReservationFilter, now time.Time) ([]*models.Reservation, error) {
	args := m.Called(ctx, filter, now)
	res, _ := args.Get(0).([]*models.Reservation)
	return res, args.Error(1)
}

func (m *mockBookingService) CancelReservation(ctx context.Context, id int64, actor string, now time.Time) (*models.Reservation, error) {
	args := m.Called(ctx, id, actor, now)
	res, _ := args.Get(0).(*models.Reservation)
	return res, args.Error(1)
}

func (m *mockBookingService) MarkSettledExternally(ctx context.Context, id int64, now time.Time) (*models.Reservation, error) {
	args := m.Called(ctx, id, now)
	res, _ := args.Get(0).(*models.Reservation)
	return res, args.Error(1)
}

func (m *mockBookingService) HandleSettlement(ctx context.Context, id int64, outcome models.SettlementOutcome, now time.Time) (*service.SettlementResult, error) {
	args := m.Called(ctx, id, outcome, now)
	res, _ := args.Get(0).(*service.SettlementResult)
	return res, args.Error(1)
}

func (m *mockBookingService) PurchasePackage(ctx context.Context, req service.PurchasePackageRequest, now time.Time) (*models.Package, error) {
	args := m.Called(ctx, req, now)
	res, _ := args.Get(0).(*models.Package)
	return res, args.Error(1)
}

func (m *mockBookingService) ScheduleSession(ctx context.Context, req service.ScheduleSessionRequest, now time.Time) (*models.PackageSession, error) {
	args := m.Called(ctx, req, now)
	res, _ := args.Get(0).(*models.PackageSession)
	return res, args.Error(1)
}

func (m *mockBookingService) PackageUsage(ctx context.Context, packageID int64, now time.Time) (*models.PackageUsage, error) {
	args := m.Called(ctx, packageID, now)
	res, _ := args.Get(0).(*models.PackageUsage)
	return res, args.Error(1)
}

type mockAccounts struct {
	mock.Mock
}

func (m *mockAccounts) UpsertAccount(ctx context.Context, account *models.Account) error {
	return m.Called(ctx, account).Error(0)
}

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *mockBookingService, *mockAccounts) {
	t.Helper()
	svc := &mockBookingService{}
	accounts := &mockAccounts{}
	cfg := testAPIConfig()
	cfg.Auth.Enabled = false

	srv := NewHTTPServer(cfg, svc, accounts, nil)
	srv.now = func() time.Time { return now }
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, svc, accounts
}

func do(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	return doWith(t, method, url, body, nil)
}

func doWith(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestCreateReservation(t *testing.T) {
	ts, svc, _ := newTestServer(t)

	start := time.Date(2026, 5, 7, 10, 0, 0, 0, time.UTC)
	req := service.CreateReservationRequest{OfferingID: 10, ProviderID: 1, ClientID: 7, Start: start, End: start.Add(time.Hour)}
	svc.On("CreateReservation", mock.Anything, req, now).Return(&service.CreateResult{
		Mode:             models.ModeGateway,
		ReservationID:    5,
		GrossPrice:       10000,
		Status:           models.StatusPending,
		SettlementStatus: models.SettlementPending,
		Fees:             models.FeeBreakdown{ProviderNet: 8180, GatewayFee: 320, PlatformFee: 1000, ServiceFee: 500},
		CheckoutURL:      "https://checkout.example/cs_1",
	}, nil).Once()

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/reservations", req)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "gateway", body["mode"])
	assert.Equal(t, float64(5), body["reservation_id"])
	assert.Equal(t, "https://checkout.example/cs_1", body["checkout_url"])
	svc.AssertExpectations(t)

	t.Run("UnknownField", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/reservations", `{"offering":1}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validation_failed", body["error"])
	})
}

func TestCreateReservation_ErrorMapping(t *testing.T) {
	start := time.Date(2026, 5, 7, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantDetail map[string]any
	}{
		{"Validation", &service.ValidationError{Field: "end", Reason: "must be after start"}, http.StatusBadRequest, "validation_failed",
			map[string]any{"field": "end", "reason": "must be after start"}},
		{"LeadTime", &service.LeadTimeError{EarliestStart: start}, http.StatusUnprocessableEntity, "lead_time_violation",
			map[string]any{"earliest_start": "2026-05-07T10:00:00Z"}},
		{"Slot", &service.SlotError{ProviderID: 1, Start: start, End: start.Add(time.Hour)}, http.StatusConflict, "slot_unavailable",
			map[string]any{"provider_id": float64(1), "start": "2026-05-07T10:00:00Z", "end": "2026-05-07T11:00:00Z"}},
		{"Exhausted", &service.ExhaustedError{PackageID: 3, RequestedHours: decimal.NewFromInt(2), RemainingHours: decimal.NewFromFloat(1.5)},
			http.StatusConflict, "package_exhausted",
			map[string]any{"package_id": float64(3), "requested_hours": "2", "remaining_hours": "1.5"}},
		{"NotOwned", fmt.Errorf("check: %w", database.ErrPackageNotOwned), http.StatusForbidden, "package_not_owned", nil},
		{"Offering", service.ErrOfferingUnavailable, http.StatusUnprocessableEntity, "offering_unavailable", nil},
		{"Bundle", service.ErrBundleUnavailable, http.StatusUnprocessableEntity, "bundle_unavailable", nil},
		{"Dependency", fmt.Errorf("%w: checkout", service.ErrDependencyUnavailable), http.StatusServiceUnavailable, "dependency_unavailable", nil},
		{"Throttled", service.ErrThrottled, http.StatusTooManyRequests, "throttled", nil},
		{"Internal", errors.New("disk full"), http.StatusInternalServerError, "internal", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, svc, _ := newTestServer(t)
			svc.On("CreateReservation", mock.Anything, mock.Anything, now).Return(nil, tt.err).Once()

			resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/reservations", service.CreateReservationRequest{OfferingID: 1})
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, body["error"])
			if tt.wantDetail != nil {
				assert.Equal(t, tt.wantDetail, body["details"])
			}
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["message"], "internal detail is not leaked")
			}
		})
	}
}

func TestListReservations(t *testing.T) {
	ts, svc, _ := newTestServer(t)

	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.On("ListReservations", mock.Anything, models.ReservationFilter{
		ClientID: 7, ProviderID: 2, Status: models.StatusConfirmed, From: from,
	}, now).Return([]*models.Reservation{{ID: 1}, {ID: 2}}, nil).Once()

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/reservations?client_id=7&provider_id=2&status=confirmed&from=2026-05-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["reservations"], 2)
	svc.AssertExpectations(t)

	for _, q := range []string{"client_id=x", "status=archived", "from=yesterday", "to=2026-05"} {
		t.Run(q, func(t *testing.T) {
			resp, _ := do(t, http.MethodGet, ts.URL+"/api/v1/reservations?"+q, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	t.Run("EmptyListIsArray", func(t *testing.T) {
		svc.On("ListReservations", mock.Anything, models.ReservationFilter{ClientID: 99}, now).Return(nil, nil).Once()
		resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/reservations?client_id=99", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []any{}, body["reservations"])
	})
}

func TestReservationByID(t *testing.T) {
	ts, svc, _ := newTestServer(t)

	svc.On("GetReservation", mock.Anything, int64(5), now).Return(&models.Reservation{ID: 5, Status: models.StatusConfirmed}, nil).Once()
	svc.On("GetReservation", mock.Anything, int64(6), now).Return(nil, database.ErrReservationNotFound).Once()
	svc.On("CancelReservation", mock.Anything, int64(5), "provider", now).Return(&models.Reservation{ID: 5, Status: models.StatusCancelled}, nil).Once()
	svc.On("CancelReservation", mock.Anything, int64(7), "api", now).Return(nil, service.ErrInvalidTransition).Once()
	svc.On("MarkSettledExternally", mock.Anything, int64(5), now).Return(&models.Reservation{ID: 5, SettlementStatus: models.SettlementExternal}, nil).Once()

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/reservations/5", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", body["status"])

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/reservations/6", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/reservations/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodPost, ts.URL+"/api/v1/reservations/5/cancel", map[string]string{"actor": "provider"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	resp, body = do(t, http.MethodPost, ts.URL+"/api/v1/reservations/7/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", body["error"])

	resp, body = do(t, http.MethodPost, ts.URL+"/api/v1/reservations/5/settle-external", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "settled_externally", body["settlement_status"])

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/v1/reservations/5", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	svc.AssertExpectations(t)
}

func TestSettlementCallback(t *testing.T) {
	ts, svc, _ := newTestServer(t)

	confirmed := &models.Reservation{ID: 5, Status: models.StatusConfirmed, SettlementStatus: models.SettlementByGateway}
	failed := &models.Reservation{ID: 6, Status: models.StatusCancelled, SettlementStatus: models.SettlementFailed}

	svc.On("HandleSettlement", mock.Anything, int64(5), models.OutcomeSuccess, now).
		Return(&service.SettlementResult{Reservation: confirmed, Changed: true}, nil).Once()
	svc.On("HandleSettlement", mock.Anything, int64(6), models.OutcomeFailure, now).
		Return(&service.SettlementResult{Reservation: failed, Changed: true}, fmt.Errorf("%w: reservation 6", service.ErrSettlementRejected)).Once()
	svc.On("HandleSettlement", mock.Anything, int64(7), models.OutcomeSuccess, now).
		Return(nil, service.ErrInvalidTransition).Once()

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/settlements", settlementRequest{ReservationID: 5, Outcome: models.OutcomeSuccess})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, false, body["rejected"])

	resp, body = do(t, http.MethodPost, ts.URL+"/api/v1/settlements", settlementRequest{ReservationID: 6, Outcome: models.OutcomeFailure})
	assert.Equal(t, http.StatusOK, resp.StatusCode, "failed payments are acknowledged")
	assert.Equal(t, true, body["rejected"])
	assert.Equal(t, "failed", body["reservation"].(map[string]any)["settlement_status"])

	resp, body = do(t, http.MethodPost, ts.URL+"/api/v1/settlements", settlementRequest{ReservationID: 7, Outcome: models.OutcomeSuccess})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", body["error"])

	svc.AssertExpectations(t)
}

func TestPackages(t *testing.T) {
	ts, svc, _ := newTestServer(t)
	start := time.Date(2026, 5, 7, 10, 0, 0, 0, time.UTC)

	svc.On("PurchasePackage", mock.Anything, service.PurchasePackageRequest{ClientID: 7, BundleID: 200}, now).
		Return(&models.Package{ID: 3, TotalMinutes: 300, RemainingMinutes: 300}, nil).Once()
	svc.On("ScheduleSession", mock.Anything, service.ScheduleSessionRequest{ProviderID: 2, PackageID: 3, Start: start, End: start.Add(time.Hour)}, now).
		Return(&models.PackageSession{ID: 11, PackageID: 3, DurationMinutes: 60}, nil).Once()
	svc.On("PackageUsage", mock.Anything, int64(3), now).
		Return(&models.PackageUsage{TotalHours: decimal.NewFromInt(5), RemainingHours: decimal.NewFromInt(4)}, nil).Once()
	svc.On("PackageUsage", mock.Anything, int64(4), now).Return(nil, database.ErrPackageNotFound).Once()

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/packages", service.PurchasePackageRequest{ClientID: 7, BundleID: 200})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(3), body["id"])

	// the path id wins over the body
	resp, body = do(t, http.MethodPost, ts.URL+"/api/v1/packages/3/sessions",
		service.ScheduleSessionRequest{ProviderID: 2, PackageID: 99, Start: start, End: start.Add(time.Hour)})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(11), body["id"])

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/packages/3/usage", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "4", body["remaining_hours"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/packages/4/usage", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	svc.AssertExpectations(t)
}

func TestUpsertAccount(t *testing.T) {
	ts, _, accounts := newTestServer(t)
	created := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	accounts.On("UpsertAccount", mock.Anything, &models.Account{ID: 7, Name: "Player", CreatedAt: created}).Return(nil).Once()

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/accounts", models.Account{ID: 7, Name: "Player", CreatedAt: created})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Player", body["name"])

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/accounts", models.Account{Name: "Nobody"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	accounts.AssertExpectations(t)
}

func TestRoutesRequireAuth(t *testing.T) {
	svc := &mockBookingService{}
	srv := NewHTTPServer(testAPIConfig(), svc, &mockAccounts{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/reservations/1", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["error"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
