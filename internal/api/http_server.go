package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"coachbook/internal/config"
	"coachbook/internal/metrics"
	"coachbook/internal/models"
	"coachbook/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingService is the engine surface exposed over HTTP.
type BookingService interface {
	CreateReservation(ctx context.Context, req service.CreateReservationRequest, now time.Time) (*service.CreateResult, error)
	GetReservation(ctx context.Context, id int64, now time.Time) (*models.Reservation, error)
	ListReservations(ctx context.Context, filter models.ReservationFilter, now time.Time) ([]*models.Reservation, error)
	CancelReservation(ctx context.Context, id int64, actor string, now time.Time) (*models.Reservation, error)
	MarkSettledExternally(ctx context.Context, id int64, now time.Time) (*models.Reservation, error)
	HandleSettlement(ctx context.Context, id int64, outcome models.SettlementOutcome, now time.Time) (*service.SettlementResult, error)
	PurchasePackage(ctx context.Context, req service.PurchasePackageRequest, now time.Time) (*models.Package, error)
	ScheduleSession(ctx context.Context, req service.ScheduleSessionRequest, now time.Time) (*models.PackageSession, error)
	PackageUsage(ctx context.Context, packageID int64, now time.Time) (*models.PackageUsage, error)
}

// AccountStore mirrors client accounts from the identity system.
type AccountStore interface {
	UpsertAccount(ctx context.Context, account *models.Account) error
}

// HTTPServer exposes the booking engine as a JSON API.
type HTTPServer struct {
	cfg      config.APIConfig
	svc      BookingService
	accounts AccountStore
	auth     *HTTPAuth
	server   *http.Server
	now      func() time.Time
	logger   zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc BookingService, accounts AccountStore, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{
		cfg:      cfg,
		svc:      svc,
		accounts: accounts,
		now:      time.Now,
		logger:   l,
	}
	srv.auth = NewHTTPAuth(&srv.cfg)

	mux := http.NewServeMux()
	srv.routes(mux)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/v1/accounts", s.auth.Require(permWriteAccounts, s.handleUpsertAccount))

	mux.HandleFunc("POST /api/v1/reservations", s.auth.Require(permWriteReservations, s.handleCreateReservation))
	mux.HandleFunc("GET /api/v1/reservations", s.auth.Require(permReadReservations, s.handleListReservations))
	mux.HandleFunc("GET /api/v1/reservations/{id}", s.auth.Require(permReadReservations, s.handleGetReservation))
	mux.HandleFunc("POST /api/v1/reservations/{id}/cancel", s.auth.Require(permWriteReservations, s.handleCancelReservation))
	mux.HandleFunc("POST /api/v1/reservations/{id}/settle-external", s.auth.Require(permWriteReservations, s.handleSettleExternal))

	mux.HandleFunc("POST /api/v1/settlements", s.auth.Require(permWriteSettlements, s.handleSettlement))

	mux.HandleFunc("POST /api/v1/packages", s.auth.Require(permWritePackages, s.handlePurchasePackage))
	mux.HandleFunc("POST /api/v1/packages/{id}/sessions", s.auth.Require(permWritePackages, s.handleScheduleSession))
	mux.HandleFunc("GET /api/v1/packages/{id}/usage", s.auth.Require(permReadPackages, s.handlePackageUsage))
}

// Handler returns the root handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

const requestIDHeader = "X-Request-Id"

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string]any) {
	writeJSON(w, statusCode, errorBody{Error: code, Message: message, Details: details})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
