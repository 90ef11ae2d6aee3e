package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coachbook/internal/config"
	"coachbook/internal/database"
	"coachbook/internal/domain"
	"coachbook/internal/events"
	"coachbook/internal/metrics"
	"coachbook/internal/models"
	"coachbook/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Dependencies are the collaborators of the booking engine. Gateway, Channels,
// Events and Limiter are optional.
type Dependencies struct {
	Store    domain.Store
	Identity domain.IdentityProvider
	Pricing  domain.PricingCalculator
	Gateway  domain.CheckoutGateway
	Channels domain.ChannelQueue
	Events   domain.EventPublisher
	Limiter  domain.AttemptLimiter
}

type BookingService struct {
	store    domain.Store
	identity domain.IdentityProvider
	pricing  domain.PricingCalculator
	gateway  domain.CheckoutGateway
	channels domain.ChannelQueue
	eventBus domain.EventPublisher
	limiter  domain.AttemptLimiter
	sweeper  *Sweeper

	pendingHold   time.Duration
	minLeadTime   time.Duration
	attemptLimit  int
	attemptWindow time.Duration

	logger *zerolog.Logger
}

func NewBookingService(deps Dependencies, cfg config.BookingConfig, logger *zerolog.Logger) *BookingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.PendingHold <= 0 {
		cfg.PendingHold = models.DefaultPendingHold
	}
	if cfg.MinLeadTime < 0 {
		cfg.MinLeadTime = models.DefaultMinLeadTime
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = models.DefaultBookingAttemptWindow
	}

	return &BookingService{
		store:         deps.Store,
		identity:      deps.Identity,
		pricing:       deps.Pricing,
		gateway:       deps.Gateway,
		channels:      deps.Channels,
		eventBus:      deps.Events,
		limiter:       deps.Limiter,
		sweeper:       NewSweeper(deps.Store, deps.Events, cfg.SweepInterval, logger),
		pendingHold:   cfg.PendingHold,
		minLeadTime:   cfg.MinLeadTime,
		attemptLimit:  cfg.AttemptLimit,
		attemptWindow: cfg.AttemptWindow,
		logger:        logger,
	}
}

// Sweeper returns the completion sweeper used on every read path.
func (s *BookingService) Sweeper() *Sweeper {
	return s.sweeper
}

// CreateReservationRequest books [Start, End) with a provider. At most one of
// PackageID (consume an owned package) or BundleID (buy a bundle and book its
// first session) may be set.
type CreateReservationRequest struct {
	OfferingID int64     `json:"offering_id"`
	ProviderID int64     `json:"provider_id"`
	ClientID   int64     `json:"client_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	PackageID  *int64    `json:"package_id,omitempty"`
	BundleID   *int64    `json:"bundle_id,omitempty"`
}

// CreateResult is what the engine emits on every successful creation.
type CreateResult struct {
	Mode             models.SettlementMode    `json:"mode"`
	ReservationID    int64                    `json:"reservation_id"`
	Reference        string                   `json:"reference"`
	GrossPrice       int64                    `json:"gross_price"`
	Status           models.ReservationStatus `json:"status"`
	SettlementStatus models.SettlementStatus  `json:"settlement_status"`
	Fees             models.FeeBreakdown      `json:"fees"`
	Start            time.Time                `json:"start"`
	End              time.Time                `json:"end"`
	CheckoutURL      string                   `json:"checkout_url,omitempty"`
	PackageID        *int64                   `json:"package_id,omitempty"`
	SessionID        *int64                   `json:"session_id,omitempty"`
}

// quote is everything decided before the transaction starts.
type quote struct {
	offering    *models.Offering
	bundle      *models.BundleDefinition
	minutes     int64
	gross       int64
	bundleHours int64
	mode        models.SettlementMode
	fees        models.FeeBreakdown
	status      models.ReservationStatus
	settlement  models.SettlementStatus

	// bundleErr is reported only after the slot check, keeping the rejection order.
	bundleErr error
}

// CreateReservation runs the ordered precondition checks, then persists the
// reservation and any ledger change in one transaction. Gateway checkout
// happens after that transaction commits.
func (s *BookingService) CreateReservation(ctx context.Context, req CreateReservationRequest, now time.Time) (*CreateResult, error) {
	if err := validateRequest(req, now); err != nil {
		return nil, err
	}
	if err := s.checkAttempts(ctx, req.ClientID); err != nil {
		return nil, err
	}

	q, err := s.prepareQuote(ctx, req, now)
	if err != nil {
		return nil, err
	}

	r := &models.Reservation{
		Reference:        uuid.NewString(),
		ProviderID:       req.ProviderID,
		ClientID:         req.ClientID,
		OfferingID:       req.OfferingID,
		Start:            req.Start,
		End:              req.End,
		GrossPrice:       q.gross,
		Status:           q.status,
		SettlementStatus: q.settlement,
		SettlementMode:   q.mode,
		Fees:             q.fees,
		HoldUntil:        now.Add(s.pendingHold),
		CreatedAt:        now,
	}

	err = s.store.InTx(ctx, func(tx domain.StoreTx) error {
		free, err := tx.IsFree(ctx, req.ProviderID, req.Start, req.End, now)
		if err != nil {
			return err
		}
		if !free {
			return &SlotError{ProviderID: req.ProviderID, Start: req.Start, End: req.End}
		}
		if q.bundleErr != nil {
			return q.bundleErr
		}

		if req.PackageID != nil {
			if err := s.checkPackage(ctx, tx, req, q.minutes); err != nil {
				return err
			}
		}

		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}

		switch {
		case req.PackageID != nil:
			return s.consumePackage(ctx, tx, r, *req.PackageID, q.minutes, now)
		case q.bundle != nil:
			return s.openBundle(ctx, tx, r, q, now)
		}
		return nil
	})
	if err != nil {
		return nil, s.creationError(ctx, err, req, q.minutes)
	}

	// the gateway round-trip runs outside the write lock; the pending hold
	// already keeps the slot
	var checkout *domain.Checkout
	if r.Status == models.StatusPending {
		checkout, err = s.startCheckout(ctx, r, q.offering.Title, now)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Int64("reservation_id", r.ID).
		Int64("provider_id", r.ProviderID).
		Int64("client_id", r.ClientID).
		Str("mode", string(r.SettlementMode)).
		Int64("gross_price", r.GrossPrice).
		Msg("reservation created")

	metrics.IncReservationCreated(string(r.SettlementMode))
	s.publishReservation(events.EventReservationCreated, r, "client", "")
	if r.Status == models.StatusConfirmed {
		s.requestChannel(ctx, r)
	}

	res := &CreateResult{
		Mode:             r.SettlementMode,
		ReservationID:    r.ID,
		Reference:        r.Reference,
		GrossPrice:       r.GrossPrice,
		Status:           r.Status,
		SettlementStatus: r.SettlementStatus,
		Fees:             r.Fees,
		Start:            r.Start,
		End:              r.End,
		PackageID:        r.PackageID,
		SessionID:        r.SessionID,
	}
	if checkout != nil {
		res.CheckoutURL = checkout.URL
	}
	return res, nil
}

func validateRequest(req CreateReservationRequest, now time.Time) error {
	switch {
	case req.OfferingID <= 0:
		return invalid("offering_id", "is required")
	case req.ProviderID <= 0:
		return invalid("provider_id", "is required")
	case req.ClientID <= 0:
		return invalid("client_id", "is required")
	case req.PackageID != nil && req.BundleID != nil:
		return invalid("package_id", "cannot be combined with bundle_id")
	}
	return validateInterval(req.Start, req.End, now)
}

func validateInterval(start, end, now time.Time) error {
	switch {
	case start.IsZero() || end.IsZero():
		return invalid("start", "start and end are required")
	case !end.After(start):
		return invalid("end", "must be after start")
	case end.Sub(start)%time.Minute != 0:
		return invalid("end", "interval must be whole minutes")
	case start.Before(now):
		return invalid("start", "must not be in the past")
	}
	return nil
}

func (s *BookingService) checkAttempts(ctx context.Context, clientID int64) error {
	if s.limiter == nil || s.attemptLimit <= 0 {
		return nil
	}
	allowed, err := s.limiter.CheckRateLimit(ctx, clientID, s.attemptLimit, s.attemptWindow)
	if err != nil {
		// throttling is best effort
		s.logger.Warn().Err(err).Int64("client_id", clientID).Msg("booking attempt limiter failed")
		return nil
	}
	if !allowed {
		return ErrThrottled
	}
	return nil
}

// prepareQuote runs the read-only preconditions: offering and provider, lead
// time, bundle definition, then prices the request.
func (s *BookingService) prepareQuote(ctx context.Context, req CreateReservationRequest, now time.Time) (*quote, error) {
	offering, err := s.store.GetOffering(ctx, req.OfferingID)
	if err != nil {
		if errors.Is(err, database.ErrOfferingNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrOfferingUnavailable, err)
		}
		return nil, err
	}
	if offering.ProviderID != req.ProviderID {
		return nil, fmt.Errorf("%w: offering %d does not belong to provider %d", ErrOfferingUnavailable, offering.ID, req.ProviderID)
	}
	if !offering.IsActive {
		return nil, fmt.Errorf("%w: offering %d is not active", ErrOfferingUnavailable, offering.ID)
	}

	provider, err := s.store.GetProvider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}

	if err := s.checkLeadTime(ctx, req.ClientID, req.Start); err != nil {
		return nil, err
	}

	q := &quote{offering: offering, minutes: models.IntervalMinutes(req.Start, req.End)}

	switch {
	case req.PackageID != nil:
		// already paid for when the package was bought
		q.gross = 0
	case req.BundleID != nil:
		bundle, err := s.bundleFor(ctx, *req.BundleID, offering)
		if err == nil && q.minutes > bundle.TotalMinutes() {
			err = &ExhaustedError{
				RequestedHours: models.HoursFromMinutes(q.minutes),
				RemainingHours: models.HoursFromMinutes(bundle.TotalMinutes()),
			}
		}
		if err != nil {
			q.bundleErr = err
			return q, nil
		}
		q.bundle = bundle
		q.bundleHours = bundle.Hours
		q.gross = bundle.TotalPrice
	default:
		q.gross = pricing.SessionPrice(offering.HourlyPrice, q.minutes)
	}

	q.mode = provider.SettlementMode
	if q.gross == 0 {
		q.mode = models.ModeFree
	}

	q.status, q.settlement, err = initialState(q.mode)
	if err != nil {
		return nil, err
	}

	q.fees, err = s.pricing.Compute(q.gross, q.mode, q.bundleHours)
	if err != nil {
		return nil, fmt.Errorf("%w: pricing: %v", ErrDependencyUnavailable, err)
	}
	if q.fees.Total() != q.gross {
		return nil, fmt.Errorf("%w: pricing returned parts summing to %d for gross %d", ErrDependencyUnavailable, q.fees.Total(), q.gross)
	}
	return q, nil
}

// initialState is the single branch on settlement mode. Every mode must
// produce a terminal case here.
func initialState(mode models.SettlementMode) (models.ReservationStatus, models.SettlementStatus, error) {
	switch mode {
	case models.ModeFree:
		return models.StatusConfirmed, models.SettlementFree, nil
	case models.ModeExternal:
		return models.StatusConfirmed, models.SettlementPending, nil
	case models.ModeGateway:
		return models.StatusPending, models.SettlementPending, nil
	}
	return "", "", fmt.Errorf("%w: unknown settlement mode %q", ErrValidation, mode)
}

func (s *BookingService) checkLeadTime(ctx context.Context, clientID int64, start time.Time) error {
	account, err := s.identity.GetAccount(ctx, clientID)
	if err != nil {
		if errors.Is(err, database.ErrAccountNotFound) {
			return invalid("client_id", "unknown account")
		}
		return fmt.Errorf("%w: identity: %v", ErrDependencyUnavailable, err)
	}
	earliest := account.CreatedAt.Add(s.minLeadTime)
	if start.Before(earliest) {
		return &LeadTimeError{EarliestStart: earliest}
	}
	return nil
}

func (s *BookingService) bundleFor(ctx context.Context, bundleID int64, offering *models.Offering) (*models.BundleDefinition, error) {
	bundle, err := s.store.GetBundle(ctx, bundleID)
	if err != nil {
		if errors.Is(err, database.ErrBundleNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrBundleUnavailable, err)
		}
		return nil, err
	}
	if bundle.OfferingID != offering.ID {
		return nil, fmt.Errorf("%w: bundle %d belongs to another offering", ErrBundleUnavailable, bundle.ID)
	}
	if !bundle.IsActive {
		return nil, fmt.Errorf("%w: bundle %d is not active", ErrBundleUnavailable, bundle.ID)
	}
	return bundle, nil
}

func (s *BookingService) checkPackage(ctx context.Context, tx domain.StoreTx, req CreateReservationRequest, minutes int64) error {
	pkg, err := tx.ValidatePackage(ctx, *req.PackageID, req.ClientID, minutes)
	if err != nil {
		if errors.Is(err, database.ErrPackageExhausted) && pkg != nil {
			return &ExhaustedError{
				PackageID:      pkg.ID,
				RequestedHours: models.HoursFromMinutes(minutes),
				RemainingHours: pkg.RemainingHours(),
			}
		}
		return err
	}
	if pkg.ProviderID != req.ProviderID || pkg.OfferingID != req.OfferingID {
		return invalid("package_id", "package was bought for another offering")
	}
	return nil
}

func (s *BookingService) consumePackage(ctx context.Context, tx domain.StoreTx, r *models.Reservation, packageID, minutes int64, now time.Time) error {
	session := &models.PackageSession{
		PackageID:       packageID,
		Start:           r.Start,
		End:             r.End,
		DurationMinutes: minutes,
		CreatedAt:       now,
	}
	if err := tx.InsertSession(ctx, session); err != nil {
		return err
	}
	if err := tx.DebitPackage(ctx, packageID, minutes, now); err != nil {
		return err
	}
	if err := tx.LinkSession(ctx, r.ID, session.ID); err != nil {
		return err
	}
	r.PackageID = &packageID
	r.SessionID = &session.ID
	return nil
}

// openBundle opens the purchased package with the first session already
// deducted. A package paid through the gateway stays unusable until the payment
// settles.
func (s *BookingService) openBundle(ctx context.Context, tx domain.StoreTx, r *models.Reservation, q *quote, now time.Time) error {
	bundleID := q.bundle.ID
	fundingID := r.ID
	pkg := &models.Package{
		ClientID:             r.ClientID,
		ProviderID:           r.ProviderID,
		OfferingID:           r.OfferingID,
		BundleID:             &bundleID,
		FundingReservationID: &fundingID,
		TotalMinutes:         q.bundle.TotalMinutes(),
		SessionsPlanned:      q.bundle.PlannedSessions,
		GrossPrice:           q.gross,
		Fees:                 q.fees,
		SettlementMode:       q.mode,
		CreatedAt:            now,
	}
	if r.Status == models.StatusPending {
		pkg.Status = models.PackagePendingFunding
	}
	if err := tx.OpenPackage(ctx, pkg, q.minutes); err != nil {
		return err
	}

	session := &models.PackageSession{
		PackageID:       pkg.ID,
		Start:           r.Start,
		End:             r.End,
		DurationMinutes: q.minutes,
		CreatedAt:       now,
	}
	if err := tx.InsertSession(ctx, session); err != nil {
		return err
	}
	if err := tx.LinkSession(ctx, r.ID, session.ID); err != nil {
		return err
	}
	r.PackageID = &pkg.ID
	r.SessionID = &session.ID
	return nil
}

// startCheckout opens a gateway checkout for a committed pending reservation
// and records its reference. When either step fails the reservation is
// cancelled and any package it opened is voided.
func (s *BookingService) startCheckout(ctx context.Context, r *models.Reservation, title string, now time.Time) (*domain.Checkout, error) {
	checkout, err := s.createCheckout(ctx, r, title)
	if err == nil {
		err = s.store.InTx(ctx, func(tx domain.StoreTx) error {
			return tx.SetCheckoutRef(ctx, r.ID, checkout.Ref)
		})
	}
	if err == nil {
		return checkout, nil
	}

	if abortErr := s.abortReservation(ctx, r.ID, now); abortErr != nil {
		s.logger.Error().Err(abortErr).Int64("reservation_id", r.ID).Msg("failed to abort reservation after checkout error")
	}
	return nil, err
}

func (s *BookingService) createCheckout(ctx context.Context, r *models.Reservation, title string) (*domain.Checkout, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("%w: payment gateway is not configured", ErrDependencyUnavailable)
	}
	checkout, err := s.gateway.CreateCheckout(ctx, r, title)
	if err != nil {
		return nil, fmt.Errorf("%w: gateway: %v", ErrDependencyUnavailable, err)
	}
	return checkout, nil
}

// abortReservation cancels a pending reservation that never reached the
// gateway. It runs on a context detached from the caller so a cancelled request
// still releases the slot.
func (s *BookingService) abortReservation(ctx context.Context, reservationID int64, now time.Time) error {
	ctx = context.WithoutCancel(ctx)
	return s.store.InTx(ctx, func(tx domain.StoreTx) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != models.StatusPending {
			return nil
		}
		if err := tx.TransitionReservation(ctx, r.ID, r.Version, models.StatusCancelled, models.SettlementFailed, now); err != nil {
			return err
		}
		_, err = s.releaseHours(ctx, tx, r, true, now)
		return err
	})
}

// creationError attaches remedy detail to storage rejections that surfaced
// without it, such as the overlap trigger or the ledger CAS.
func (s *BookingService) creationError(ctx context.Context, err error, req CreateReservationRequest, minutes int64) error {
	var slotErr *SlotError
	var exhaustedErr *ExhaustedError
	switch {
	case errors.Is(err, database.ErrSlotUnavailable) && !errors.As(err, &slotErr):
		return &SlotError{ProviderID: req.ProviderID, Start: req.Start, End: req.End}
	case errors.Is(err, database.ErrPackageExhausted) && !errors.As(err, &exhaustedErr):
		e := &ExhaustedError{RequestedHours: models.HoursFromMinutes(minutes)}
		if req.PackageID != nil {
			e.PackageID = *req.PackageID
			if pkg, getErr := s.store.GetPackage(ctx, *req.PackageID); getErr == nil {
				e.RemainingHours = pkg.RemainingHours()
			}
		}
		return e
	}
	return err
}

// GetReservation sweeps, then returns the reservation.
func (s *BookingService) GetReservation(ctx context.Context, id int64, now time.Time) (*models.Reservation, error) {
	if _, err := s.sweeper.Sweep(ctx, now); err != nil {
		return nil, err
	}
	return s.store.GetReservation(ctx, id)
}

// ListReservations sweeps, then lists reservations matching filter.
func (s *BookingService) ListReservations(ctx context.Context, filter models.ReservationFilter, now time.Time) ([]*models.Reservation, error) {
	if _, err := s.sweeper.Sweep(ctx, now); err != nil {
		return nil, err
	}
	return s.store.ListReservations(ctx, filter)
}

func (s *BookingService) publishReservation(eventType string, r *models.Reservation, changedBy, reason string) {
	if s.eventBus == nil {
		return
	}
	payload := events.NewReservationPayload(r, changedBy, reason)
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("reservation_id", r.ID).Msg("publish event error")
	}
}

func (s *BookingService) publishPackage(eventType string, payload events.PackageEventPayload) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("package_id", payload.PackageID).Msg("publish event error")
	}
}

// requestChannel asks for a chat channel for a confirmed reservation. Failures
// are logged and never reach the caller.
func (s *BookingService) requestChannel(ctx context.Context, r *models.Reservation) {
	if s.channels == nil {
		return
	}
	if err := s.channels.EnqueueChannel(ctx, r.ID, r.ProviderID, r.ClientID); err != nil {
		s.logger.Error().Err(err).
			Int64("reservation_id", r.ID).
			Int64("provider_id", r.ProviderID).
			Int64("client_id", r.ClientID).
			Msg("channel enqueue error")
	}
}
