package service

import (
	"context"
	"time"

	"coachbook/internal/domain"
	"coachbook/internal/events"
	"coachbook/internal/metrics"
	"coachbook/internal/models"

	"github.com/rs/zerolog"
)

type sweepStore interface {
	SweepDuePastBookings(ctx context.Context, now time.Time) (models.SweepResult, error)
}

// Sweeper promotes past-due bookings to completed. It runs before every read
// that depends on status and on a ticker.
type Sweeper struct {
	store    sweepStore
	eventBus domain.EventPublisher
	interval time.Duration
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewSweeper(store sweepStore, eventBus domain.EventPublisher, interval time.Duration, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = models.DefaultSweepInterval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "sweeper").Logger()
	return &Sweeper{
		store:    store,
		eventBus: eventBus,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   &l,
	}
}

// Sweep applies the completion rules as of now.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (models.SweepResult, error) {
	res, err := s.store.SweepDuePastBookings(ctx, now)
	if err != nil {
		return res, err
	}

	metrics.AddSweepTransitions("sessions", res.Sessions)
	metrics.AddSweepTransitions("reservations", res.Reservations)
	metrics.AddSweepTransitions("packages", res.Packages)

	if res.Total() > 0 && s.eventBus != nil {
		if err := s.eventBus.PublishJSON(events.EventSweepCompleted, res); err != nil {
			s.logger.Error().Err(err).Msg("publish sweep event error")
		}
	}
	return res, nil
}

// Start sweeps on every tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	res, err := s.Sweep(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("completion sweep failed")
		return
	}
	if res.Total() > 0 {
		s.logger.Info().
			Int64("sessions", res.Sessions).
			Int64("reservations", res.Reservations).
			Int64("packages", res.Packages).
			Msg("past bookings completed")
	}
}
