package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"coachbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverAttemptLimiter uses the primary limiter until it fails, then the
// fallback, retrying the primary once per recovery interval.
type FailoverAttemptLimiter struct {
	primary  domain.AttemptLimiter
	fallback domain.AttemptLimiter
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverAttemptLimiter(primary, fallback domain.AttemptLimiter, logger *zerolog.Logger) *FailoverAttemptLimiter {
	return &FailoverAttemptLimiter{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverAttemptLimiter) CheckRateLimit(ctx context.Context, clientID int64, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() || r.recoveryDue() {
		allowed, err := r.primary.CheckRateLimit(ctx, clientID, limit, window)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary attempt limiter recovered")
			}
			return allowed, nil
		}
		if !r.isDown.Swap(true) {
			r.logger.Error().Err(err).Msg("Primary attempt limiter failed, falling back to memory")
		}
		r.markChecked()
	}

	return r.fallback.CheckRateLimit(ctx, clientID, limit, window)
}

func (r *FailoverAttemptLimiter) recoveryDue() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Sub(r.lastCheck) > recoveryInterval
}

func (r *FailoverAttemptLimiter) markChecked() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCheck = r.now()
}

// Down reports whether the fallback is currently in use.
func (r *FailoverAttemptLimiter) Down() bool {
	return r.isDown.Load()
}
