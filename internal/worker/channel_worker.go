package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"coachbook/internal/database"
	"coachbook/internal/domain"
	"coachbook/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ChannelJob asks for a chat channel between a provider and a client and
// records its reference on the reservation.
type ChannelJob struct {
	ID            string    `json:"id"`
	ReservationID int64     `json:"reservation_id"`
	ProviderID    int64     `json:"provider_id"`
	ClientID      int64     `json:"client_id"`
	Attempt       int       `json:"attempt"`
	NotBefore     time.Time `json:"not_before,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type channelStore interface {
	AttachChannelRef(ctx context.Context, reservationID int64, ref string) error
}

// ChannelWorker provisions chat channels for confirmed reservations.
// Jobs travel through redis when available and an in-memory queue otherwise;
// failed jobs are retried with backoff and end up in a dead-letter list.
type ChannelWorker struct {
	store         channelStore
	provisioner   domain.ChannelProvisioner
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan ChannelJob
	redisQueueKey string
	retryKey      string
	deadLetterKey string
	pollInterval  time.Duration
	now           func() time.Time
	logger        zerolog.Logger

	mu      sync.Mutex
	delayed []ChannelJob
}

// NewChannelWorker builds a worker with sane defaults. redisClient may be nil.
func NewChannelWorker(store channelStore, provisioner domain.ChannelProvisioner, redisClient *redis.Client, retry RetryPolicy, queueKey string, queueSize int, logger *zerolog.Logger) *ChannelWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if queueKey == "" {
		queueKey = "coachbook:channel_jobs"
	}
	if queueSize <= 0 {
		queueSize = 128
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "channel_worker").Logger()
	}

	return &ChannelWorker{
		store:         store,
		provisioner:   provisioner,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan ChannelJob, queueSize),
		redisQueueKey: queueKey,
		retryKey:      queueKey + ":retry",
		deadLetterKey: queueKey + ":deadletter",
		pollInterval:  2 * time.Second,
		now:           time.Now,
		logger:        l,
	}
}

// EnqueueChannel schedules provisioning for a confirmed reservation.
func (w *ChannelWorker) EnqueueChannel(ctx context.Context, reservationID, providerID, clientID int64) error {
	if reservationID == 0 || providerID == 0 || clientID == 0 {
		return errors.New("reservation, provider and client ids are required")
	}

	job := ChannelJob{
		ID:            uuid.NewString(),
		ReservationID: reservationID,
		ProviderID:    providerID,
		ClientID:      clientID,
		CreatedAt:     w.now(),
	}

	if w.redis != nil {
		err := w.pushRedis(ctx, job)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Int64("reservation_id", reservationID).Msg("redis push failed, fallback to memory queue")
	}

	select {
	case w.queue <- job:
		return nil
	default:
		return fmt.Errorf("channel queue full, job for reservation %d dropped", reservationID)
	}
}

// Start runs the worker loop until ctx is done.
func (w *ChannelWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("started")
	defer w.logger.Info().Msg("stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.runOnce(ctx) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// runOnce processes at most one job and reports whether it found any.
func (w *ChannelWorker) runOnce(ctx context.Context) bool {
	if job, ok := w.nextDue(ctx); ok {
		w.processJob(ctx, &job)
		return true
	}
	if job, ok := w.tryLocalQueue(); ok {
		w.processJob(ctx, &job)
		return true
	}
	if job, ok := w.tryRedis(ctx); ok {
		w.processJob(ctx, &job)
		return true
	}
	return false
}

func (w *ChannelWorker) tryLocalQueue() (ChannelJob, bool) {
	select {
	case job := <-w.queue:
		return job, true
	default:
		return ChannelJob{}, false
	}
}

func (w *ChannelWorker) tryRedis(ctx context.Context) (ChannelJob, bool) {
	if w.redis == nil {
		return ChannelJob{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error().Err(err).Msg("redis BRPOP failed")
		}
		return ChannelJob{}, false
	}
	if len(res) != 2 {
		return ChannelJob{}, false
	}
	job, err := decodeJob(res[1])
	if err != nil {
		w.logger.Error().Err(err).Msg("decode redis job")
		return ChannelJob{}, false
	}
	return job, true
}

// nextDue pops one retry whose backoff has elapsed.
func (w *ChannelWorker) nextDue(ctx context.Context) (ChannelJob, bool) {
	now := w.now()

	w.mu.Lock()
	for i, job := range w.delayed {
		if !job.NotBefore.After(now) {
			w.delayed = append(w.delayed[:i], w.delayed[i+1:]...)
			w.mu.Unlock()
			return job, true
		}
	}
	w.mu.Unlock()

	if w.redis == nil {
		return ChannelJob{}, false
	}
	members, err := w.redis.ZRangeByScore(ctx, w.retryKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: 1,
	}).Result()
	if err != nil || len(members) == 0 {
		return ChannelJob{}, false
	}
	// another worker may have claimed it
	if removed, err := w.redis.ZRem(ctx, w.retryKey, members[0]).Result(); err != nil || removed == 0 {
		return ChannelJob{}, false
	}
	job, err := decodeJob(members[0])
	if err != nil {
		w.logger.Error().Err(err).Msg("decode retry job")
		return ChannelJob{}, false
	}
	return job, true
}

func (w *ChannelWorker) processJob(ctx context.Context, job *ChannelJob) {
	ref, err := w.provisioner.EnsureChannel(ctx, job.ProviderID, job.ClientID)
	if err == nil {
		err = w.store.AttachChannelRef(ctx, job.ReservationID, ref)
		if errors.Is(err, database.ErrReservationNotFound) {
			w.fail(ctx, job, err)
			return
		}
	}
	if err != nil {
		w.retryOrFail(ctx, job, err)
		return
	}

	metrics.IncChannelProvision("ok")
	w.logger.Info().
		Int64("reservation_id", job.ReservationID).
		Int64("provider_id", job.ProviderID).
		Int64("client_id", job.ClientID).
		Str("channel_ref", ref).
		Msg("channel provisioned")
}

func (w *ChannelWorker) retryOrFail(ctx context.Context, job *ChannelJob, cause error) {
	job.Attempt++
	job.LastError = cause.Error()
	if w.retryPolicy.Exhausted(job.Attempt) {
		w.fail(ctx, job, cause)
		return
	}

	metrics.IncChannelProvision("retry")
	job.NotBefore = w.now().Add(w.retryPolicy.NextDelay(job.Attempt))
	w.logger.Warn().Err(cause).
		Int64("reservation_id", job.ReservationID).
		Int("attempt", job.Attempt).
		Time("not_before", job.NotBefore).
		Msg("channel provisioning failed, will retry")

	if w.redis != nil {
		data, err := json.Marshal(job)
		if err == nil {
			err = w.redis.ZAdd(ctx, w.retryKey, redis.Z{Score: float64(job.NotBefore.Unix()), Member: data}).Err()
		}
		if err == nil {
			return
		}
		w.logger.Warn().Err(err).Int64("reservation_id", job.ReservationID).Msg("redis retry schedule failed, keeping retry in memory")
	}

	w.mu.Lock()
	w.delayed = append(w.delayed, *job)
	w.mu.Unlock()
}

func (w *ChannelWorker) fail(ctx context.Context, job *ChannelJob, cause error) {
	job.LastError = cause.Error()
	metrics.IncChannelProvision("failed")
	w.logger.Error().Err(cause).
		Int64("reservation_id", job.ReservationID).
		Int("attempt", job.Attempt).
		Msg("channel provisioning abandoned")
	w.pushDeadLetter(ctx, job)
}

func (w *ChannelWorker) pushRedis(ctx context.Context, job ChannelJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *ChannelWorker) pushDeadLetter(ctx context.Context, job *ChannelJob) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("deadletter push failed")
	}
}

func decodeJob(raw string) (ChannelJob, error) {
	var job ChannelJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return job, err
	}
	return job, nil
}
