package repository

import (
	"context"
	"sync/atomic"
	"time"

	"caphe/internal/domain"
	"caphe/internal/models"

	"github.com/rs/zerolog"
)

// FailoverStateRepository prefers the primary (redis) repository and
// falls back to the in-memory one while the primary is down, retrying
// the primary at most once a minute.
type FailoverStateRepository struct {
	primary   domain.StateRepository
	fallback  domain.StateRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverStateRepository(primary, fallback domain.StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverStateRepository) GetPollState(ctx context.Context, settlementID int64) (*models.PollState, error) {
	if !r.isDown.Load() {
		state, err := r.primary.GetPollState(ctx, settlementID)
		if err == nil {
			return state, nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		state, err := r.primary.GetPollState(ctx, settlementID)
		if err == nil {
			r.isDown.Store(false)
			return state, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.GetPollState(ctx, settlementID)
}

func (r *FailoverStateRepository) SetPollState(ctx context.Context, state *models.PollState) error {
	if !r.isDown.Load() {
		err := r.primary.SetPollState(ctx, state)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.SetPollState(ctx, state)
}

func (r *FailoverStateRepository) ClearPollState(ctx context.Context, settlementID int64) error {
	if !r.isDown.Load() {
		err := r.primary.ClearPollState(ctx, settlementID)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.ClearPollState(ctx, settlementID)
}

func (r *FailoverStateRepository) CheckRateLimit(ctx context.Context, clientKey string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, clientKey, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.CheckRateLimit(ctx, clientKey, limit, window)
}
