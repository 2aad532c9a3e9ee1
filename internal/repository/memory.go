package repository

import (
	"context"
	"sync"
	"time"

	"caphe/internal/models"
)

// MemoryStateRepository is the in-process fallback for poll state and
// rate limits. State is lost on restart, which is acceptable: the
// settlements table stays authoritative for money state.
type MemoryStateRepository struct {
	states     sync.Map
	rateLimits sync.Map
	ttl        time.Duration
}

func NewMemoryStateRepository(ttl time.Duration) *MemoryStateRepository {
	return &MemoryStateRepository{
		ttl: ttl,
	}
}

func (r *MemoryStateRepository) GetPollState(ctx context.Context, settlementID int64) (*models.PollState, error) {
	val, ok := r.states.Load(settlementID)
	if !ok {
		return nil, nil
	}
	return val.(*models.PollState), nil
}

func (r *MemoryStateRepository) SetPollState(ctx context.Context, state *models.PollState) error {
	r.states.Store(state.SettlementID, state)
	return nil
}

func (r *MemoryStateRepository) ClearPollState(ctx context.Context, settlementID int64) error {
	r.states.Delete(settlementID)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryStateRepository) CheckRateLimit(ctx context.Context, clientKey string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, ok := r.rateLimits.Load(clientKey)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(clientKey, entry)
	return entry.count <= limit, nil
}
