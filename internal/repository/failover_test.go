package repository

import (
	"context"
	"testing"
	"time"

	"caphe/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rs/zerolog"
)

func TestFailoverFallsBackToMemory(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	// Redis repository with a nil client always errors.
	broken := NewRedisStateRepository(nil, time.Hour)
	memory := NewMemoryStateRepository(time.Hour)
	repo := NewFailoverStateRepository(broken, memory, &logger)

	err := repo.SetPollState(ctx, &models.PollState{SettlementID: 11, Attempts: 2})
	assert.NoError(t, err, "set should succeed via fallback")

	state, err := repo.GetPollState(ctx, 11)
	assert.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 2, state.Attempts)

	allowed, err := repo.CheckRateLimit(ctx, "client", 1, time.Minute)
	assert.NoError(t, err)
	assert.True(t, allowed)
}

func TestFailoverPrefersHealthyPrimary(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	client, _ := newTestRedis(t)
	primary := NewRedisStateRepository(client, time.Hour)
	memory := NewMemoryStateRepository(time.Hour)
	repo := NewFailoverStateRepository(primary, memory, &logger)

	err := repo.SetPollState(ctx, &models.PollState{SettlementID: 5, Attempts: 1})
	require.NoError(t, err)

	// The state must be visible through the primary directly.
	state, err := primary.GetPollState(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.Attempts)
}
