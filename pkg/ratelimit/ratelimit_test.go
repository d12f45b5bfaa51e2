package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketRefillsContinuously(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tb := NewTokenBucket(2, 4)
	tb.now = func() time.Time { return now }
	tb.lastRefill = now

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
	assert.Equal(t, 250*time.Millisecond, tb.Delay())

	now = now.Add(250 * time.Millisecond)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	now = now.Add(10 * time.Second)
	assert.Equal(t, 2, tb.Remaining())
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 0.001)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestUnlimitedBucket(t *testing.T) {
	var tb *TokenBucket
	assert.True(t, tb.Allow())
	assert.NoError(t, tb.Wait(context.Background()))
	assert.True(t, NewTokenBucket(1, 0).Allow())
}
