package risk

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerConsecutiveRejections(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveRejections: 3})

	cb.OnRejection()
	cb.OnRejection()
	require.NoError(t, cb.AllowTrading())

	cb.OnSuccess()
	cb.OnRejection()
	cb.OnRejection()
	require.NoError(t, cb.AllowTrading())

	cb.OnRejection()
	err := cb.AllowTrading()
	require.Error(t, err)
	assert.Equal(t, ErrCircuitBreakerOpen, errors.Cause(err))
	assert.True(t, cb.Halted())

	cb.Resume()
	assert.NoError(t, cb.AllowTrading())
	assert.Zero(t, cb.ConsecutiveRejections())
}

func TestCircuitBreakerDailyLoss(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{DailyLossLimit: decimal.NewFromInt(100)})
	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	cb.now = func() time.Time { return day }

	cb.AddPnL(decimal.NewFromInt(-60))
	require.NoError(t, cb.AllowTrading())
	cb.AddPnL(decimal.NewFromInt(-40))
	assert.Error(t, cb.AllowTrading())

	// 新的一天清零，但熔断需要人工恢复
	day = day.Add(24 * time.Hour)
	assert.True(t, cb.DailyPnL().IsZero())
	assert.Error(t, cb.AllowTrading())
	cb.Resume()
	assert.NoError(t, cb.AllowTrading())
}

func TestNilCircuitBreakerAllows(t *testing.T) {
	var cb *CircuitBreaker
	cb.OnRejection()
	cb.AddPnL(decimal.NewFromInt(-1))
	assert.NoError(t, cb.AllowTrading())
	assert.False(t, cb.Halted())
}
