// Package ratelimit 令牌桶限速（交易所 REST 接口按每秒请求数限流）。
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Remaining() int
}

// TokenBucket 令牌桶速率限制器：容量 capacity，每秒补充 ratePerSec 个令牌（按时间连续补充）。
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	ratePerSec float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket 创建新的令牌桶；ratePerSec <= 0 时不限速。
func NewTokenBucket(capacity int, ratePerSec float64) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	tb := &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		ratePerSec: ratePerSec,
		now:        time.Now,
	}
	tb.lastRefill = tb.now()
	return tb
}

// refill 补充令牌（调用方持锁）
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.ratePerSec
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Allow 有令牌则消耗一个并返回 true。
func (tb *TokenBucket) Allow() bool {
	if tb == nil || tb.ratePerSec <= 0 {
		return true
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Delay 距离下一个令牌可用的时间（不消耗令牌）。
func (tb *TokenBucket) Delay() time.Duration {
	if tb == nil || tb.ratePerSec <= 0 {
		return 0
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tb.tokens) / tb.ratePerSec * float64(time.Second))
}

// Wait 等待直到拿到令牌或 ctx 结束。
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		wait := tb.Delay()
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Remaining 当前可用令牌数（向下取整）。
func (tb *TokenBucket) Remaining() int {
	if tb == nil || tb.ratePerSec <= 0 {
		return -1
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}
