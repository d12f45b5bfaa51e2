// Package feed 过滤行情异常：乱序、重复、重连后的历史回放。
package feed

import (
	"sync"
	"time"

	"github.com/betbot/unitgrid/internal/domain"
)

// DropReason 丢弃原因（用于日志与 metrics 标签）。
type DropReason string

const (
	DropNone    DropReason = ""
	DropInvalid DropReason = "invalid"
	DropSymbol  DropReason = "symbol"
	DropStale   DropReason = "stale"
	DropReplay  DropReason = "replay"
)

// DefaultReplayGrace 重连后的回放保护窗口。
const DefaultReplayGrace = 5 * time.Second

// ReplayGuard 行情守卫。
//
// 已接受 tick 的时间戳严格递增；重连后的 grace 窗口内，早于重连时刻的消息一律丢弃。
type ReplayGuard struct {
	mu          sync.Mutex
	symbol      string
	grace       time.Duration
	lastTick    time.Time
	reconnectAt time.Time
	now         func() time.Time
}

// NewReplayGuard symbol 为空时不校验标的。
func NewReplayGuard(symbol string, grace time.Duration) *ReplayGuard {
	if grace <= 0 {
		grace = DefaultReplayGrace
	}
	return &ReplayGuard{symbol: domain.NormalizeSymbol(symbol), grace: grace, now: time.Now}
}

// WithClock 替换时钟（回放与测试用），返回自身。
func (g *ReplayGuard) WithClock(now func() time.Time) *ReplayGuard {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
	return g
}

// MarkReconnected 由 feed 在重连成功后调用。
func (g *ReplayGuard) MarkReconnected() {
	g.mu.Lock()
	g.reconnectAt = g.now()
	g.mu.Unlock()
}

// AcceptTick 判断 tick 是否可处理；零时间戳按到达时间补齐。
func (g *ReplayGuard) AcceptTick(tick *domain.PriceTick) DropReason {
	if !tick.Price.IsPositive() {
		return DropInvalid
	}
	if g.symbol != "" && tick.Symbol != "" && domain.NormalizeSymbol(tick.Symbol) != g.symbol {
		return DropSymbol
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if tick.Timestamp.IsZero() {
		tick.Timestamp = now
	}
	if g.inGrace(now) && tick.Timestamp.Before(g.reconnectAt) {
		return DropReplay
	}
	if !g.lastTick.IsZero() && !tick.Timestamp.After(g.lastTick) {
		return DropStale
	}
	g.lastTick = tick.Timestamp
	return DropNone
}

// AcceptFill 重连 grace 窗口内早于重连时刻的成交回放同样丢弃（去重由 tracker 负责）。
func (g *ReplayGuard) AcceptFill(fill *domain.Fill) DropReason {
	if fill.OrderID.IsZero() || !fill.Size.IsPositive() || !fill.Price.IsPositive() {
		return DropInvalid
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if fill.Timestamp.IsZero() {
		fill.Timestamp = now
	}
	if g.inGrace(now) && fill.Timestamp.Before(g.reconnectAt) {
		return DropReplay
	}
	return DropNone
}

func (g *ReplayGuard) inGrace(now time.Time) bool {
	return !g.reconnectAt.IsZero() && now.Before(g.reconnectAt.Add(g.grace))
}

// LastTick 最后接受的 tick 时间（快照用）。
func (g *ReplayGuard) LastTick() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastTick
}

// SetLastTick 恢复时设置。
func (g *ReplayGuard) SetLastTick(t time.Time) {
	g.mu.Lock()
	g.lastTick = t
	g.mu.Unlock()
}
