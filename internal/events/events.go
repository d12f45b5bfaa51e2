package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/unitgrid/internal/domain"
)

// Kind 事件类型（journal/metrics 按此分类）。
type Kind string

const (
	KindUnitChanged       Kind = "unit_changed"
	KindPhaseChanged      Kind = "phase_changed"
	KindScalingAction     Kind = "scaling_action"
	KindResetOccurred     Kind = "reset_occurred"
	KindOrderRejected     Kind = "order_rejected"
	KindInvariantViolated Kind = "invariant_violated"
	KindFillApplied       Kind = "fill_applied"
	KindFeedDropped       Kind = "feed_dropped"
)

// Event 所有输出事件的公共接口。
type Event interface {
	EventKind() Kind
	EventTime() time.Time
}

// UnitChangedEvent 每穿越一个边界一条，不合并。
type UnitChangedEvent struct {
	Old       int              `json:"old"`
	New       int              `json:"new"`
	Direction domain.Direction `json:"direction"`
	Price     decimal.Decimal  `json:"price"`
	Timestamp time.Time        `json:"ts"`
}

// PhaseChangedEvent 周期阶段变化。
type PhaseChangedEvent struct {
	Old       domain.CyclePhase  `json:"old"`
	New       domain.CyclePhase  `json:"new"`
	Comp      domain.Composition `json:"composition"`
	Unit      int                `json:"unit"`
	Timestamp time.Time          `json:"ts"`
}

// ScalingActionEvent 一次缩放动作。
type ScalingActionEvent struct {
	ActionID  string           `json:"action_id"`
	Unit      int              `json:"unit"`
	Side      domain.TradeSide `json:"side"`
	Kind      string           `json:"kind"`
	Amount    decimal.Decimal  `json:"amount"`
	Reverse   bool             `json:"reverse"`
	Timestamp time.Time        `json:"ts"`
}

// ResetOccurredEvent 复利 reset。
type ResetOccurredEvent struct {
	CompoundedSize decimal.Decimal `json:"compounded_size"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	ResetCount     int             `json:"reset_count"`
	Unit           int             `json:"unit"`
	Timestamp      time.Time       `json:"ts"`
}

// OrderRejectedEvent 下单被拒，槽位/动作进入重试。
type OrderRejectedEvent struct {
	Ref       string    `json:"ref"`
	Unit      int       `json:"unit"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"ts"`
}

// InvariantViolatedEvent 不变量被破坏（非 strict 模式下的告警）。
type InvariantViolatedEvent struct {
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"ts"`
}

// FillAppliedEvent 成交已记账。
type FillAppliedEvent struct {
	OrderID   domain.OrderID  `json:"order_id"`
	Unit      int             `json:"unit"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	PnL       decimal.Decimal `json:"pnl"`
	Timestamp time.Time       `json:"ts"`
}

// FeedDroppedEvent 被丢弃的行情/成交（乱序、重放、重复）。
type FeedDroppedEvent struct {
	Stream    string    `json:"stream"` // price | fill
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"ts"`
}

func (e UnitChangedEvent) EventKind() Kind       { return KindUnitChanged }
func (e PhaseChangedEvent) EventKind() Kind      { return KindPhaseChanged }
func (e ScalingActionEvent) EventKind() Kind     { return KindScalingAction }
func (e ResetOccurredEvent) EventKind() Kind     { return KindResetOccurred }
func (e OrderRejectedEvent) EventKind() Kind     { return KindOrderRejected }
func (e InvariantViolatedEvent) EventKind() Kind { return KindInvariantViolated }
func (e FillAppliedEvent) EventKind() Kind       { return KindFillApplied }
func (e FeedDroppedEvent) EventKind() Kind       { return KindFeedDropped }

func (e UnitChangedEvent) EventTime() time.Time       { return e.Timestamp }
func (e PhaseChangedEvent) EventTime() time.Time      { return e.Timestamp }
func (e ScalingActionEvent) EventTime() time.Time     { return e.Timestamp }
func (e ResetOccurredEvent) EventTime() time.Time     { return e.Timestamp }
func (e OrderRejectedEvent) EventTime() time.Time     { return e.Timestamp }
func (e InvariantViolatedEvent) EventTime() time.Time { return e.Timestamp }
func (e FillAppliedEvent) EventTime() time.Time       { return e.Timestamp }
func (e FeedDroppedEvent) EventTime() time.Time       { return e.Timestamp }
