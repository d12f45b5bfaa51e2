// Package tracker 是单位网格策略的编排层：单 goroutine 持有全部状态，
// 串行消费行情、成交与命令结果，驱动网格、阶段、分片记账与挂单窗口。
package tracker

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/events"
	"github.com/betbot/unitgrid/internal/execution"
	"github.com/betbot/unitgrid/internal/feed"
	"github.com/betbot/unitgrid/internal/fragment"
	"github.com/betbot/unitgrid/internal/phase"
	"github.com/betbot/unitgrid/internal/ports"
	"github.com/betbot/unitgrid/internal/risk"
	"github.com/betbot/unitgrid/internal/unitgrid"
	"github.com/betbot/unitgrid/internal/window"
	"github.com/betbot/unitgrid/pkg/cache"
)

var log = logrus.WithField("component", "tracker")

const (
	defaultCommandTimeout    = 30 * time.Second
	defaultCancelTimeout     = 12 * time.Second
	defaultRetryInterval     = 1 * time.Second
	defaultMaxCancelAttempts = 5
	defaultFillMemory        = 24 * time.Hour
	maxParkedFills           = 256
)

// Options 依赖注入。Ledger 与 Gateway 必填，其余有默认值。
type Options struct {
	Ledger     domain.PositionLedger
	Fragment   fragment.Config
	WindowSize int

	Gateway  ports.OrderGateway
	Executor execution.Executor // 默认 InlineExecutor（同步执行，适合回放/测试）
	Sink     ports.EventSink
	Guard    *feed.ReplayGuard
	Breaker  *risk.CircuitBreaker
	Deduper  *execution.InFlightDeduper

	StrictInvariants bool // 不变量被破坏时 panic（开发环境）

	CommandTimeout    time.Duration
	CancelTimeout     time.Duration
	RetryInterval     time.Duration
	MaxCancelAttempts int

	Clock       func() time.Time
	IDGenerator func() string // 窗口槽位 ID（测试用）

	// OnSnapshot 每处理完一条消息后调用（在 tracker goroutine 中，不能阻塞）。
	OnSnapshot func(Snapshot)
}

func (o *Options) applyDefaults() error {
	if o.Gateway == nil {
		return errors.Wrap(domain.ErrInvalidConfig, "order gateway is required")
	}
	if o.WindowSize == 0 {
		o.WindowSize = window.DefaultSize
	}
	if o.WindowSize < 0 {
		return errors.Wrapf(domain.ErrInvalidConfig, "window_size must be > 0, got %d", o.WindowSize)
	}
	if o.Fragment == (fragment.Config{}) {
		o.Fragment = fragment.DefaultConfig()
	}
	if o.Executor == nil {
		o.Executor = &execution.InlineExecutor{}
	}
	if o.Sink == nil {
		o.Sink = ports.EventSinkFunc(func(events.Event) {})
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = defaultCommandTimeout
	}
	if o.CancelTimeout <= 0 {
		o.CancelTimeout = defaultCancelTimeout
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	if o.MaxCancelAttempts <= 0 {
		o.MaxCancelAttempts = defaultMaxCancelAttempts
	}
	if o.Deduper == nil {
		o.Deduper = execution.NewInFlightDeduper(2 * o.CommandTimeout)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Guard == nil {
		o.Guard = feed.NewReplayGuard(o.Ledger.Symbol, feed.DefaultReplayGrace).WithClock(o.Clock)
	}
	return nil
}

// ActionOrder 缩放动作对应的订单。
// 由被触发的窗口挂单执行时 SlotID 非空，否则以市价单单独提交。
type ActionOrder struct {
	Action      fragment.Action    `json:"action"`
	Status      domain.OrderStatus `json:"status"`
	OrderID     domain.OrderID     `json:"order_id,omitempty"`
	SlotID      string             `json:"slot_id,omitempty"`
	Filled      decimal.Decimal    `json:"filled"`
	Attempts    int                `json:"attempts"`
	NextRetryAt time.Time          `json:"next_retry_at,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
}

// CancelRequest 尚未确认的撤单。
type CancelRequest struct {
	OrderID     domain.OrderID   `json:"order_id"`
	SlotID      string           `json:"slot_id"`
	Side        domain.TradeSide `json:"side"`
	Attempts    int              `json:"attempts"`
	RequestedAt time.Time        `json:"requested_at"`
}

// Tracker 单位跟踪器。
//
// 除 OnPrice/OnFill/RequestSnapshot 外的方法都只能在 Run 所在的 goroutine
// （或不运行 Run 时的单一调用方）中使用。
type Tracker struct {
	opts   Options
	symbol string

	grid  *unitgrid.UnitGrid
	win   *window.Window // 锚定前为 nil
	phase *phase.Tracker
	acct  *fragment.Accountant

	actions       []*ActionOrder
	actionByOrder map[domain.OrderID]string
	triggering    map[string]string // 被触发时仍在提交中的槽位 -> 动作 ID（空表示结果回来后撤单）
	cancels       map[domain.OrderID]*CancelRequest
	parked        map[domain.OrderID][]domain.Fill
	fills         *cache.InMemoryCache[string, struct{}]

	resetCount int
	lastPrice  decimal.Decimal

	inbox    chan message
	results  chan cmdResult
	stopC    chan struct{}
	stopOnce sync.Once
}

// New 创建跟踪器。账本未锚定时由第一笔行情锚定。
func New(opts Options) (*Tracker, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	grid, err := unitgrid.New(opts.Ledger.EntryPrice, opts.Ledger.UnitSize)
	if err != nil {
		return nil, err
	}
	acct, err := fragment.New(opts.Fragment, opts.Ledger)
	if err != nil {
		return nil, err
	}
	t := newTracker(opts, grid, acct)
	if grid.Anchored() {
		if err := t.anchorWindow(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func newTracker(opts Options, grid *unitgrid.UnitGrid, acct *fragment.Accountant) *Tracker {
	return &Tracker{
		opts:          opts,
		symbol:        opts.Ledger.Symbol,
		grid:          grid,
		phase:         phase.New(grid.CurrentUnit()),
		acct:          acct,
		actionByOrder: make(map[domain.OrderID]string),
		triggering:    make(map[string]string),
		cancels:       make(map[domain.OrderID]*CancelRequest),
		parked:        make(map[domain.OrderID][]domain.Fill),
		fills:         cache.NewInMemoryCache[string, struct{}](defaultFillMemory),
		inbox:         make(chan message, 1024),
		results:       make(chan cmdResult, 4096),
		stopC:         make(chan struct{}),
	}
}

func (t *Tracker) windowOptions() []window.Option {
	if t.opts.IDGenerator == nil {
		return nil
	}
	return []window.Option{window.WithIDGenerator(t.opts.IDGenerator)}
}

// anchorWindow 以当前单位建立初始窗口（全部为止损单）。
func (t *Tracker) anchorWindow() error {
	w, err := window.New(t.opts.WindowSize, t.grid.CurrentUnit(), t.grid.PriceForUnit, t.windowOptions()...)
	if err != nil {
		return err
	}
	t.win = w
	t.phase = phase.New(t.grid.CurrentUnit())
	return nil
}

func (t *Tracker) now() time.Time { return t.opts.Clock() }

func (t *Tracker) publish(ev events.Event) { t.opts.Sink.Publish(ev) }

// Grid/Window/Phase/Accountant 只读访问（测试与 UI）。
func (t *Tracker) Grid() *unitgrid.UnitGrid          { return t.grid }
func (t *Tracker) Window() *window.Window            { return t.win }
func (t *Tracker) PhaseState() domain.PhaseState     { return t.phase.State() }
func (t *Tracker) Accountant() *fragment.Accountant  { return t.acct }
func (t *Tracker) ResetCount() int                   { return t.resetCount }
func (t *Tracker) Actions() []*ActionOrder           { return append([]*ActionOrder(nil), t.actions...) }
func (t *Tracker) PendingCancels() int               { return len(t.cancels) }
func (t *Tracker) LastPrice() decimal.Decimal        { return t.lastPrice }

// Close 释放后台资源（去重缓存的清理 goroutine）。
func (t *Tracker) Close() {
	t.fills.Close()
}

func (t *Tracker) findAction(id string) *ActionOrder {
	if id == "" {
		return nil
	}
	for _, a := range t.actions {
		if a.Action.ID == id {
			return a
		}
	}
	return nil
}

func (t *Tracker) removeAction(id string) {
	for i, a := range t.actions {
		if a.Action.ID == id {
			t.actions = append(t.actions[:i:i], t.actions[i+1:]...)
			if !a.OrderID.IsZero() {
				delete(t.actionByOrder, a.OrderID)
			}
			return
		}
	}
}

// track 登记一个新动作，等待提交。
func (t *Tracker) track(act fragment.Action) *ActionOrder {
	a := &ActionOrder{Action: act, Status: domain.OrderStatusPending}
	t.actions = append(t.actions, a)
	t.publish(events.ScalingActionEvent{
		ActionID:  act.ID,
		Unit:      act.Unit,
		Side:      act.TradeSide(),
		Kind:      string(act.Kind),
		Amount:    act.Asset,
		Reverse:   act.Reverse,
		Timestamp: t.now(),
	})
	log.Infof("📐 [tracker] 缩放动作: %s", act)
	return a
}
