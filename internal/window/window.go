// Package window 维护固定数量的条件单：止损在价格下方，回补在价格上方。
package window

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/unitgrid/internal/domain"
)

// DefaultSize 默认窗口大小。
const DefaultSize = 4

// RetryDelay 提交失败后的退避：1s,2s,4s,8s 封顶。
func RetryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 3 {
		attempts = 3
	}
	return time.Duration(1<<attempts) * time.Second
}

// Change 一次窗口变化需要的 IO：Retired 需要撤单，Added 需要下单。
// Triggered 是被价格穿越触发的领先订单（已离开窗口，等待成交确认）。
type Change struct {
	Triggered *domain.PendingOrder
	Retired   []*domain.PendingOrder
	Added     []*domain.PendingOrder
	Trailing  bool
}

// Merge 合并两次变化（Triggered 以后者为准）。
func (c Change) Merge(o Change) Change {
	if o.Triggered != nil {
		c.Triggered = o.Triggered
	}
	c.Retired = append(c.Retired, o.Retired...)
	c.Added = append(c.Added, o.Added...)
	c.Trailing = c.Trailing || o.Trailing
	return c
}

func (c Change) Empty() bool {
	return c.Triggered == nil && len(c.Retired) == 0 && len(c.Added) == 0
}

// Window 挂单窗口。非并发安全，由 tracker 持有。
type Window struct {
	size     int
	current  int
	stops    []*domain.PendingOrder // 由近到远（unit 降序）
	buys     []*domain.PendingOrder // 由近到远（unit 升序）
	priceFor func(int) decimal.Decimal
	newID    func() string
}

// Option 窗口选项。
type Option func(*Window)

// WithIDGenerator 替换槽位 ID 生成器（测试用）。
func WithIDGenerator(fn func() string) Option {
	return func(w *Window) { w.newID = fn }
}

// New 以当前单位为中心创建窗口：size 个止损单位于 current-1 ... current-size。
func New(size, current int, priceFor func(int) decimal.Decimal, opts ...Option) (*Window, error) {
	if size <= 0 {
		return nil, errors.Wrapf(domain.ErrInvalidConfig, "window size must be > 0, got %d", size)
	}
	if priceFor == nil {
		return nil, errors.Wrap(domain.ErrInvalidConfig, "priceFor is required")
	}
	w := &Window{size: size, current: current, priceFor: priceFor, newID: uuid.NewString}
	for _, opt := range opts {
		opt(w)
	}
	for i := 1; i <= size; i++ {
		w.stops = append(w.stops, w.newOrder(current-i, domain.SideTrailingStop))
	}
	return w, nil
}

func (w *Window) newOrder(unit int, side domain.OrderSide) *domain.PendingOrder {
	return &domain.PendingOrder{
		ID:     w.newID(),
		Unit:   unit,
		Side:   side,
		Status: domain.OrderStatusPending,
		Price:  w.priceFor(unit),
	}
}

func (w *Window) Size() int        { return w.size }
func (w *Window) CurrentUnit() int { return w.current }

// Stops 止损单（近到远）。返回的切片为副本，元素为共享指针。
func (w *Window) Stops() []*domain.PendingOrder { return append([]*domain.PendingOrder(nil), w.stops...) }

// Buys 回补单（近到远）。
func (w *Window) Buys() []*domain.PendingOrder { return append([]*domain.PendingOrder(nil), w.buys...) }

// All 全部槽位，止损在前。
func (w *Window) All() []*domain.PendingOrder {
	return append(w.Stops(), w.buys...)
}

// Composition 三相构成。
func (w *Window) Composition() domain.Composition {
	switch {
	case len(w.buys) == 0:
		return domain.CompositionFullLong
	case len(w.stops) == 0:
		return domain.CompositionFullCash
	default:
		return domain.CompositionMixed
	}
}

// OnUnitChange 处理一次单步穿越。
//
// 领先一侧恰好在 newUnit 有订单时，该订单被触发并移出窗口，另一侧最近的空位补一张互补单；
// 否则窗口跟随价格移动：撤掉跟随侧最远的一张，在最近空位补一张同类单。
func (w *Window) OnUnitChange(newUnit int, dir domain.Direction) Change {
	w.current = newUnit
	var ch Change
	switch dir {
	case domain.DirectionDown:
		if len(w.stops) > 0 && w.stops[0].Unit >= newUnit {
			ch.Triggered = w.stops[0]
			w.stops = w.stops[1:]
			ch.Added = append(ch.Added, w.add(domain.SideTrailingBuy))
		} else if len(w.buys) > 0 {
			ch.Trailing = true
			ch.Retired = append(ch.Retired, w.popFarthest(domain.SideTrailingBuy))
			ch.Added = append(ch.Added, w.add(domain.SideTrailingBuy))
		}
	case domain.DirectionUp:
		if len(w.buys) > 0 && w.buys[0].Unit <= newUnit {
			ch.Triggered = w.buys[0]
			w.buys = w.buys[1:]
			ch.Added = append(ch.Added, w.add(domain.SideTrailingStop))
		} else if len(w.stops) > 0 {
			ch.Trailing = true
			ch.Retired = append(ch.Retired, w.popFarthest(domain.SideTrailingStop))
			ch.Added = append(ch.Added, w.add(domain.SideTrailingStop))
		}
	}
	return ch
}

// OnFill 处理未经穿越就成交的订单（例如插针）：移出并在另一侧最近空位补互补单。
func (w *Window) OnFill(unit int, side domain.OrderSide) (Change, bool) {
	var list *[]*domain.PendingOrder
	if side == domain.SideTrailingStop {
		list = &w.stops
	} else {
		list = &w.buys
	}
	for i, o := range *list {
		if o.Unit != unit {
			continue
		}
		*list = append((*list)[:i:i], (*list)[i+1:]...)
		return Change{Triggered: o, Added: []*domain.PendingOrder{w.add(side.Opposite())}}, true
	}
	return Change{}, false
}

// Resize 按 sizeFor 重新计算各槽位数量。未提交的直接改；已挂出的撤掉重下。
func (w *Window) Resize(sizeFor func(o *domain.PendingOrder) decimal.Decimal) Change {
	var ch Change
	resize := func(list []*domain.PendingOrder) {
		for i, o := range list {
			want := sizeFor(o)
			if o.Size.Equal(want) {
				continue
			}
			if !o.IsLive() {
				o.Size = want
				continue
			}
			repl := w.newOrder(o.Unit, o.Side)
			repl.Size = want
			list[i] = repl
			ch.Retired = append(ch.Retired, o)
			ch.Added = append(ch.Added, repl)
		}
	}
	resize(w.stops)
	resize(w.buys)
	return ch
}

// Find 按槽位 ID 查找。
func (w *Window) Find(slotID string) (*domain.PendingOrder, bool) {
	for _, o := range w.stops {
		if o.ID == slotID {
			return o, true
		}
	}
	for _, o := range w.buys {
		if o.ID == slotID {
			return o, true
		}
	}
	return nil, false
}

// FindByOrderID 按交易所订单 ID 查找。
func (w *Window) FindByOrderID(id domain.OrderID) (*domain.PendingOrder, bool) {
	if id.IsZero() {
		return nil, false
	}
	for _, o := range w.All() {
		if o.OrderID == id {
			return o, true
		}
	}
	return nil, false
}

// MarkSubmitted 交易所已接受。
func (w *Window) MarkSubmitted(slotID string, id domain.OrderID) bool {
	o, ok := w.Find(slotID)
	if !ok {
		return false
	}
	o.Status = domain.OrderStatusSubmitted
	o.OrderID = id
	o.LastError = ""
	o.NextRetryAt = time.Time{}
	return true
}

// MarkFailed 提交被拒：槽位保留，按退避时间重试。
func (w *Window) MarkFailed(slotID, reason string, now time.Time) bool {
	o, ok := w.Find(slotID)
	if !ok {
		return false
	}
	o.Status = domain.OrderStatusFailed
	o.Attempts++
	o.LastError = reason
	o.NextRetryAt = now.Add(RetryDelay(o.Attempts))
	return true
}

// DueForSubmit 需要（重新）提交且已过退避时间的槽位。
func (w *Window) DueForSubmit(now time.Time) []*domain.PendingOrder {
	var out []*domain.PendingOrder
	for _, o := range w.All() {
		if !o.NeedsSubmit() {
			continue
		}
		if o.Status == domain.OrderStatusFailed && now.Before(o.NextRetryAt) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// CheckInvariant 数量为 size，止损全部低于当前单位，回补全部高于当前单位。
func (w *Window) CheckInvariant() error {
	if n := len(w.stops) + len(w.buys); n != w.size {
		return errors.Wrapf(domain.ErrWindowInvariant, "slots=%d want=%d", n, w.size)
	}
	seen := make(map[int]struct{}, w.size)
	for _, o := range w.stops {
		if o.Unit >= w.current {
			return errors.Wrapf(domain.ErrWindowInvariant, "stop at unit %d not below current %d", o.Unit, w.current)
		}
		seen[o.Unit] = struct{}{}
	}
	for _, o := range w.buys {
		if o.Unit <= w.current {
			return errors.Wrapf(domain.ErrWindowInvariant, "buy at unit %d not above current %d", o.Unit, w.current)
		}
		seen[o.Unit] = struct{}{}
	}
	if len(seen) != w.size {
		return errors.Wrap(domain.ErrWindowInvariant, "duplicate unit in window")
	}
	return nil
}

func (w *Window) String() string {
	return fmt.Sprintf("window(current=%d stops=%v buys=%v)", w.current, units(w.stops), units(w.buys))
}

// add 在 side 一侧最近的空位新增订单。
func (w *Window) add(side domain.OrderSide) *domain.PendingOrder {
	var o *domain.PendingOrder
	if side == domain.SideTrailingStop {
		u := w.current - 1
		for occupied(w.stops, u) {
			u--
		}
		o = w.newOrder(u, side)
		w.stops = append(w.stops, o)
		sort.Slice(w.stops, func(i, j int) bool { return w.stops[i].Unit > w.stops[j].Unit })
	} else {
		u := w.current + 1
		for occupied(w.buys, u) {
			u++
		}
		o = w.newOrder(u, side)
		w.buys = append(w.buys, o)
		sort.Slice(w.buys, func(i, j int) bool { return w.buys[i].Unit < w.buys[j].Unit })
	}
	return o
}

func (w *Window) popFarthest(side domain.OrderSide) *domain.PendingOrder {
	if side == domain.SideTrailingStop {
		o := w.stops[len(w.stops)-1]
		w.stops = w.stops[:len(w.stops)-1]
		return o
	}
	o := w.buys[len(w.buys)-1]
	w.buys = w.buys[:len(w.buys)-1]
	return o
}

func occupied(list []*domain.PendingOrder, unit int) bool {
	for _, o := range list {
		if o.Unit == unit {
			return true
		}
	}
	return false
}

func units(list []*domain.PendingOrder) []int {
	out := make([]int, 0, len(list))
	for _, o := range list {
		out = append(out, o.Unit)
	}
	return out
}

// State 快照。
type State struct {
	Size    int                   `json:"size"`
	Current int                   `json:"current"`
	Stops   []domain.PendingOrder `json:"trailing_stops"`
	Buys    []domain.PendingOrder `json:"trailing_buys"`
}

func (w *Window) State() State {
	s := State{Size: w.size, Current: w.current}
	for _, o := range w.stops {
		s.Stops = append(s.Stops, *o)
	}
	for _, o := range w.buys {
		s.Buys = append(s.Buys, *o)
	}
	return s
}

// Restore 由快照重建窗口。
func Restore(s State, priceFor func(int) decimal.Decimal, opts ...Option) (*Window, error) {
	w, err := New(s.Size, s.Current, priceFor, opts...)
	if err != nil {
		return nil, err
	}
	w.stops = w.stops[:0]
	for i := range s.Stops {
		o := s.Stops[i]
		w.stops = append(w.stops, &o)
	}
	for i := range s.Buys {
		o := s.Buys[i]
		w.buys = append(w.buys, &o)
	}
	return w, nil
}
