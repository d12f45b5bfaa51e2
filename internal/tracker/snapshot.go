package tracker

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/fragment"
	"github.com/betbot/unitgrid/internal/phase"
	"github.com/betbot/unitgrid/internal/unitgrid"
	"github.com/betbot/unitgrid/internal/window"
)

// SnapshotVersion 快照格式版本。
const SnapshotVersion = 1

// Snapshot 崩溃恢复所需的完整状态。前半部分是 UI/持久化关心的摘要字段。
type Snapshot struct {
	Version int    `json:"version"`
	Symbol  string `json:"symbol"`

	EntryPrice     decimal.Decimal       `json:"entry_price"`
	UnitSize       decimal.Decimal       `json:"unit_size"`
	CurrentUnit    int                   `json:"current_unit"`
	PeakUnit       int                   `json:"peak_unit"`
	ValleyUnit     *int                  `json:"valley_unit"`
	Phase          domain.CyclePhase     `json:"phase"`
	Composition    domain.Composition    `json:"composition"`
	TrailingStops  []domain.PendingOrder `json:"trailing_stops"`
	TrailingBuys   []domain.PendingOrder `json:"trailing_buys"`
	LockedFragment domain.Fragment       `json:"locked_fragment"`
	RealizedPnL    decimal.Decimal       `json:"realized_pnl"`
	ResetCount     int                   `json:"reset_count"`

	WindowSize int                       `json:"window_size"`
	Grid       unitgrid.State            `json:"grid"`
	Accountant fragment.State            `json:"accountant"`
	Hedge      domain.ShortHedgePosition `json:"hedge"`
	Actions    []ActionOrder             `json:"actions,omitempty"`
	Triggering map[string]string         `json:"triggering,omitempty"`
	Cancels    []CancelRequest           `json:"cancels,omitempty"`
	SeenFills  []string                  `json:"seen_fills,omitempty"`
	LastPrice  decimal.Decimal           `json:"last_price"`
	LastTick   time.Time                 `json:"last_tick"`
	SavedAt    time.Time                 `json:"saved_at"`
}

// Snapshot 当前状态（只能在 tracker goroutine 中调用，其他 goroutine 用 RequestSnapshot）。
func (t *Tracker) Snapshot() Snapshot {
	ps := t.phase.State()
	s := Snapshot{
		Version:        SnapshotVersion,
		Symbol:         t.symbol,
		EntryPrice:     t.grid.EntryPrice(),
		UnitSize:       t.grid.UnitSize(),
		CurrentUnit:    t.grid.CurrentUnit(),
		PeakUnit:       ps.PeakUnit,
		ValleyUnit:     ps.ValleyUnit,
		Phase:          ps.Phase,
		Composition:    ps.Composition,
		LockedFragment: t.acct.Fragment(),
		RealizedPnL:    t.acct.RealizedPnL(),
		ResetCount:     t.resetCount,
		WindowSize:     t.opts.WindowSize,
		Grid:           t.grid.State(),
		Accountant:     t.acct.State(),
		LastPrice:      t.lastPrice,
		LastTick:       t.opts.Guard.LastTick(),
		SavedAt:        t.now(),
		Hedge:          t.acct.Hedge(),
	}
	if t.win != nil {
		ws := t.win.State()
		s.TrailingStops = ws.Stops
		s.TrailingBuys = ws.Buys
	}
	for _, a := range t.actions {
		s.Actions = append(s.Actions, *a)
	}
	if len(t.triggering) > 0 {
		s.Triggering = make(map[string]string, len(t.triggering))
		for k, v := range t.triggering {
			s.Triggering[k] = v
		}
	}
	for _, c := range t.cancels {
		s.Cancels = append(s.Cancels, *c)
	}
	sort.Slice(s.Cancels, func(i, j int) bool { return s.Cancels[i].OrderID < s.Cancels[j].OrderID })
	s.SeenFills = t.fills.Keys()
	sort.Strings(s.SeenFills)
	return s
}

// Restore 由快照重建跟踪器。opts.Ledger 被快照中的账本覆盖。
//
// 快照时仍在提交中的请求无法确认结果：被触发槽位对应的动作改为市价重新执行，
// 仍在窗口中的 pending 槽位按原 ClientID 重新提交。
func Restore(opts Options, s Snapshot) (*Tracker, error) {
	if s.Version != SnapshotVersion {
		return nil, errors.Errorf("unsupported snapshot version %d", s.Version)
	}
	opts.Ledger = s.Accountant.Ledger
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	if s.WindowSize > 0 {
		opts.WindowSize = s.WindowSize
	}

	grid, err := unitgrid.Restore(s.Grid)
	if err != nil {
		return nil, errors.Wrap(err, "restore grid")
	}
	acct, err := fragment.Restore(opts.Fragment, s.Accountant)
	if err != nil {
		return nil, errors.Wrap(err, "restore accountant")
	}
	t := newTracker(opts, grid, acct)
	t.phase = phase.Restore(domain.PhaseState{
		Composition: s.Composition,
		Phase:       s.Phase,
		CurrentUnit: s.CurrentUnit,
		PeakUnit:    s.PeakUnit,
		ValleyUnit:  s.ValleyUnit,
	})
	if grid.Anchored() {
		w, err := window.Restore(window.State{
			Size:    opts.WindowSize,
			Current: s.CurrentUnit,
			Stops:   s.TrailingStops,
			Buys:    s.TrailingBuys,
		}, grid.PriceForUnit, t.windowOptions()...)
		if err != nil {
			return nil, errors.Wrap(err, "restore window")
		}
		t.win = w
	}

	for i := range s.Actions {
		a := s.Actions[i]
		if a.Status == domain.OrderStatusSubmitted && a.OrderID.IsZero() {
			log.Warnf("⚠️ [tracker] 恢复：动作等待的挂单结果已丢失，改用市价执行: %s", a.Action)
			a.Status = domain.OrderStatusPending
			a.SlotID = ""
		}
		t.actions = append(t.actions, &a)
		if !a.OrderID.IsZero() {
			t.actionByOrder[a.OrderID] = a.Action.ID
		}
	}
	for slot, actionID := range s.Triggering {
		if actionID == "" {
			log.Warnf("⚠️ [tracker] 恢复：离开窗口的槽位提交结果未知，可能遗留挂单: slot=%s", slot)
		}
	}
	for i := range s.Cancels {
		c := s.Cancels[i]
		t.cancels[c.OrderID] = &c
	}
	for _, k := range s.SeenFills {
		t.fills.Set(k, struct{}{}, 0)
	}
	t.resetCount = s.ResetCount
	t.lastPrice = s.LastPrice
	if !s.LastTick.IsZero() {
		t.opts.Guard.SetLastTick(s.LastTick)
	}

	log.Infof("♻️ [tracker] 已从快照恢复: unit=%d phase=%s resets=%d actions=%d cancels=%d",
		s.CurrentUnit, s.Phase, s.ResetCount, len(t.actions), len(t.cancels))
	return t, nil
}

// ResumeCancels 恢复后重新发起未确认的撤单。
func (t *Tracker) ResumeCancels(ctx context.Context) {
	for id, c := range t.cancels {
		t.requestCancel(ctx, id, c.SlotID, c.Side)
	}
}
