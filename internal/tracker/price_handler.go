package tracker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/events"
	"github.com/betbot/unitgrid/internal/feed"
	"github.com/betbot/unitgrid/internal/fragment"
	"github.com/betbot/unitgrid/internal/unitgrid"
	"github.com/betbot/unitgrid/internal/window"
)

func (t *Tracker) handleTick(ctx context.Context, tick domain.PriceTick) {
	if reason := t.opts.Guard.AcceptTick(&tick); reason != feed.DropNone {
		log.Debugf("🧹 [tracker] 丢弃行情: reason=%s price=%s ts=%s", reason, tick.Price, tick.Timestamp.Format(time.RFC3339Nano))
		t.publish(events.FeedDroppedEvent{Stream: "price", Reason: string(reason), Timestamp: t.now()})
		return
	}
	t.lastPrice = tick.Price

	adv := t.grid.AdvanceTo(tick.Price)
	if adv.Anchored {
		t.onAnchored(tick.Price)
		return
	}
	for _, c := range adv.Crossings {
		t.processCrossing(ctx, c, tick.Timestamp, "")
	}
}

func (t *Tracker) onAnchored(price decimal.Decimal) {
	t.acct.Anchor(price)
	if err := t.anchorWindow(); err != nil {
		// 窗口参数在 New 中已校验
		panic(err)
	}
	l := t.acct.Ledger()
	log.Infof("⚓ [tracker] 网格已锚定: entry=%s unit=%s asset=%s notional=%s", l.EntryPrice, l.UnitSize, l.OriginalAssetSize, l.OriginalNotional)
}

// processCrossing 处理一次单位穿越。forced 为已经成交的窗口订单（插针），
// 被触发时无条件由它执行动作。
func (t *Tracker) processCrossing(ctx context.Context, c unitgrid.Crossing, ts time.Time, forced domain.OrderID) {
	prev := t.phase.State()
	oldUnit := t.win.CurrentUnit()

	acts := t.scale(prev, c)
	ch := t.win.OnUnitChange(c.Unit, c.Direction)
	tr := t.phase.Update(t.win.Composition(), c.Unit)
	if t.phase.AtPeak() {
		t.acct.LockFragmentAt(c.Price, c.Unit)
	}

	t.publish(events.UnitChangedEvent{Old: oldUnit, New: c.Unit, Direction: c.Direction, Price: c.Price, Timestamp: ts})
	log.Infof("📍 [tracker] 单位变化: %d -> %d (%s) price=%s", oldUnit, c.Unit, c.Direction, c.Price)
	if tr.Changed {
		t.publish(events.PhaseChangedEvent{Old: tr.Old.Phase, New: tr.New.Phase, Comp: tr.New.Composition, Unit: c.Unit, Timestamp: ts})
		log.Infof("🔀 [tracker] 阶段变化: %s -> %s (%s) peak=%d", tr.Old.Phase, tr.New.Phase, tr.New.Composition, tr.New.PeakUnit)
	}

	t.applyWindowChange(ctx, ch, acts, forced)

	if tr.ResetDue {
		t.reset(c)
	}
}

// scale 由穿越前的阶段决定记账动作：
// 向下时 RECOVERY 反向回升，其余按相对 peak 的缩放表执行；
// 向上时 RETRACEMENT 反向回撤，DECLINE/RECOVERY 按相对 valley 回升，ADVANCE 只跟随。
func (t *Tracker) scale(prev domain.PhaseState, c unitgrid.Crossing) []fragment.Action {
	if c.Direction == domain.DirectionDown {
		if prev.Phase == domain.PhaseRecovery {
			return t.acct.Unrecover(c.Unit, c.Price)
		}
		return t.acct.Retrace(c.Unit, c.Unit-prev.PeakUnit, c.Price)
	}
	switch prev.Phase {
	case domain.PhaseRetracement:
		return t.acct.Unretrace(c.Unit, c.Price)
	case domain.PhaseDecline, domain.PhaseRecovery:
		valley, ok := prev.Valley()
		if !ok {
			valley = prev.CurrentUnit
		}
		return t.acct.Recover(c.Unit, c.Unit-valley, c.Price)
	}
	return nil
}

func (t *Tracker) applyWindowChange(ctx context.Context, ch window.Change, acts []fragment.Action, forced domain.OrderID) {
	for _, o := range ch.Retired {
		t.retire(ctx, o)
	}

	var asset *fragment.Action
	for i := range acts {
		if acts[i].IsAsset() && asset == nil {
			asset = &acts[i]
			continue
		}
		t.track(acts[i])
	}
	t.bindTriggered(ctx, ch.Triggered, asset, forced)
}

// bindTriggered 决定被触发的窗口挂单与资产动作的关系：
// 已挂出且数量一致（或已成交）时由挂单执行动作；仍在提交中时等结果回来再绑定；
// 其余情况撤掉挂单，动作以市价单执行。
func (t *Tracker) bindTriggered(ctx context.Context, o *domain.PendingOrder, act *fragment.Action, forced domain.OrderID) {
	if o == nil {
		if act != nil {
			t.track(*act)
		}
		return
	}
	if act == nil {
		t.retire(ctx, o)
		return
	}

	sameSize := o.Size.Equal(act.Asset)
	switch {
	case o.IsLive() && (sameSize || (!forced.IsZero() && o.OrderID == forced)):
		a := t.track(*act)
		a.Status = domain.OrderStatusSubmitted
		a.OrderID = o.OrderID
		a.SlotID = o.ID
		t.actionByOrder[o.OrderID] = act.ID
	case !o.IsLive() && sameSize && t.opts.Deduper.InFlight(o.ID):
		a := t.track(*act)
		a.Status = domain.OrderStatusSubmitted
		a.SlotID = o.ID
		t.triggering[o.ID] = act.ID
	default:
		t.retire(ctx, o)
		t.track(*act)
	}
}

// retire 离开窗口的挂单：已挂出的撤单；提交中的等结果回来再撤。
func (t *Tracker) retire(ctx context.Context, o *domain.PendingOrder) {
	switch {
	case o.IsLive():
		t.requestCancel(ctx, o.OrderID, o.ID, o.Side.TradeSide())
	case t.opts.Deduper.InFlight(o.ID):
		t.triggering[o.ID] = ""
	}
}

// reset RECOVERY 完成：结算本周期、复利、新周期从当前单位开始。
// 仍在执行的动作改为结算动作，按计划价估算的盈亏计入本周期再复利。
func (t *Tracker) reset(c unitgrid.Crossing) {
	res := t.acct.Reset(c.Unit, c.Price, t.settleOutstanding())
	t.phase.Reset(c.Unit)
	t.resetCount++
	for _, a := range res.Actions {
		t.track(a)
	}
	t.publish(events.ResetOccurredEvent{
		CompoundedSize: res.Compounded,
		RealizedPnL:    res.CyclePnL,
		ResetCount:     t.resetCount,
		Unit:           c.Unit,
		Timestamp:      t.now(),
	})
	log.Infof("♻️ [tracker] 周期 reset #%d: unit=%d realized=%s asset=%s notional=%s",
		t.resetCount, c.Unit, res.CyclePnL, res.Ledger.OriginalAssetSize, res.Ledger.OriginalNotional)
}

// settleOutstanding 把未完成的动作标记为结算动作，返回剩余部分按计划价估算的盈亏。
func (t *Tracker) settleOutstanding() decimal.Decimal {
	total := decimal.Zero
	for _, a := range t.actions {
		if a.Action.Settles {
			continue
		}
		a.Action.Settles = true
		total = total.Add(a.Action.Estimate(a.Action.Asset.Sub(a.Filled)))
	}
	return total
}

// settle 每条消息处理完后的收尾：重算挂单数量、提交到期订单、检查不变量、输出快照。
func (t *Tracker) settle(ctx context.Context) {
	if t.win == nil {
		return
	}
	t.resizeWindow(ctx)
	t.submitDue(ctx)
	t.checkInvariant()
	if t.opts.OnSnapshot != nil {
		t.opts.OnSnapshot(t.Snapshot())
	}
}

func (t *Tracker) resizeWindow(ctx context.Context) {
	ps := t.phase.State()
	want := make(map[string]decimal.Decimal, t.win.Size())

	stops := t.win.Stops()
	stopPlan := t.acct.PlanStops(units(stops), ps)
	for i, o := range stops {
		want[o.ID] = stopPlan[i]
	}
	buys := t.win.Buys()
	buyPlan := t.acct.PlanBuys(units(buys), ps)
	for i, o := range buys {
		want[o.ID] = buyPlan[i]
	}

	ch := t.win.Resize(func(o *domain.PendingOrder) decimal.Decimal {
		// 提交中的槽位等结果回来后再调整
		if t.opts.Deduper.InFlight(o.ID) {
			return o.Size
		}
		return want[o.ID]
	})
	for _, o := range ch.Retired {
		log.Debugf("📏 [tracker] 挂单数量变化，撤单重下: %s", o)
		t.retire(ctx, o)
	}
}

func (t *Tracker) checkInvariant() {
	err := t.win.CheckInvariant()
	if err == nil {
		return
	}
	if t.opts.StrictInvariants {
		panic(err)
	}
	log.WithError(err).WithField("window", t.win.String()).Error("❌ [tracker] 窗口不变量被破坏")
	t.publish(events.InvariantViolatedEvent{Detail: err.Error(), Timestamp: t.now()})
}

func units(list []*domain.PendingOrder) []int {
	out := make([]int, len(list))
	for i, o := range list {
		out[i] = o.Unit
	}
	return out
}
