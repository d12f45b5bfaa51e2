package tracker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/events"
	"github.com/betbot/unitgrid/internal/feed"
	"github.com/betbot/unitgrid/internal/fragment"
)

func (t *Tracker) handleFill(ctx context.Context, fill domain.Fill) {
	id, err := domain.ParseOrderID(string(fill.OrderID))
	if err != nil {
		log.WithError(err).Warnf("⚠️ [tracker] 成交回报订单 ID 无法解析: %q", fill.OrderID)
		t.publish(events.FeedDroppedEvent{Stream: "fill", Reason: string(feed.DropInvalid), Timestamp: t.now()})
		return
	}
	fill.OrderID = id

	if reason := t.opts.Guard.AcceptFill(&fill); reason != feed.DropNone {
		log.Debugf("🧹 [tracker] 丢弃成交: reason=%s order=%s", reason, id)
		t.publish(events.FeedDroppedEvent{Stream: "fill", Reason: string(reason), Timestamp: t.now()})
		return
	}
	key := fill.Key()
	if !t.fills.SetIfAbsent(key, struct{}{}, 0) {
		log.Debugf("🧹 [tracker] %v: %s", domain.ErrDuplicateFill, key)
		t.publish(events.FeedDroppedEvent{Stream: "fill", Reason: "duplicate", Timestamp: t.now()})
		return
	}
	t.applyFill(ctx, fill)
}

// applyFill 把成交映射到被跟踪的单位：动作订单、窗口挂单（插针）、待撤订单。
// 都不匹配时先暂存，等下单结果带回订单 ID 后重放。
func (t *Tracker) applyFill(ctx context.Context, fill domain.Fill) {
	if actionID, ok := t.actionByOrder[fill.OrderID]; ok {
		if a := t.findAction(actionID); a != nil {
			t.applyActionFill(a, fill)
			return
		}
	}
	if t.win != nil {
		if o, ok := t.win.FindByOrderID(fill.OrderID); ok {
			t.applyWickFill(ctx, o, fill)
			return
		}
	}
	if req, ok := t.cancels[fill.OrderID]; ok {
		delete(t.cancels, fill.OrderID)
		log.Warnf("⚠️ [tracker] 待撤订单已成交: order=%s slot=%s size=%s", fill.OrderID, req.SlotID, fill.Size)
		t.applyUnplannedFill(req.Side, fill)
		return
	}

	if len(t.parked) >= maxParkedFills {
		log.WithError(errors.Wrap(domain.ErrUnknownOrder, string(fill.OrderID))).Warn("⚠️ [tracker] 暂存成交已满，丢弃")
		return
	}
	log.Debugf("⏳ [tracker] 成交暂未匹配订单，暂存: %s", fill.OrderID)
	t.parked[fill.OrderID] = append(t.parked[fill.OrderID], fill)
}

// replayParked 订单 ID 确认后重放暂存的成交。
func (t *Tracker) replayParked(ctx context.Context, id domain.OrderID) {
	fills, ok := t.parked[id]
	if !ok {
		return
	}
	delete(t.parked, id)
	for _, f := range fills {
		t.applyFill(ctx, f)
	}
}

// applyWickFill 窗口挂单在没有观察到穿越的情况下成交：成交即说明价格到过该单位，
// 按挂单价推进网格，穿越流程会触发它并绑定对应动作。
func (t *Tracker) applyWickFill(ctx context.Context, o *domain.PendingOrder, fill domain.Fill) {
	id := o.OrderID
	unit, side := o.Unit, o.Side
	log.Warnf("📌 [tracker] 窗口挂单未经穿越成交（插针）: %s fill=%s", o, fill.Price)

	adv := t.grid.AdvanceTo(o.Price)
	for _, c := range adv.Crossings {
		t.processCrossing(ctx, c, fill.Timestamp, id)
	}
	if actionID, ok := t.actionByOrder[id]; ok {
		if a := t.findAction(actionID); a != nil {
			t.applyActionFill(a, fill)
			return
		}
	}
	if _, ok := t.cancels[id]; ok {
		// 被触发但没有对应动作
		delete(t.cancels, id)
		t.applyUnplannedFill(side.TradeSide(), fill)
		return
	}
	if ch, ok := t.win.OnFill(unit, side); ok {
		ch.Triggered = nil
		t.applyWindowChange(ctx, ch, nil, "")
	}
	t.applyUnplannedFill(side.TradeSide(), fill)
}

func (t *Tracker) applyActionFill(a *ActionOrder, fill domain.Fill) {
	size := decimal.Min(fill.Size, a.Action.Asset.Sub(a.Filled))
	if !size.IsPositive() {
		log.Warnf("⚠️ [tracker] 动作已完全成交，忽略多余成交: %s fill=%s", a.Action, fill.Size)
		return
	}
	a.Filled = a.Filled.Add(size)

	var pnl decimal.Decimal
	if a.Action.Settles {
		pnl = t.acct.RealizeSettlement(a.Action, fill.Price, size)
	} else {
		pnl = t.acct.Realize(a.Action.Kind, a.Action.Reference, fill.Price, size)
	}
	switch a.Action.Kind {
	case fragment.KindSellAsset, fragment.KindBuyAsset:
		t.acct.ApplyAssetFill(a.Action.TradeSide(), size, fill.Price)
	case fragment.KindOpenHedge:
		t.acct.ConfirmHedgeOpen(a.Action.HedgeLotID, fill.Price)
	}
	t.opts.Breaker.AddPnL(pnl)

	t.publish(events.FillAppliedEvent{
		OrderID:   fill.OrderID,
		Unit:      a.Action.Unit,
		Price:     fill.Price,
		Size:      size,
		PnL:       pnl,
		Timestamp: fill.Timestamp,
	})
	log.Infof("💰 [tracker] 成交记账: %s fill=%s@%s pnl=%s total=%s",
		a.Action, size, fill.Price, pnl, t.acct.RealizedPnL())

	if a.Filled.GreaterThanOrEqual(a.Action.Asset) {
		a.Status = domain.OrderStatusFilled
		t.removeAction(a.Action.ID)
	}
}

// applyUnplannedFill 不属于任何动作的成交只更新账本当前持仓。
func (t *Tracker) applyUnplannedFill(side domain.TradeSide, fill domain.Fill) {
	t.acct.ApplyAssetFill(side, fill.Size, fill.Price)
	t.publish(events.FillAppliedEvent{
		OrderID:   fill.OrderID,
		Unit:      t.grid.UnitForPrice(fill.Price),
		Price:     fill.Price,
		Size:      fill.Size,
		PnL:       decimal.Zero,
		Timestamp: fill.Timestamp,
	})
	log.Errorf("❌ [tracker] 非计划成交，仅更新持仓: order=%s side=%s size=%s price=%s", fill.OrderID, side, fill.Size, fill.Price)
}
