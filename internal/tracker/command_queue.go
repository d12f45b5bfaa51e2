package tracker

import (
	"context"
	"fmt"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/events"
	"github.com/betbot/unitgrid/internal/execution"
	"github.com/betbot/unitgrid/internal/ports"
	"github.com/betbot/unitgrid/internal/window"
)

type cmdKind string

const (
	cmdPlaceSlot   cmdKind = "place_slot"
	cmdPlaceAction cmdKind = "place_action"
	cmdCancel      cmdKind = "cancel"
)

type cmdResult struct {
	kind      cmdKind
	ref       string // 槽位 ID 或动作 ID
	req       ports.OrderRequest
	res       ports.PlaceResult
	orderID   domain.OrderID // 撤单目标
	cancelled bool
	err       error
}

// postResult 在执行器 goroutine 中调用；tracker 停止后丢弃。
func (t *Tracker) postResult(r cmdResult) {
	select {
	case t.results <- r:
	case <-t.stopC:
		log.Warnf("⚠️ [tracker] 已停止，丢弃命令结果: %s %s", r.kind, r.ref)
	}
}

// submitDue 先提交市价动作，再提交到期的窗口挂单。
func (t *Tracker) submitDue(ctx context.Context) {
	now := t.now()
	for _, a := range t.actions {
		due := a.Status == domain.OrderStatusPending ||
			(a.Status == domain.OrderStatusFailed && !now.Before(a.NextRetryAt))
		if due && !t.opts.Deduper.InFlight(a.Action.ID) {
			t.submitAction(ctx, a)
		}
	}
	for _, o := range t.win.DueForSubmit(now) {
		if !o.Size.IsPositive() || t.opts.Deduper.InFlight(o.ID) {
			continue
		}
		t.submitSlot(ctx, o)
	}
}

func (t *Tracker) submitSlot(_ context.Context, o *domain.PendingOrder) {
	if err := t.opts.Deduper.TryAcquire(o.ID); err != nil {
		return
	}
	if err := t.opts.Breaker.AllowTrading(); err != nil {
		t.opts.Deduper.Release(o.ID)
		t.win.MarkFailed(o.ID, err.Error(), t.now())
		log.Warnf("⛔ [tracker] 断路器打开，暂停挂单: %s err=%v", o, err)
		return
	}
	price := o.Price
	req := ports.OrderRequest{
		ClientID:   o.ID,
		Symbol:     t.symbol,
		Side:       o.Side.TradeSide(),
		Size:       o.Size,
		Price:      &price,
		ReduceOnly: o.Side == domain.SideTrailingStop,
	}
	if !t.dispatchPlace(cmdPlaceSlot, o.ID, req) {
		t.win.MarkFailed(o.ID, "executor queue full", t.now())
	}
}

func (t *Tracker) submitAction(_ context.Context, a *ActionOrder) {
	id := a.Action.ID
	if err := t.opts.Deduper.TryAcquire(id); err != nil {
		return
	}
	if err := t.opts.Breaker.AllowTrading(); err != nil {
		t.opts.Deduper.Release(id)
		t.failAction(a, err.Error())
		log.Warnf("⛔ [tracker] 断路器打开，暂停动作: %s err=%v", a.Action, err)
		return
	}
	req := ports.OrderRequest{
		ClientID:   id,
		Symbol:     t.symbol,
		Side:       a.Action.TradeSide(),
		Size:       a.Action.Asset,
		ReduceOnly: a.Action.ReduceOnly(),
		Hedge:      a.Action.IsHedge(),
	}
	if !t.dispatchPlace(cmdPlaceAction, id, req) {
		t.failAction(a, "executor queue full")
	}
}

func (t *Tracker) failAction(a *ActionOrder, reason string) {
	a.Status = domain.OrderStatusFailed
	a.Attempts++
	a.LastError = reason
	a.NextRetryAt = t.now().Add(window.RetryDelay(a.Attempts))
}

func (t *Tracker) dispatchPlace(kind cmdKind, ref string, req ports.OrderRequest) bool {
	gw := t.opts.Gateway
	ok := t.opts.Executor.Submit(execution.Command{
		Name:    fmt.Sprintf("%s_%s", kind, ref),
		Timeout: t.opts.CommandTimeout,
		Do: func(ctx context.Context) {
			res, err := gw.PlaceOrder(ctx, req)
			t.postResult(cmdResult{kind: kind, ref: ref, req: req, res: res, err: err})
		},
	})
	if !ok {
		t.opts.Deduper.Release(ref)
	}
	return ok
}

// requestCancel 发起（或重发）撤单，超时后由 cancel_timeout 消息检查。
func (t *Tracker) requestCancel(_ context.Context, id domain.OrderID, slotID string, side domain.TradeSide) {
	req, ok := t.cancels[id]
	if !ok {
		req = &CancelRequest{OrderID: id, SlotID: slotID, Side: side, RequestedAt: t.now()}
		t.cancels[id] = req
	}
	req.Attempts++

	gw := t.opts.Gateway
	ok = t.opts.Executor.Submit(execution.Command{
		Name:    fmt.Sprintf("%s_%s", cmdCancel, id),
		Timeout: t.opts.CommandTimeout,
		Do: func(ctx context.Context) {
			cancelled, err := gw.CancelOrder(ctx, id)
			t.postResult(cmdResult{kind: cmdCancel, ref: slotID, orderID: id, cancelled: cancelled, err: err})
		},
	})
	if !ok {
		log.Warnf("⚠️ [tracker] 撤单命令投递失败，等待超时重试: %s", id)
	}
	t.scheduleCancelTimeout(id)
}

func (t *Tracker) handleCancelTimeout(ctx context.Context, id domain.OrderID) {
	req, ok := t.cancels[id]
	if !ok {
		return
	}
	if req.Attempts >= t.opts.MaxCancelAttempts {
		delete(t.cancels, id)
		log.Errorf("❌ [tracker] 撤单多次未确认，放弃: order=%s attempts=%d", id, req.Attempts)
		t.publish(events.OrderRejectedEvent{Ref: string(id), Reason: "cancel unconfirmed", Attempts: req.Attempts, Timestamp: t.now()})
		return
	}
	log.Warnf("⏱️ [tracker] 撤单超时未确认，重试: order=%s attempts=%d", id, req.Attempts)
	t.requestCancel(ctx, id, req.SlotID, req.Side)
}

// outcome 统一下单结果：传输错误与交易所拒单都视为被拒。
func outcome(r cmdResult) (domain.OrderID, bool, string) {
	if r.err != nil {
		return "", false, r.err.Error()
	}
	if !r.res.Accepted {
		reason := r.res.Reason
		if reason == "" {
			reason = "rejected"
		}
		return "", false, reason
	}
	id, err := domain.ParseOrderID(string(r.res.OrderID))
	if err != nil {
		return "", false, err.Error()
	}
	return id, true, ""
}

func (t *Tracker) handleResult(ctx context.Context, r cmdResult) {
	switch r.kind {
	case cmdPlaceSlot:
		t.opts.Deduper.Release(r.ref)
		t.onSlotResult(ctx, r)
	case cmdPlaceAction:
		t.opts.Deduper.Release(r.ref)
		t.onActionResult(ctx, r)
	case cmdCancel:
		t.onCancelResult(r)
	}
}

func (t *Tracker) onSlotResult(ctx context.Context, r cmdResult) {
	id, accepted, reason := outcome(r)
	if accepted {
		t.opts.Breaker.OnSuccess()
	} else {
		t.opts.Breaker.OnRejection()
	}

	if o, ok := t.win.Find(r.ref); ok {
		if accepted {
			t.win.MarkSubmitted(o.ID, id)
			log.Debugf("✅ [tracker] 挂单已接受: %s", o)
			t.replayParked(ctx, id)
			return
		}
		t.win.MarkFailed(o.ID, reason, t.now())
		t.publish(events.OrderRejectedEvent{Ref: o.ID, Unit: o.Unit, Reason: reason, Attempts: o.Attempts, Timestamp: t.now()})
		log.Warnf("⚠️ [tracker] 挂单被拒，%s 后重试: %s reason=%s", window.RetryDelay(o.Attempts), o, reason)
		return
	}

	// 槽位已离开窗口（被触发或被跟随撤掉）
	actionID := t.triggering[r.ref]
	delete(t.triggering, r.ref)
	a := t.findAction(actionID)
	switch {
	case accepted && a != nil:
		a.OrderID = id
		a.Status = domain.OrderStatusSubmitted
		t.actionByOrder[id] = a.Action.ID
		t.replayParked(ctx, id)
	case accepted:
		log.Infof("🧹 [tracker] 已离开窗口的挂单被接受，撤单: slot=%s order=%s", r.ref, id)
		t.requestCancel(ctx, id, r.ref, r.req.Side)
	case a != nil:
		log.Warnf("⚠️ [tracker] 被触发的挂单提交失败，改用市价执行: %s reason=%s", a.Action, reason)
		a.Status = domain.OrderStatusPending
		a.SlotID = ""
	}
}

func (t *Tracker) onActionResult(ctx context.Context, r cmdResult) {
	a := t.findAction(r.ref)
	id, accepted, reason := outcome(r)
	if accepted {
		t.opts.Breaker.OnSuccess()
	} else {
		t.opts.Breaker.OnRejection()
	}
	if a == nil {
		log.Warnf("⚠️ [tracker] 未知动作的下单结果: ref=%s accepted=%v", r.ref, accepted)
		return
	}
	if !accepted {
		t.failAction(a, reason)
		t.publish(events.OrderRejectedEvent{Ref: a.Action.ID, Unit: a.Action.Unit, Reason: reason, Attempts: a.Attempts, Timestamp: t.now()})
		log.Warnf("⚠️ [tracker] 动作下单被拒，%s 后重试: %s reason=%s", window.RetryDelay(a.Attempts), a.Action, reason)
		return
	}
	a.Status = domain.OrderStatusSubmitted
	a.OrderID = id
	a.LastError = ""
	t.actionByOrder[id] = a.Action.ID
	log.Debugf("✅ [tracker] 动作已下单: %s order=%s", a.Action, id)
	t.replayParked(ctx, id)
}

func (t *Tracker) onCancelResult(r cmdResult) {
	if r.err != nil || !r.cancelled {
		t.opts.Breaker.OnRejection()
		log.Warnf("⚠️ [tracker] 撤单未确认: order=%s err=%v", r.orderID, r.err)
		return
	}
	t.opts.Breaker.OnSuccess()
	if _, ok := t.cancels[r.orderID]; ok {
		delete(t.cancels, r.orderID)
		log.Debugf("✅ [tracker] 撤单已确认: %s", r.orderID)
	}
}
