package tracker

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/unitgrid/internal/domain"
)

type msgKind string

const (
	msgPriceTick     msgKind = "price_tick"
	msgFill          msgKind = "fill"
	msgCancelTimeout msgKind = "cancel_timeout"
	msgSnapshot      msgKind = "snapshot"
)

type message struct {
	kind    msgKind
	tick    domain.PriceTick
	fill    domain.Fill
	orderID domain.OrderID
	reply   chan Snapshot
}

// OnPrice 把行情投递到 inbox（ports.PriceHandler）。
func (t *Tracker) OnPrice(ctx context.Context, tick domain.PriceTick) error {
	return t.enqueue(ctx, message{kind: msgPriceTick, tick: tick})
}

// OnFill 把成交投递到 inbox（ports.FillHandler）。
func (t *Tracker) OnFill(ctx context.Context, fill domain.Fill) error {
	return t.enqueue(ctx, message{kind: msgFill, fill: fill})
}

// RequestSnapshot 从任意 goroutine 获取一致的快照。
func (t *Tracker) RequestSnapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := t.enqueue(ctx, message{kind: msgSnapshot, reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, errors.Wrap(ctx.Err(), "wait snapshot")
	case <-t.stopC:
		return Snapshot{}, errors.New("tracker stopped")
	}
}

func (t *Tracker) enqueue(ctx context.Context, m message) error {
	select {
	case t.inbox <- m:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "enqueue %s", m.kind)
	case <-t.stopC:
		return errors.Errorf("tracker stopped, drop %s", m.kind)
	}
}

// scheduleCancelTimeout 撤单超时后向 inbox 投递 cancel_timeout。
func (t *Tracker) scheduleCancelTimeout(id domain.OrderID) {
	time.AfterFunc(t.opts.CancelTimeout, func() {
		select {
		case t.inbox <- message{kind: msgCancelTimeout, orderID: id}:
		case <-t.stopC:
		default:
			log.Warnf("⚠️ [tracker] inbox 已满，丢弃 cancel_timeout: %s", id)
		}
	})
}

// Run 单线程事件循环：状态只在这个 goroutine 中变更。
// 挂起只发生在 select 上，业务逻辑内部不 sleep。
func (t *Tracker) Run(ctx context.Context) error {
	t.opts.Executor.Start(ctx)
	log.Infof("✅ [tracker] 事件循环已启动: symbol=%s window=%d", t.symbol, t.opts.WindowSize)

	ticker := time.NewTicker(t.opts.RetryInterval)
	defer ticker.Stop()
	defer t.stopOnce.Do(func() { close(t.stopC) })
	defer log.Infof("🛑 [tracker] 事件循环已退出")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case m := <-t.inbox:
			t.handleMessage(ctx, m)

		case r := <-t.results:
			t.handleResult(ctx, r)
			t.settle(ctx)

		case <-ticker.C:
			// 重试被拒的挂单/动作
			t.settle(ctx)
		}
	}
}

func (t *Tracker) handleMessage(ctx context.Context, m message) {
	switch m.kind {
	case msgPriceTick:
		t.handleTick(ctx, m.tick)
	case msgFill:
		t.handleFill(ctx, m.fill)
	case msgCancelTimeout:
		t.handleCancelTimeout(ctx, m.orderID)
	case msgSnapshot:
		m.reply <- t.Snapshot()
		return
	}
	t.settle(ctx)
}

// HandlePrice 同步处理一笔行情并消化全部命令结果（回放/测试用，不能与 Run 并发）。
func (t *Tracker) HandlePrice(ctx context.Context, tick domain.PriceTick) {
	t.handleMessage(ctx, message{kind: msgPriceTick, tick: tick})
	t.drain(ctx)
}

// HandleFill 同步处理一笔成交。
func (t *Tracker) HandleFill(ctx context.Context, fill domain.Fill) {
	t.handleMessage(ctx, message{kind: msgFill, fill: fill})
	t.drain(ctx)
}

// HandleCancelTimeout 同步处理撤单超时。
func (t *Tracker) HandleCancelTimeout(ctx context.Context, id domain.OrderID) {
	t.handleMessage(ctx, message{kind: msgCancelTimeout, orderID: id})
	t.drain(ctx)
}

// Tick 同步执行一次重试检查。
func (t *Tracker) Tick(ctx context.Context) {
	t.settle(ctx)
	t.drain(ctx)
}

func (t *Tracker) drain(ctx context.Context) {
	for {
		select {
		case r := <-t.results:
			t.handleResult(ctx, r)
			t.settle(ctx)
		default:
			return
		}
	}
}
