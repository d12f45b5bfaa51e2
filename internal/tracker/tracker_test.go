package tracker

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/events"
	"github.com/betbot/unitgrid/internal/fragment"
	"github.com/betbot/unitgrid/internal/ports"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	placed    []ports.OrderRequest
	ids       map[string]domain.OrderID // client id -> order id
	cancelled []domain.OrderID
	reject    func(req ports.OrderRequest) string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{ids: make(map[string]domain.OrderID)}
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req ports.OrderRequest) (ports.PlaceResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.placed = append(g.placed, req)
	if g.reject != nil {
		if reason := g.reject(req); reason != "" {
			return ports.PlaceResult{Accepted: false, Reason: reason}, nil
		}
	}
	g.seq++
	id := domain.OrderID(strconv.Itoa(1000 + g.seq))
	g.ids[req.ClientID] = id
	return ports.PlaceResult{Accepted: true, OrderID: id}, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, id domain.OrderID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, id)
	return true, nil
}

// orderAt 按价格查找最近一次被接受的条件单。
func (g *fakeGateway) orderAt(price string) (domain.OrderID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := dec(price)
	for i := len(g.placed) - 1; i >= 0; i-- {
		req := g.placed[i]
		if req.Price != nil && req.Price.Equal(p) {
			id, ok := g.ids[req.ClientID]
			return id, ok
		}
	}
	return "", false
}

type recorder struct {
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) { r.events = append(r.events, ev) }

func (r *recorder) count(kind events.Kind) int {
	n := 0
	for _, ev := range r.events {
		if ev.EventKind() == kind {
			n++
		}
	}
	return n
}

func (r *recorder) unitChanges() []events.UnitChangedEvent {
	var out []events.UnitChangedEvent
	for _, ev := range r.events {
		if e, ok := ev.(events.UnitChangedEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) scaling() []events.ScalingActionEvent {
	var out []events.ScalingActionEvent
	for _, ev := range r.events {
		if e, ok := ev.(events.ScalingActionEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	t   *testing.T
	ctx context.Context
	tr  *Tracker
	gw  *fakeGateway
	rec *recorder
	now time.Time
}

func newHarness(t *testing.T, variant fragment.Variant, asset string, mutate ...func(*Options)) *harness {
	t.Helper()
	ledger, err := domain.NewPositionLedger(domain.LedgerParams{
		Symbol:     "ETH",
		EntryPrice: dec("2500"),
		UnitSize:   dec("250"),
		Leverage:   dec("1"),
		AssetSize:  dec(asset),
	})
	require.NoError(t, err)

	h := &harness{t: t, ctx: context.Background(), gw: newFakeGateway(), rec: &recorder{}, now: time.Unix(1_700_000_000, 0)}
	cfg := fragment.DefaultConfig()
	cfg.Variant = variant
	opts := Options{
		Ledger:   ledger,
		Fragment: cfg,
		Gateway:  h.gw,
		Sink:     h.rec,
		Clock:    func() time.Time { return h.now },
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.tr, err = New(opts)
	require.NoError(t, err)
	t.Cleanup(h.tr.Close)
	return h
}

func (h *harness) price(p string) {
	h.now = h.now.Add(time.Second)
	h.tr.HandlePrice(h.ctx, domain.PriceTick{Symbol: "ETH", Price: dec(p), Timestamp: h.now})
}

func (h *harness) fill(id domain.OrderID, price, size decimal.Decimal) {
	h.now = h.now.Add(time.Millisecond)
	h.tr.HandleFill(h.ctx, domain.Fill{OrderID: id, Price: price, Size: size, Timestamp: h.now})
}

// fillActions 以计划价格成交所有已挂出的动作订单。
func (h *harness) fillActions() {
	for _, a := range h.tr.Actions() {
		if a.Status == domain.OrderStatusSubmitted && !a.OrderID.IsZero() {
			h.fill(a.OrderID, a.Action.Price, a.Action.Asset.Sub(a.Filled))
		}
	}
}

func (h *harness) stopUnits() []int { return units(h.tr.Window().Stops()) }
func (h *harness) buyUnits() []int  { return units(h.tr.Window().Buys()) }

func TestTickBelowFirstBoundaryCrossesOnce(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "5")

	h.price("2500")
	require.Len(t, h.gw.placed, 4)
	for i, req := range h.gw.placed {
		assert.Equal(t, domain.TradeSell, req.Side)
		assert.True(t, req.ReduceOnly)
		assert.True(t, req.Size.Equal(dec("1.25")), "stop %d size=%s", i, req.Size)
		assert.True(t, req.Price.Equal(h.tr.Grid().PriceForUnit(-(i + 1))))
	}
	assert.True(t, h.tr.Grid().PriceForUnit(1).Equal(dec("2750")))
	assert.True(t, h.tr.Grid().PriceForUnit(-1).Equal(dec("2250")))

	h.price("2249")
	changes := h.rec.unitChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, 0, changes[0].Old)
	assert.Equal(t, -1, changes[0].New)
	assert.Equal(t, domain.DirectionDown, changes[0].Direction)

	assert.Equal(t, -1, h.tr.Grid().CurrentUnit())
	assert.Equal(t, domain.PhaseRetracement, h.tr.PhaseState().Phase)
	assert.Equal(t, []int{-2, -3, -4}, h.stopUnits())
	assert.Equal(t, []int{0}, h.buyUnits())

	// 分片在第一次缩放时延迟锁定
	frag := h.tr.Accountant().Fragment()
	assert.True(t, frag.Locked)
	assert.Equal(t, -1, frag.LockedUnit)
	assert.True(t, frag.LockedAsset.Equal(dec("1.25")))

	// 被触发的止损单执行卖出动作
	actions := h.tr.Actions()
	require.Len(t, actions, 1)
	stopID, ok := h.gw.orderAt("2250")
	require.True(t, ok)
	assert.Equal(t, fragment.KindSellAsset, actions[0].Action.Kind)
	assert.True(t, actions[0].Action.Asset.Equal(dec("1.25")))
	assert.Equal(t, stopID, actions[0].OrderID)
	assert.NotEmpty(t, actions[0].SlotID)

	// 新增的回补单按回撤记录定量
	buy := h.tr.Window().Buys()[0]
	assert.True(t, buy.IsLive())
	assert.True(t, buy.Size.Equal(dec("1.25")))
	assert.Equal(t, 1, h.rec.count(events.KindPhaseChanged))
}

func TestDuplicateFillWithDifferentIDRepresentations(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "5")
	h.price("2500")
	h.price("2249")

	stopID, ok := h.gw.orderAt("2250")
	require.True(t, ok)
	n, err := strconv.Atoi(string(stopID))
	require.NoError(t, err)

	ts := h.now.Add(time.Second)
	h.tr.HandleFill(h.ctx, domain.Fill{OrderID: domain.MustOrderID(n), Price: dec("2250"), Size: dec("1.25"), Timestamp: ts})
	h.tr.HandleFill(h.ctx, domain.Fill{OrderID: domain.OrderID("00" + string(stopID)), Price: dec("2250.0"), Size: dec("1.250"), Timestamp: ts})

	assert.Equal(t, 1, h.rec.count(events.KindFillApplied))
	assert.Equal(t, 1, h.rec.count(events.KindFeedDropped))
	assert.True(t, h.tr.Accountant().RealizedPnL().Equal(dec("-312.5")))
	assert.True(t, h.tr.Accountant().Ledger().CurrentAssetSize.Equal(dec("3.75")))
	assert.Empty(t, h.tr.Actions())
}

func TestScaledRetracementSellsCumulativeFragments(t *testing.T) {
	h := newHarness(t, fragment.VariantScaled, "0.4")
	for _, p := range []string{"2500", "2249", "1999", "1749", "1499"} {
		h.price(p)
	}

	var sells []string
	total := decimal.Zero
	hedges := 0
	for _, ev := range h.rec.scaling() {
		switch ev.Kind {
		case string(fragment.KindSellAsset):
			sells = append(sells, ev.Amount.String())
			total = total.Add(ev.Amount)
		case string(fragment.KindOpenHedge):
			hedges++
		}
	}
	assert.Equal(t, []string{"0.048", "0.096", "0.096", "0.096"}, sells)
	assert.True(t, total.Equal(dec("0.336")), "total=%s", total)
	assert.Equal(t, 4, hedges)
	assert.Equal(t, domain.PhaseDecline, h.tr.PhaseState().Phase)
	assert.Equal(t, 4, h.tr.Accountant().Hedge().Len())

	// 对冲以带 Hedge 标记的市价单执行
	var hedgeReqs int
	for _, req := range h.gw.placed {
		if req.Hedge {
			hedgeReqs++
			assert.Nil(t, req.Price)
			assert.Equal(t, domain.TradeSell, req.Side)
			assert.False(t, req.ReduceOnly)
		}
	}
	assert.Equal(t, 4, hedgeReqs)
}

func TestReversalMidRetracementRestoresPreviousUnit(t *testing.T) {
	h := newHarness(t, fragment.VariantScaled, "0.4")
	h.price("2500")
	h.price("2249")
	afterFirst := h.tr.Accountant().State()
	h.price("1999")
	lotAtMinus2 := h.tr.Accountant().Hedge().Lots[1]

	h.price("2250")
	assert.Equal(t, -1, h.tr.Grid().CurrentUnit())
	assert.Equal(t, domain.PhaseRetracement, h.tr.PhaseState().Phase)

	acct := h.tr.Accountant()
	assert.True(t, acct.LongHeld().Equal(afterFirst.LongHeld), "long=%s", acct.LongHeld())
	assert.True(t, acct.SoldOutstanding().Equal(afterFirst.SoldOutstanding))
	assert.Equal(t, 1, acct.RetraceDepth())
	require.Equal(t, 1, acct.Hedge().Len())
	assert.Equal(t, afterFirst.Hedge.Lots[0].ID, acct.Hedge().Lots[0].ID)

	var buy, closeHedge *ActionOrder
	for _, a := range h.tr.Actions() {
		if a.Action.Unit != -1 || !a.Action.Reverse {
			continue
		}
		switch a.Action.Kind {
		case fragment.KindBuyAsset:
			buy = a
		case fragment.KindCloseHedge:
			closeHedge = a
		}
	}
	require.NotNil(t, buy)
	require.NotNil(t, closeHedge)
	assert.True(t, buy.Action.Asset.Equal(dec("0.096")))
	assert.NotEmpty(t, buy.SlotID, "buy-back executed by the triggered re-entry order")
	assert.Equal(t, lotAtMinus2.ID, closeHedge.Action.HedgeLotID)
	assert.True(t, closeHedge.Action.Asset.Equal(lotAtMinus2.AssetAmount))
	assert.Equal(t, []int{0}, h.buyUnits())
	assert.Equal(t, []int{-2, -3, -4}, h.stopUnits())
}

func TestFullCycleCompoundsAtReset(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "4")
	for _, p := range []string{"2500", "2249", "1999", "1749", "1499"} {
		h.price(p)
		h.fillActions()
	}
	assert.Equal(t, domain.PhaseDecline, h.tr.PhaseState().Phase)
	valley, ok := h.tr.PhaseState().Valley()
	require.True(t, ok)
	assert.Equal(t, -4, valley)
	assert.True(t, h.tr.Accountant().LongHeld().IsZero())

	for _, p := range []string{"1750", "2000", "2250"} {
		h.price(p)
		h.fillActions()
		assert.Equal(t, domain.PhaseRecovery, h.tr.PhaseState().Phase)
	}
	h.price("2500")

	require.Equal(t, 1, h.tr.ResetCount())
	var reset events.ResetOccurredEvent
	for _, ev := range h.rec.events {
		if e, ok := ev.(events.ResetOccurredEvent); ok {
			reset = e
		}
	}
	assert.True(t, reset.RealizedPnL.Equal(dec("-1000")), "realized=%s", reset.RealizedPnL)
	assert.True(t, reset.CompoundedSize.Equal(dec("3.6")), "compounded=%s", reset.CompoundedSize)

	ps := h.tr.PhaseState()
	assert.Equal(t, domain.PhaseAdvance, ps.Phase)
	assert.Equal(t, 0, ps.PeakUnit)
	assert.Nil(t, ps.ValleyUnit)
	assert.False(t, h.tr.Accountant().Fragment().Locked)
	assert.True(t, h.tr.Accountant().Ledger().OriginalAssetSize.Equal(dec("3.6")))

	var topUp *ActionOrder
	for _, a := range h.tr.Actions() {
		if a.Action.Leg == fragment.LegReset && a.Action.Kind == fragment.KindSellAsset {
			topUp = a
		}
	}
	require.NotNil(t, topUp)
	assert.True(t, topUp.Action.Asset.Equal(dec("0.4")))

	// 新周期的止损单按新基线重新定量
	for _, o := range h.tr.Window().Stops() {
		assert.True(t, o.Size.Equal(dec("0.9")), "stop %d size=%s", o.Unit, o.Size)
	}
	assert.NotEmpty(t, h.gw.cancelled)
}

func resetEvent(t *testing.T, rec *recorder) events.ResetOccurredEvent {
	t.Helper()
	var reset *events.ResetOccurredEvent
	for _, ev := range rec.events {
		if e, ok := ev.(events.ResetOccurredEvent); ok {
			reset = &e
		}
	}
	require.NotNil(t, reset)
	return *reset
}

func TestResetSettlementFillsKeepLedgerInLine(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "4")
	for _, p := range []string{"2500", "2249", "1999", "1749", "1499", "1750", "2000", "2250"} {
		h.price(p)
		h.fillActions()
	}
	h.price("2500")
	require.Equal(t, 1, h.tr.ResetCount())

	// 最后一笔回升和 reset 动作都在 reset 之后成交
	h.fillActions()
	require.Empty(t, h.tr.Actions())

	acct := h.tr.Accountant()
	reset := resetEvent(t, h.rec)
	assert.True(t, acct.LongHeld().Equal(dec("3.6")))
	assert.True(t, acct.Ledger().CurrentAssetSize.Equal(acct.LongHeld()),
		"current=%s long=%s", acct.Ledger().CurrentAssetSize, acct.LongHeld())
	assert.True(t, acct.Ledger().CurrentNotional.Equal(dec("9000")))
	assert.True(t, acct.RealizedPnL().Equal(reset.RealizedPnL), "realized=%s", acct.RealizedPnL())
	assert.True(t, acct.CycleRealizedPnL().IsZero(), "cycle=%s", acct.CycleRealizedPnL())

	// 新周期的分片按复利后的基线锁定
	h.price("2249")
	h.fillActions()
	frag := acct.Fragment()
	assert.True(t, frag.Locked)
	assert.True(t, frag.LockedAsset.Equal(dec("0.9")), "fragment=%s", frag.LockedAsset)
	assert.True(t, acct.Ledger().CurrentAssetSize.Equal(dec("2.7")))
	assert.True(t, acct.Ledger().CurrentAssetSize.Equal(acct.LongHeld()))
}

func TestScaledResetCompoundsSettlementPnL(t *testing.T) {
	h := newHarness(t, fragment.VariantScaled, "4")
	for _, p := range []string{"2500", "2249", "1999", "1749", "1499", "1249", "999", "1250", "1500", "1750", "2000"} {
		h.price(p)
		h.fillActions()
	}
	require.Equal(t, 1, h.tr.ResetCount())
	require.Empty(t, h.tr.Actions())

	// 全部按计划价成交：reset 时的复利盈亏就是整个周期的最终盈亏
	acct := h.tr.Accountant()
	reset := resetEvent(t, h.rec)
	assert.True(t, acct.RealizedPnL().Equal(reset.RealizedPnL),
		"realized=%s reset=%s", acct.RealizedPnL(), reset.RealizedPnL)
	assert.True(t, acct.CycleRealizedPnL().IsZero(), "cycle=%s", acct.CycleRealizedPnL())
	assert.True(t, acct.LongHeld().Equal(reset.CompoundedSize))
	assert.True(t, acct.Ledger().CurrentAssetSize.Equal(acct.LongHeld()),
		"current=%s long=%s", acct.Ledger().CurrentAssetSize, acct.LongHeld())
	assert.Zero(t, acct.Hedge().Len())
}

func TestZeroTimestampPartialFillsAreNotCollapsed(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "5")
	h.price("2500")
	h.price("2249")
	stopID, ok := h.gw.orderAt("2250")
	require.True(t, ok)

	// 两笔同价同量的部分成交都没有时间戳，由接收时刻补齐
	h.tr.HandleFill(h.ctx, domain.Fill{OrderID: stopID, Price: dec("2250"), Size: dec("0.5")})
	h.now = h.now.Add(time.Millisecond)
	h.tr.HandleFill(h.ctx, domain.Fill{OrderID: stopID, Price: dec("2250"), Size: dec("0.5")})
	// 带成交编号的重复回报按编号去重
	h.tr.HandleFill(h.ctx, domain.Fill{OrderID: stopID, TradeID: "t-3", Price: dec("2250"), Size: dec("0.25")})
	h.tr.HandleFill(h.ctx, domain.Fill{OrderID: stopID, TradeID: "t-3", Price: dec("2250"), Size: dec("0.25")})

	assert.Equal(t, 3, h.rec.count(events.KindFillApplied))
	assert.Equal(t, 1, h.rec.count(events.KindFeedDropped))
	assert.True(t, h.tr.Accountant().RealizedPnL().Equal(dec("-312.5")))
	assert.True(t, h.tr.Accountant().Ledger().CurrentAssetSize.Equal(dec("3.75")))
	assert.Empty(t, h.tr.Actions())
}

func TestRejectedPlacementIsRetriedWithoutBookkeeping(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "4")
	h.gw.reject = func(ports.OrderRequest) string { return "insufficient margin" }

	h.price("2500")
	assert.Equal(t, 4, h.rec.count(events.KindOrderRejected))
	for _, o := range h.tr.Window().Stops() {
		assert.Equal(t, domain.OrderStatusFailed, o.Status)
		assert.Equal(t, 1, o.Attempts)
		assert.Equal(t, "insufficient margin", o.LastError)
	}
	require.NoError(t, h.tr.Window().CheckInvariant())

	// 退避期内不重试
	h.tr.Tick(h.ctx)
	assert.Len(t, h.gw.placed, 4)

	h.gw.reject = nil
	h.now = h.now.Add(2 * time.Second)
	h.tr.Tick(h.ctx)
	for _, o := range h.tr.Window().Stops() {
		assert.True(t, o.IsLive(), "stop %d", o.Unit)
	}
	acct := h.tr.Accountant()
	assert.True(t, acct.LongHeld().Equal(dec("4")))
	assert.Zero(t, acct.RetraceDepth())
	assert.False(t, acct.Fragment().Locked)
}

func TestTriggeredOrderThatNeverRestedExecutesAtMarket(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "5")
	h.gw.reject = func(req ports.OrderRequest) string {
		if req.Price != nil {
			return "trigger orders disabled"
		}
		return ""
	}
	h.price("2500")
	h.price("2249")

	var market []ports.OrderRequest
	for _, req := range h.gw.placed {
		if req.Price == nil {
			market = append(market, req)
		}
	}
	require.Len(t, market, 1)
	assert.Equal(t, domain.TradeSell, market[0].Side)
	assert.True(t, market[0].Size.Equal(dec("1.25")))
	assert.True(t, market[0].ReduceOnly)
	assert.False(t, market[0].Hedge)

	actions := h.tr.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, domain.OrderStatusSubmitted, actions[0].Status)
	assert.Empty(t, actions[0].SlotID)
}

func TestWickFillAdvancesThroughSkippedUnits(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "5")
	h.price("2500")

	id, ok := h.gw.orderAt("2000")
	require.True(t, ok)
	h.fill(id, dec("2000"), dec("1.25"))

	assert.Equal(t, -2, h.tr.Grid().CurrentUnit())
	assert.Len(t, h.rec.unitChanges(), 2)
	assert.True(t, h.tr.Accountant().RealizedPnL().Equal(dec("-625")))

	// -1 的动作仍在等待成交，-2 的已完成
	actions := h.tr.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, -1, actions[0].Action.Unit)
	assert.Equal(t, []int{-1, 0}, h.buyUnits())
	assert.Equal(t, []int{-3, -4}, h.stopUnits())
}

func TestFillBeforePlacementResultIsReplayed(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "5")

	// 成交先于下单结果到达：处理完这条消息后窗口才挂出，第一张止损单获得 1001
	h.fill(domain.MustOrderID(1001), dec("2250"), dec("1.25"))

	// 重放插针成交后 0 单位补挂回补单
	require.Len(t, h.gw.placed, 5)
	last := h.gw.placed[4]
	assert.Equal(t, domain.TradeBuy, last.Side)
	require.NotNil(t, last.Price)
	assert.True(t, last.Price.Equal(dec("2500")), "price=%s", last.Price)
	assert.Equal(t, -1, h.tr.Grid().CurrentUnit())
	assert.Equal(t, 1, h.rec.count(events.KindFillApplied))
	assert.True(t, h.tr.Accountant().RealizedPnL().Equal(dec("-312.5")))
}

func TestUnanchoredLedgerAnchorsOnFirstTick(t *testing.T) {
	ledger, err := domain.NewPositionLedger(domain.LedgerParams{
		Symbol:   "ETH",
		UnitSize: dec("250"),
		Leverage: dec("2"),
		Notional: dec("10000"),
	})
	require.NoError(t, err)
	gw := newFakeGateway()
	tr, err := New(Options{Ledger: ledger, Gateway: gw})
	require.NoError(t, err)
	defer tr.Close()
	assert.Nil(t, tr.Window())

	tr.HandlePrice(context.Background(), domain.PriceTick{Symbol: "ETH", Price: dec("2500"), Timestamp: time.Now()})
	require.NotNil(t, tr.Window())
	assert.True(t, tr.Grid().EntryPrice().Equal(dec("2500")))
	assert.True(t, tr.Accountant().Ledger().OriginalAssetSize.Equal(dec("4")))
	assert.Len(t, gw.placed, 4)
}

func TestStaleAndReplayedTicksAreDropped(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "5")
	h.price("2500")
	ts := h.now
	h.tr.HandlePrice(h.ctx, domain.PriceTick{Symbol: "ETH", Price: dec("2000"), Timestamp: ts})
	assert.Equal(t, 0, h.tr.Grid().CurrentUnit())
	assert.Equal(t, 1, h.rec.count(events.KindFeedDropped))
}

func TestSnapshotRoundTrip(t *testing.T) {
	h := newHarness(t, fragment.VariantScaled, "0.4")
	for _, p := range []string{"2500", "2249", "1999"} {
		h.price(p)
	}
	h.fillActions()

	raw, err := json.Marshal(h.tr.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	cfg := fragment.DefaultConfig()
	cfg.Variant = fragment.VariantScaled
	restored, err := Restore(Options{Gateway: newFakeGateway(), Fragment: cfg, Clock: func() time.Time { return h.now }}, snap)
	require.NoError(t, err)
	defer restored.Close()

	orig, got := h.tr.Snapshot(), restored.Snapshot()
	assert.Equal(t, orig.CurrentUnit, got.CurrentUnit)
	assert.Equal(t, orig.Phase, got.Phase)
	assert.Equal(t, orig.PeakUnit, got.PeakUnit)
	assert.Equal(t, units(h.tr.Window().Stops()), units(restored.Window().Stops()))
	assert.Equal(t, units(h.tr.Window().Buys()), units(restored.Window().Buys()))
	assert.True(t, orig.LockedFragment.LockedAsset.Equal(got.LockedFragment.LockedAsset))
	assert.True(t, orig.RealizedPnL.Equal(got.RealizedPnL))
	assert.Equal(t, orig.SeenFills, got.SeenFills)
	assert.Equal(t, h.tr.Accountant().Hedge().Len(), restored.Accountant().Hedge().Len())

	next := domain.PriceTick{Symbol: "ETH", Price: dec("2250"), Timestamp: h.now.Add(time.Second)}
	h.tr.HandlePrice(h.ctx, next)
	restored.HandlePrice(h.ctx, next)
	assert.Equal(t, h.tr.Grid().CurrentUnit(), restored.Grid().CurrentUnit())
	assert.Equal(t, h.tr.Accountant().RetraceDepth(), restored.Accountant().RetraceDepth())
	assert.True(t, h.tr.Accountant().LongHeld().Equal(restored.Accountant().LongHeld()))
}

func TestBrokenWindowIsReported(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "4")
	h.price("2500")
	snap := h.tr.Snapshot()
	snap.TrailingStops = snap.TrailingStops[:3]

	rec := &recorder{}
	lenient, err := Restore(Options{Gateway: newFakeGateway(), Sink: rec}, snap)
	require.NoError(t, err)
	defer lenient.Close()
	lenient.Tick(h.ctx)
	assert.Equal(t, 1, rec.count(events.KindInvariantViolated))

	strict, err := Restore(Options{Gateway: newFakeGateway(), StrictInvariants: true}, snap)
	require.NoError(t, err)
	defer strict.Close()
	assert.Panics(t, func() { strict.Tick(h.ctx) })
}

func TestRunLoopProcessesInbox(t *testing.T) {
	h := newHarness(t, fragment.VariantSimple, "4")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.tr.Run(ctx) }()

	base := time.Now()
	require.NoError(t, h.tr.OnPrice(ctx, domain.PriceTick{Symbol: "ETH", Price: dec("2500"), Timestamp: base}))
	require.NoError(t, h.tr.OnPrice(ctx, domain.PriceTick{Symbol: "ETH", Price: dec("2249"), Timestamp: base.Add(time.Second)}))

	require.Eventually(t, func() bool {
		snap, err := h.tr.RequestSnapshot(ctx)
		return err == nil && snap.CurrentUnit == -1 && len(snap.TrailingBuys) == 1 && snap.TrailingBuys[0].Status == domain.OrderStatusSubmitted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
