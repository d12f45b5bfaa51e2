// Package paper 模拟交易所（dry-run）：条件单按行情触发，成交回报推给 FillHandler。
package paper

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/ports"
)

var log = logrus.WithField("component", "paper")

// Config 模拟账户参数。
type Config struct {
	Symbol       string
	InitialCash  decimal.Decimal
	InitialAsset decimal.Decimal
	FeeRate      decimal.Decimal // 按成交额收取，例如 0.0005
}

// Balances 模拟账户余额。
type Balances struct {
	Cash       decimal.Decimal `json:"cash"`
	Asset      decimal.Decimal `json:"asset"`
	HedgeShort decimal.Decimal `json:"hedge_short"`
	Fees       decimal.Decimal `json:"fees"`
	OpenOrders int             `json:"open_orders"`
}

type restingOrder struct {
	id       domain.OrderID
	clientID string
	req      ports.OrderRequest
	placedAt time.Time
}

func (o *restingOrder) market() bool { return o.req.Price == nil }

// triggered 止损卖单在价格跌到触发价及以下时触发；买单在涨到触发价及以上时触发。
func (o *restingOrder) triggered(price decimal.Decimal) bool {
	if o.market() {
		return true
	}
	if o.req.Side == domain.TradeSell {
		return price.LessThanOrEqual(*o.req.Price)
	}
	return price.GreaterThanOrEqual(*o.req.Price)
}

// Exchange 线程安全；PlaceOrder/CancelOrder 由执行器 goroutine 调用，OnPrice 由行情 goroutine 调用。
type Exchange struct {
	cfg Config

	mu       sync.Mutex
	fills    ports.FillHandler
	last     decimal.Decimal
	open     map[domain.OrderID]*restingOrder
	byClient map[string]domain.OrderID
	bal      Balances

	newID func() string
	now   func() time.Time
}

var (
	_ ports.OrderGateway = (*Exchange)(nil)
	_ ports.PriceHandler = (*Exchange)(nil)
)

// New 创建模拟交易所。fills 可稍后通过 SetFillHandler 设置。
func New(cfg Config, fills ports.FillHandler) *Exchange {
	return &Exchange{
		cfg:      cfg,
		fills:    fills,
		open:     make(map[domain.OrderID]*restingOrder),
		byClient: make(map[string]domain.OrderID),
		bal: Balances{
			Cash:       cfg.InitialCash,
			Asset:      cfg.InitialAsset,
			HedgeShort: decimal.Zero,
			Fees:       decimal.Zero,
		},
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// SetFillHandler 设置成交回报接收方（tracker 创建晚于交易所时使用）。
func (e *Exchange) SetFillHandler(h ports.FillHandler) {
	e.mu.Lock()
	e.fills = h
	e.mu.Unlock()
}

// PlaceOrder 市价单在已知价格时立即成交，否则等第一笔行情；条件单挂起等待触发。
func (e *Exchange) PlaceOrder(ctx context.Context, req ports.OrderRequest) (ports.PlaceResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.PlaceResult{}, err
	}
	if !req.Size.IsPositive() {
		return ports.PlaceResult{Accepted: false, Reason: "size must be positive"}, nil
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return ports.PlaceResult{Accepted: false, Reason: "trigger price must be positive"}, nil
	}
	if e.cfg.Symbol != "" && req.Symbol != "" && domain.NormalizeSymbol(req.Symbol) != domain.NormalizeSymbol(e.cfg.Symbol) {
		return ports.PlaceResult{Accepted: false, Reason: "unknown symbol " + req.Symbol}, nil
	}

	e.mu.Lock()
	if id, ok := e.byClient[req.ClientID]; ok && req.ClientID != "" {
		if _, open := e.open[id]; open {
			e.mu.Unlock()
			log.Debugf("[paper] 重复的 client id，返回已有订单: %s -> %s", req.ClientID, id)
			return ports.PlaceResult{Accepted: true, OrderID: id}, nil
		}
	}
	o := &restingOrder{
		id:       domain.OrderID(e.newID()),
		clientID: req.ClientID,
		req:      req,
		placedAt: e.now(),
	}
	e.open[o.id] = o
	if req.ClientID != "" {
		e.byClient[req.ClientID] = o.id
	}
	e.bal.OpenOrders = len(e.open)

	var fills []domain.Fill
	if o.market() && e.last.IsPositive() {
		fills = append(fills, e.executeLocked(o, e.last, o.placedAt))
	}
	handler := e.fills
	e.mu.Unlock()

	log.Debugf("[paper] 订单已接受: id=%s client=%s side=%s size=%s trigger=%v", o.id, req.ClientID, req.Side, req.Size, req.Price)
	e.emit(ctx, handler, fills)
	return ports.PlaceResult{Accepted: true, OrderID: o.id}, nil
}

// CancelOrder 未成交的订单返回 true；已成交或不存在返回 false。
func (e *Exchange) CancelOrder(ctx context.Context, orderID domain.OrderID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.open[orderID]
	if !ok {
		return false, nil
	}
	delete(e.open, orderID)
	delete(e.byClient, o.clientID)
	e.bal.OpenOrders = len(e.open)
	return true, nil
}

// OnPrice 推进模拟行情并触发条件单。
func (e *Exchange) OnPrice(ctx context.Context, tick domain.PriceTick) error {
	if !tick.Price.IsPositive() {
		return nil
	}
	ts := tick.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	e.mu.Lock()
	e.last = tick.Price
	var due []*restingOrder
	for _, o := range e.open {
		if o.triggered(tick.Price) {
			due = append(due, o)
		}
	}
	// 同一 tick 触发多个订单时按下单顺序成交
	sort.Slice(due, func(i, j int) bool {
		if due[i].placedAt.Equal(due[j].placedAt) {
			return due[i].id < due[j].id
		}
		return due[i].placedAt.Before(due[j].placedAt)
	})
	fills := make([]domain.Fill, 0, len(due))
	for _, o := range due {
		fills = append(fills, e.executeLocked(o, tick.Price, ts))
	}
	handler := e.fills
	e.mu.Unlock()

	e.emit(ctx, handler, fills)
	return nil
}

// executeLocked 按 price 全部成交并更新余额（调用方持锁）。
func (e *Exchange) executeLocked(o *restingOrder, price decimal.Decimal, ts time.Time) domain.Fill {
	delete(e.open, o.id)
	delete(e.byClient, o.clientID)
	e.bal.OpenOrders = len(e.open)

	size := o.req.Size
	notional := price.Mul(size)
	fee := notional.Mul(e.cfg.FeeRate)
	e.bal.Fees = e.bal.Fees.Add(fee)
	e.bal.Cash = e.bal.Cash.Sub(fee)

	switch {
	case o.req.Hedge && o.req.Side == domain.TradeSell:
		e.bal.HedgeShort = e.bal.HedgeShort.Add(size)
		e.bal.Cash = e.bal.Cash.Add(notional)
	case o.req.Hedge:
		e.bal.HedgeShort = e.bal.HedgeShort.Sub(size)
		e.bal.Cash = e.bal.Cash.Sub(notional)
	case o.req.Side == domain.TradeSell:
		e.bal.Asset = e.bal.Asset.Sub(size)
		e.bal.Cash = e.bal.Cash.Add(notional)
	default:
		e.bal.Asset = e.bal.Asset.Add(size)
		e.bal.Cash = e.bal.Cash.Sub(notional)
	}
	if e.bal.Asset.IsNegative() {
		log.Warnf("⚠️ [paper] 模拟持仓为负: asset=%s order=%s", e.bal.Asset, o.id)
	}

	log.Infof("🧪 [paper] 成交: id=%s side=%s hedge=%v size=%s price=%s", o.id, o.req.Side, o.req.Hedge, size, price)
	return domain.Fill{OrderID: o.id, Price: price, Size: size, Timestamp: ts}
}

func (e *Exchange) emit(ctx context.Context, h ports.FillHandler, fills []domain.Fill) {
	if h == nil {
		return
	}
	for _, f := range fills {
		if err := h.OnFill(ctx, f); err != nil {
			log.WithError(err).Warnf("⚠️ [paper] 成交回报投递失败: %s", f.OrderID)
		}
	}
}

// Balances 当前余额快照。
func (e *Exchange) Balances() Balances {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bal
}

// OpenOrders 未成交订单 ID（排序后）。
func (e *Exchange) OpenOrders() []domain.OrderID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.OrderID, 0, len(e.open))
	for id := range e.open {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LastPrice 最近一笔行情价格。
func (e *Exchange) LastPrice() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
