package fragment

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betbot/unitgrid/internal/domain"
)

// ActionKind 缩放动作类型。
type ActionKind string

const (
	KindSellAsset  ActionKind = "sell_asset"
	KindBuyAsset   ActionKind = "buy_asset"
	KindOpenHedge  ActionKind = "open_hedge"
	KindCloseHedge ActionKind = "close_hedge"
)

// Leg 动作所属的腿。
type Leg string

const (
	LegRetracement Leg = "retracement"
	LegRecovery    Leg = "recovery"
	LegReset       Leg = "reset"
)

// Action 一次需要下单执行的缩放动作。
type Action struct {
	ID         string          `json:"id"`
	Unit       int             `json:"unit"`
	Kind       ActionKind      `json:"kind"`
	Asset      decimal.Decimal `json:"asset"`
	Notional   decimal.Decimal `json:"notional"`
	Price      decimal.Decimal `json:"price"`     // 计划价格（网格价）
	Reference  decimal.Decimal `json:"reference"` // 盈亏参考价
	HedgeLotID string          `json:"hedge_lot_id,omitempty"`
	Leg        Leg             `json:"leg"`
	Reverse    bool            `json:"reverse"`
	// Settles 结算已经 reset 的周期，盈亏按计划价估算后已计入复利。
	Settles    bool            `json:"settles,omitempty"`
}

// TradeSide 下单方向。
func (a Action) TradeSide() domain.TradeSide {
	if a.Kind == KindSellAsset || a.Kind == KindOpenHedge {
		return domain.TradeSell
	}
	return domain.TradeBuy
}

// ReduceOnly 减仓类动作。
func (a Action) ReduceOnly() bool {
	return a.Kind == KindSellAsset || a.Kind == KindCloseHedge
}

func (a Action) IsHedge() bool {
	return a.Kind == KindOpenHedge || a.Kind == KindCloseHedge
}

// IsAsset 多头资产的买卖。
func (a Action) IsAsset() bool { return !a.IsHedge() }

func (a Action) String() string {
	rev := ""
	if a.Reverse {
		rev = " reverse"
	}
	return fmt.Sprintf("%s %s@%d (%s%s)", a.Kind, a.Asset, a.Unit, a.Leg, rev)
}

// Estimate 按计划价成交 size 的估算盈亏。
func (a Action) Estimate(size decimal.Decimal) decimal.Decimal {
	return PnL(a.Kind, a.Reference, a.Price, size)
}

// PnL 已实现盈亏：卖出 (fill - ref) × size，买回/平空 (ref - fill) × size，开空为 0。
func PnL(kind ActionKind, reference, fill, size decimal.Decimal) decimal.Decimal {
	switch kind {
	case KindSellAsset:
		return fill.Sub(reference).Mul(size)
	case KindBuyAsset, KindCloseHedge:
		return reference.Sub(fill).Mul(size)
	default:
		return decimal.Zero
	}
}
