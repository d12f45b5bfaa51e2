package domain

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// HedgeLot 一笔空头对冲。价值按线性空头计算：notional + (entry - p) × asset。
type HedgeLot struct {
	ID             string          `json:"id"`
	UnitOpened     int             `json:"unit_opened"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	AssetAmount    decimal.Decimal `json:"asset_amount"`
	NotionalAmount decimal.Decimal `json:"notional_amount"`
}

// Value 在价格 p 下的价值。
func (l HedgeLot) Value(p decimal.Decimal) decimal.Decimal {
	return l.NotionalAmount.Add(l.EntryPrice.Sub(p).Mul(l.AssetAmount))
}

// PnL 以 exit 平仓的已实现盈亏。
func (l HedgeLot) PnL(exit decimal.Decimal) decimal.Decimal {
	return l.EntryPrice.Sub(exit).Mul(l.AssetAmount)
}

// ShortHedgePosition 按开仓顺序保存的对冲批次。
type ShortHedgePosition struct {
	Lots []HedgeLot `json:"lots"`
}

// Open 追加一笔对冲。
func (h *ShortHedgePosition) Open(lot HedgeLot) {
	h.Lots = append(h.Lots, lot)
}

// CloseOldest 移除最早的一笔（FIFO）。
func (h *ShortHedgePosition) CloseOldest() (HedgeLot, bool) {
	if len(h.Lots) == 0 {
		return HedgeLot{}, false
	}
	lot := h.Lots[0]
	h.Lots = h.Lots[1:]
	return lot, true
}

// Remove 按 ID 移除。
func (h *ShortHedgePosition) Remove(id string) (HedgeLot, bool) {
	for i, lot := range h.Lots {
		if lot.ID == id {
			h.Lots = append(h.Lots[:i:i], h.Lots[i+1:]...)
			return lot, true
		}
	}
	return HedgeLot{}, false
}

// Find 按 ID 查找。
func (h ShortHedgePosition) Find(id string) (HedgeLot, bool) {
	return lo.Find(h.Lots, func(l HedgeLot) bool { return l.ID == id })
}

// Value 全部批次在价格 p 下的价值之和。
func (h ShortHedgePosition) Value(p decimal.Decimal) decimal.Decimal {
	return lo.Reduce(h.Lots, func(acc decimal.Decimal, l HedgeLot, _ int) decimal.Decimal {
		return acc.Add(l.Value(p))
	}, decimal.Zero)
}

// TotalAsset 对冲的资产数量合计。
func (h ShortHedgePosition) TotalAsset() decimal.Decimal {
	return lo.Reduce(h.Lots, func(acc decimal.Decimal, l HedgeLot, _ int) decimal.Decimal {
		return acc.Add(l.AssetAmount)
	}, decimal.Zero)
}

func (h ShortHedgePosition) Len() int { return len(h.Lots) }

// Clone 深拷贝（快照用）。
func (h ShortHedgePosition) Clone() ShortHedgePosition {
	return ShortHedgePosition{Lots: append([]HedgeLot(nil), h.Lots...)}
}
