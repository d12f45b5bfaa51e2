package domain

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// SizePrecision 由名义价值推导数量时保留的小数位。
const SizePrecision int32 = 8

// PositionLedger 仓位账本。
//
// EntryPrice/UnitSize 决定网格锚点；Original* 只在开仓或 reset 时设置，
// 周期内只有 Current* 随成交变化。reset 时整体替换（见 Rebase）。
type PositionLedger struct {
	Symbol            string          `json:"symbol"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	UnitSize          decimal.Decimal `json:"unit_size"`
	Leverage          decimal.Decimal `json:"leverage"`
	OriginalAssetSize decimal.Decimal `json:"original_asset_size"`
	OriginalNotional  decimal.Decimal `json:"original_notional"`
	CurrentAssetSize  decimal.Decimal `json:"current_asset_size"`
	CurrentNotional   decimal.Decimal `json:"current_notional"`
}

// LedgerParams 构造账本的输入。EntryPrice 为零表示由第一笔行情锚定。
// AssetSize 与 Notional 至少给出一个，另一个在锚定后推导。
type LedgerParams struct {
	Symbol       string
	EntryPrice   decimal.Decimal
	UnitSize     decimal.Decimal
	Leverage     decimal.Decimal
	AssetSize    decimal.Decimal
	Notional     decimal.Decimal
	ExtraSymbols []string
}

// NewPositionLedger 校验参数并创建账本，配置错误直接返回。
func NewPositionLedger(p LedgerParams) (PositionLedger, error) {
	if !IsSupportedSymbol(p.Symbol, p.ExtraSymbols...) {
		return PositionLedger{}, errors.Wrapf(ErrUnsupportedSymbol, "symbol=%q", p.Symbol)
	}
	if !p.UnitSize.IsPositive() {
		return PositionLedger{}, errors.Wrapf(ErrInvalidConfig, "unit_size must be > 0, got %s", p.UnitSize)
	}
	if !p.Leverage.IsPositive() {
		return PositionLedger{}, errors.Wrapf(ErrInvalidConfig, "leverage must be > 0, got %s", p.Leverage)
	}
	if p.EntryPrice.IsNegative() {
		return PositionLedger{}, errors.Wrapf(ErrInvalidConfig, "entry_price must be >= 0, got %s", p.EntryPrice)
	}
	if p.AssetSize.IsNegative() || p.Notional.IsNegative() {
		return PositionLedger{}, errors.Wrap(ErrInvalidConfig, "asset_size/notional must be >= 0")
	}
	if p.AssetSize.IsZero() && p.Notional.IsZero() {
		return PositionLedger{}, errors.Wrap(ErrInvalidConfig, "one of asset_size/notional is required")
	}

	l := PositionLedger{
		Symbol:            NormalizeSymbol(p.Symbol),
		UnitSize:          p.UnitSize,
		Leverage:          p.Leverage,
		OriginalAssetSize: p.AssetSize,
		OriginalNotional:  p.Notional,
	}
	if p.EntryPrice.IsPositive() {
		l = l.Anchor(p.EntryPrice)
	}
	return l, nil
}

// Anchored 是否已确定 entry price。
func (l PositionLedger) Anchored() bool {
	return l.EntryPrice.IsPositive()
}

// Anchor 固定 entry price 并补全缺失的数量/名义价值。已锚定时原样返回。
func (l PositionLedger) Anchor(price decimal.Decimal) PositionLedger {
	if l.Anchored() || !price.IsPositive() {
		return l
	}
	l.EntryPrice = price
	if l.OriginalNotional.IsZero() {
		l.OriginalNotional = l.OriginalAssetSize.Mul(price)
	}
	if l.OriginalAssetSize.IsZero() {
		l.OriginalAssetSize = l.OriginalNotional.DivRound(price, SizePrecision)
	}
	l.CurrentAssetSize = l.OriginalAssetSize
	l.CurrentNotional = l.OriginalNotional
	return l
}

// Rebase 返回新周期的账本：锚点不变，基线与当前规模整体替换。
func (l PositionLedger) Rebase(assetSize, notional decimal.Decimal) PositionLedger {
	l.OriginalAssetSize = assetSize
	l.OriginalNotional = notional
	l.CurrentAssetSize = assetSize
	l.CurrentNotional = notional
	return l
}

// WithCurrent 更新当前持仓（按给定价格重估名义价值）。
func (l PositionLedger) WithCurrent(assetSize, price decimal.Decimal) PositionLedger {
	if assetSize.IsNegative() {
		assetSize = decimal.Zero
	}
	l.CurrentAssetSize = assetSize
	l.CurrentNotional = assetSize.Mul(price)
	return l
}

// Margin 当前名义价值对应的保证金占用。
func (l PositionLedger) Margin() decimal.Decimal {
	if !l.Leverage.IsPositive() {
		return l.CurrentNotional
	}
	return l.CurrentNotional.DivRound(l.Leverage, SizePrecision)
}
