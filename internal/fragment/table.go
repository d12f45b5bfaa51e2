package fragment

import "github.com/shopspring/decimal"

// Variant 缩放表变体。
type Variant string

const (
	// VariantSimple 每个单位 1× 分片，无对冲，4 个单位清空。
	VariantSimple Variant = "simple"
	// VariantScaled -1 卖 1×，-2..-4 卖 2×，-5 清掉剩余；每个单位开 1× 对冲。
	VariantScaled Variant = "scaled"
)

func (v Variant) Valid() bool { return v == VariantSimple || v == VariantScaled }

// Multiplier 某个偏移量上的动作倍数。
type Multiplier struct {
	Asset         decimal.Decimal
	Hedge         decimal.Decimal
	ExitRemainder bool // 卖出（或回补）全部剩余
}

func (m Multiplier) IsZero() bool {
	return m.Asset.IsZero() && m.Hedge.IsZero() && !m.ExitRemainder
}

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// ScaleForUnit offset 为相对 peak 的单位偏移（回撤为负）。offset >= 0 无动作。
// 回升腿使用同一张表，传入 -offset。
func ScaleForUnit(v Variant, offset int) Multiplier {
	if offset >= 0 {
		return Multiplier{}
	}
	if v == VariantSimple {
		if offset >= -4 {
			return Multiplier{Asset: one}
		}
		return Multiplier{}
	}
	switch {
	case offset == -1:
		return Multiplier{Asset: one, Hedge: one}
	case offset >= -4:
		return Multiplier{Asset: two, Hedge: one}
	case offset == -5:
		return Multiplier{ExitRemainder: true, Hedge: one}
	default:
		return Multiplier{Hedge: one}
	}
}
