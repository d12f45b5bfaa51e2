// Package unitgrid 把价格映射到以 entry price 为锚、unit size 为步长的整数单位。
package unitgrid

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/unitgrid/internal/domain"
)

// Crossing 一次单位边界穿越。
type Crossing struct {
	Unit      int              `json:"unit"`
	Price     decimal.Decimal  `json:"price"` // 该单位的网格价格
	Direction domain.Direction `json:"direction"`
}

// Advance AdvanceTo 的结果。Crossings 按经过顺序排列，每个边界一条。
type Advance struct {
	From      int
	To        int
	Crossings []Crossing
	Anchored  bool // 本次价格完成了锚定（不产生穿越）
}

// Changed 是否发生单位变化。
func (a Advance) Changed() bool { return len(a.Crossings) > 0 }

// UnitGrid 单位网格。非并发安全，由 tracker 的单一 goroutine 持有。
type UnitGrid struct {
	entry       decimal.Decimal
	unitSize    decimal.Decimal
	anchored    bool
	currentUnit int
	boundaries  map[int]decimal.Decimal
}

// New 创建网格。entry 为零表示等待第一笔价格锚定。
func New(entry, unitSize decimal.Decimal) (*UnitGrid, error) {
	if !unitSize.IsPositive() {
		return nil, errors.Wrapf(domain.ErrInvalidConfig, "unit_size must be > 0, got %s", unitSize)
	}
	if entry.IsNegative() {
		return nil, errors.Wrapf(domain.ErrInvalidConfig, "entry_price must be >= 0, got %s", entry)
	}
	g := &UnitGrid{
		unitSize:   unitSize,
		boundaries: make(map[int]decimal.Decimal),
	}
	if entry.IsPositive() {
		g.anchor(entry)
	}
	return g, nil
}

func (g *UnitGrid) anchor(entry decimal.Decimal) {
	g.entry = entry
	g.anchored = true
	g.currentUnit = 0
	g.boundaries[0] = entry
}

func (g *UnitGrid) Anchored() bool               { return g.anchored }
func (g *UnitGrid) EntryPrice() decimal.Decimal { return g.entry }
func (g *UnitGrid) UnitSize() decimal.Decimal   { return g.unitSize }
func (g *UnitGrid) CurrentUnit() int            { return g.currentUnit }

// PriceForUnit entry + n × unit_size（精确）。
func (g *UnitGrid) PriceForUnit(n int) decimal.Decimal {
	return g.entry.Add(g.unitSize.Mul(decimal.NewFromInt(int64(n))))
}

// UnitForPrice (price - entry) / unit_size，向零截断。
// 与从 0 单位开始扫描得到的结果一致，且 UnitForPrice(PriceForUnit(n)) == n。
func (g *UnitGrid) UnitForPrice(price decimal.Decimal) int {
	q, _ := price.Sub(g.entry).QuoRem(g.unitSize, 0)
	return int(q.IntPart())
}

// AdvanceTo 把当前单位推进到 price 所在位置。
//
// 向上：price >= P(u+1) 时前进；向下：price <= P(u-1) 时后退。每经过一个边界
// 产生一条 Crossing，不合并。首次出现的单位记录到边界表。
func (g *UnitGrid) AdvanceTo(price decimal.Decimal) Advance {
	if !g.anchored {
		if price.IsPositive() {
			g.anchor(price)
		}
		return Advance{From: 0, To: 0, Anchored: g.anchored}
	}

	from := g.currentUnit
	u := from
	var crossings []Crossing
	for price.GreaterThanOrEqual(g.PriceForUnit(u + 1)) {
		u++
		crossings = append(crossings, g.cross(u, domain.DirectionUp))
	}
	if len(crossings) == 0 {
		for price.LessThanOrEqual(g.PriceForUnit(u - 1)) {
			u--
			crossings = append(crossings, g.cross(u, domain.DirectionDown))
		}
	}
	g.currentUnit = u
	return Advance{From: from, To: u, Crossings: crossings}
}

func (g *UnitGrid) cross(unit int, dir domain.Direction) Crossing {
	p := g.PriceForUnit(unit)
	if _, ok := g.boundaries[unit]; !ok {
		g.boundaries[unit] = p
	}
	return Crossing{Unit: unit, Price: p, Direction: dir}
}

// Boundary 返回单位首次到达时记录的价格。
func (g *UnitGrid) Boundary(unit int) (decimal.Decimal, bool) {
	p, ok := g.boundaries[unit]
	return p, ok
}

// Boundaries 按单位升序返回边界表的副本。
func (g *UnitGrid) Boundaries() []Boundary {
	units := make([]int, 0, len(g.boundaries))
	for u := range g.boundaries {
		units = append(units, u)
	}
	sort.Ints(units)
	out := make([]Boundary, 0, len(units))
	for _, u := range units {
		out = append(out, Boundary{Unit: u, Price: g.boundaries[u]})
	}
	return out
}

// Boundary 边界表条目（快照用）。
type Boundary struct {
	Unit  int             `json:"unit"`
	Price decimal.Decimal `json:"price"`
}

// State 快照。
type State struct {
	EntryPrice  decimal.Decimal `json:"entry_price"`
	UnitSize    decimal.Decimal `json:"unit_size"`
	Anchored    bool            `json:"anchored"`
	CurrentUnit int             `json:"current_unit"`
	Boundaries  []Boundary      `json:"boundaries"`
}

func (g *UnitGrid) State() State {
	return State{
		EntryPrice:  g.entry,
		UnitSize:    g.unitSize,
		Anchored:    g.anchored,
		CurrentUnit: g.currentUnit,
		Boundaries:  g.Boundaries(),
	}
}

// Restore 由快照重建网格。
func Restore(s State) (*UnitGrid, error) {
	g, err := New(decimal.Zero, s.UnitSize)
	if err != nil {
		return nil, err
	}
	if s.Anchored {
		g.anchor(s.EntryPrice)
		g.currentUnit = s.CurrentUnit
		for _, b := range s.Boundaries {
			g.boundaries[b.Unit] = b.Price
		}
	}
	return g, nil
}
