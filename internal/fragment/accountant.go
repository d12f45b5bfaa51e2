// Package fragment 负责分片锁定、缩放表执行、对冲批次与周期复利。
package fragment

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/unitgrid/internal/domain"
)

var log = logrus.WithField("component", "fragment")

// Config 分片配置。
type Config struct {
	Variant          Variant
	FragmentCount    int             // 简单变体：original / count
	HedgeFragmentPct decimal.Decimal // 缩放变体：original × pct（默认 12%）
}

// DefaultConfig 简单变体，4 个分片。
func DefaultConfig() Config {
	return Config{
		Variant:          VariantSimple,
		FragmentCount:    4,
		HedgeFragmentPct: decimal.RequireFromString("0.12"),
	}
}

// Validate 校验配置。
func (c Config) Validate() error {
	if !c.Variant.Valid() {
		return errors.Wrapf(domain.ErrInvalidConfig, "unknown variant %q", c.Variant)
	}
	if c.FragmentCount <= 0 {
		return errors.Wrapf(domain.ErrInvalidConfig, "fragment_count must be > 0, got %d", c.FragmentCount)
	}
	if c.Variant == VariantScaled && (!c.HedgeFragmentPct.IsPositive() || c.HedgeFragmentPct.GreaterThan(one)) {
		return errors.Wrapf(domain.ErrInvalidConfig, "hedge_fragment_pct must be in (0,1], got %s", c.HedgeFragmentPct)
	}
	return nil
}

// Record 一个单位上实际执行的动作，用于原样反向。
type Record struct {
	Unit   int              `json:"unit"`
	Offset int              `json:"offset"`
	Asset  decimal.Decimal  `json:"asset"`         // 回撤腿：卖出量；回升腿：回补量
	Lot    *domain.HedgeLot `json:"lot,omitempty"` // 回撤腿：开出的对冲；回升腿：平掉的对冲
}

// Accountant 分片记账。非并发安全，由 tracker 持有。
//
// 结构性状态（longHeld/soldOutstanding/对冲批次/两个栈）在穿越时立即更新；
// 已实现盈亏与账本当前持仓只在成交确认时更新。
type Accountant struct {
	cfg      Config
	ledger   domain.PositionLedger
	fragment domain.Fragment

	retrace []Record
	recover []Record
	hedge   domain.ShortHedgePosition

	longHeld        decimal.Decimal
	soldOutstanding decimal.Decimal
	costBasis       decimal.Decimal
	cycleRealized   decimal.Decimal
	realized        decimal.Decimal

	newID func() string
}

// New 创建记账器。ledger 可以尚未锚定，锚定后调用 Anchor。
func New(cfg Config, ledger domain.PositionLedger) (*Accountant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Accountant{cfg: cfg, ledger: ledger, newID: uuid.NewString}
	a.resetCycleState()
	return a, nil
}

func (a *Accountant) resetCycleState() {
	a.fragment = domain.Fragment{}
	a.retrace = nil
	a.recover = nil
	a.hedge = domain.ShortHedgePosition{}
	a.longHeld = a.ledger.OriginalAssetSize
	a.soldOutstanding = decimal.Zero
	a.costBasis = a.ledger.EntryPrice
	a.cycleRealized = decimal.Zero
}

// Anchor 第一笔行情确定 entry 后补全账本。
func (a *Accountant) Anchor(price decimal.Decimal) {
	if a.ledger.Anchored() {
		return
	}
	a.ledger = a.ledger.Anchor(price)
	a.longHeld = a.ledger.OriginalAssetSize
	a.costBasis = a.ledger.EntryPrice
}

func (a *Accountant) Config() Config                    { return a.cfg }
func (a *Accountant) Ledger() domain.PositionLedger     { return a.ledger }
func (a *Accountant) Fragment() domain.Fragment         { return a.fragment }
func (a *Accountant) Hedge() domain.ShortHedgePosition  { return a.hedge.Clone() }
func (a *Accountant) LongHeld() decimal.Decimal         { return a.longHeld }
func (a *Accountant) SoldOutstanding() decimal.Decimal  { return a.soldOutstanding }
func (a *Accountant) RealizedPnL() decimal.Decimal      { return a.realized }
func (a *Accountant) CycleRealizedPnL() decimal.Decimal { return a.cycleRealized }
func (a *Accountant) RetraceDepth() int                 { return len(a.retrace) }
func (a *Accountant) RecoverDepth() int                 { return len(a.recover) }

// provisional 未锁定时按原始规模计算的分片（与锁定结果一致，只是不冻结）。
func (a *Accountant) provisional() domain.Fragment {
	if a.fragment.Locked {
		return a.fragment
	}
	f := domain.Fragment{}
	if a.cfg.Variant == VariantScaled {
		f.LockedAsset = a.ledger.OriginalAssetSize.Mul(a.cfg.HedgeFragmentPct)
		f.LockedNotional = a.ledger.OriginalNotional.Mul(a.cfg.HedgeFragmentPct)
	} else {
		n := decimal.NewFromInt(int64(a.cfg.FragmentCount))
		f.LockedAsset = a.ledger.OriginalAssetSize.DivRound(n, domain.SizePrecision)
		f.LockedNotional = a.ledger.OriginalNotional.DivRound(n, domain.SizePrecision)
	}
	return f
}

// LockFragmentAt 锁定本周期分片。幂等：已锁定时返回原值与 false。
// 始终基于原始规模，而不是当前持仓。
func (a *Accountant) LockFragmentAt(price decimal.Decimal, unit int) (domain.Fragment, bool) {
	if a.fragment.Locked {
		return a.fragment, false
	}
	f := a.provisional()
	f.LockPrice = price
	f.LockedUnit = unit
	f.Locked = true
	a.fragment = f
	log.Infof("🔒 [fragment] 锁定分片: unit=%d price=%s asset=%s notional=%s",
		unit, price, f.LockedAsset, f.LockedNotional)
	return f, true
}

// Retrace 向下穿越一个单位（回撤/下跌腿），按缩放表正向执行并入栈。
func (a *Accountant) Retrace(unit, offset int, price decimal.Decimal) []Action {
	if !a.fragment.Locked {
		log.Warnf("⚠️ [fragment] 首次缩放前分片尚未锁定，延迟锁定: unit=%d", unit)
		a.LockFragmentAt(price, unit)
	}
	m := ScaleForUnit(a.cfg.Variant, offset)
	asset := a.fragment.Asset(m.Asset)
	if m.ExitRemainder {
		asset = a.longHeld
	}
	asset = decimal.Min(asset, a.longHeld)

	rec := Record{Unit: unit, Offset: offset, Asset: asset}
	var actions []Action
	if asset.IsPositive() {
		a.longHeld = a.longHeld.Sub(asset)
		a.soldOutstanding = a.soldOutstanding.Add(asset)
		actions = append(actions, a.action(unit, KindSellAsset, asset, price, a.costBasis, LegRetracement, false))
	}
	if m.Hedge.IsPositive() {
		notional := a.fragment.Notional(m.Hedge)
		lot := domain.HedgeLot{
			ID:             a.newID(),
			UnitOpened:     unit,
			EntryPrice:     price,
			AssetAmount:    notional.DivRound(price, domain.SizePrecision),
			NotionalAmount: notional,
		}
		a.hedge.Open(lot)
		rec.Lot = &lot
		act := a.action(unit, KindOpenHedge, lot.AssetAmount, price, price, LegRetracement, false)
		act.Notional = notional
		act.HedgeLotID = lot.ID
		actions = append(actions, act)
	}
	a.retrace = append(a.retrace, rec)
	return actions
}

// Unretrace 回撤中反向上穿：弹出栈顶并原样反向（回补卖出量、平掉对应对冲）。
func (a *Accountant) Unretrace(unit int, price decimal.Decimal) []Action {
	if len(a.retrace) == 0 {
		return nil
	}
	rec := a.retrace[len(a.retrace)-1]
	a.retrace = a.retrace[:len(a.retrace)-1]

	var actions []Action
	if rec.Asset.IsPositive() {
		a.longHeld = a.longHeld.Add(rec.Asset)
		a.soldOutstanding = a.soldOutstanding.Sub(rec.Asset)
		actions = append(actions, a.action(unit, KindBuyAsset, rec.Asset, price, a.costBasis, LegRetracement, true))
	}
	if rec.Lot != nil {
		lot, ok := a.hedge.Remove(rec.Lot.ID)
		if !ok {
			lot = *rec.Lot
		}
		act := a.action(unit, KindCloseHedge, lot.AssetAmount, price, lot.EntryPrice, LegRetracement, true)
		act.HedgeLotID = lot.ID
		actions = append(actions, act)
	}
	return actions
}

// Recover 回升腿：offset 为相对 valley 的单位数（>0），同一张表镜像使用。
// 回补量受未回补卖出量约束；对冲按 FIFO 平掉最早（价格最高）的一笔。
func (a *Accountant) Recover(unit, offset int, price decimal.Decimal) []Action {
	m := ScaleForUnit(a.cfg.Variant, -offset)
	asset := a.provisional().Asset(m.Asset)
	if m.ExitRemainder {
		asset = a.soldOutstanding
	}
	asset = decimal.Min(asset, a.soldOutstanding)

	rec := Record{Unit: unit, Offset: offset, Asset: asset}
	var actions []Action
	if asset.IsPositive() {
		a.longHeld = a.longHeld.Add(asset)
		a.soldOutstanding = a.soldOutstanding.Sub(asset)
		actions = append(actions, a.action(unit, KindBuyAsset, asset, price, a.costBasis, LegRecovery, false))
	}
	if m.Hedge.IsPositive() {
		if lot, ok := a.hedge.CloseOldest(); ok {
			rec.Lot = &lot
			act := a.action(unit, KindCloseHedge, lot.AssetAmount, price, lot.EntryPrice, LegRecovery, false)
			act.HedgeLotID = lot.ID
			actions = append(actions, act)
		}
	}
	a.recover = append(a.recover, rec)
	return actions
}

// Unrecover 回升中反向下穿：弹出栈顶并反向（卖回回补量、在当前价重开对冲）。
func (a *Accountant) Unrecover(unit int, price decimal.Decimal) []Action {
	if len(a.recover) == 0 {
		return nil
	}
	rec := a.recover[len(a.recover)-1]
	a.recover = a.recover[:len(a.recover)-1]

	var actions []Action
	if rec.Asset.IsPositive() {
		a.longHeld = a.longHeld.Sub(rec.Asset)
		a.soldOutstanding = a.soldOutstanding.Add(rec.Asset)
		actions = append(actions, a.action(unit, KindSellAsset, rec.Asset, price, a.costBasis, LegRecovery, true))
	}
	if rec.Lot != nil {
		lot := domain.HedgeLot{
			ID:             a.newID(),
			UnitOpened:     unit,
			EntryPrice:     price,
			AssetAmount:    rec.Lot.AssetAmount,
			NotionalAmount: rec.Lot.AssetAmount.Mul(price),
		}
		a.hedge.Open(lot)
		act := a.action(unit, KindOpenHedge, lot.AssetAmount, price, price, LegRecovery, true)
		act.Notional = lot.NotionalAmount
		act.HedgeLotID = lot.ID
		actions = append(actions, act)
	}
	return actions
}

// ResetResult 一次 reset 的结算结果。
type ResetResult struct {
	Actions    []Action
	Ledger     domain.PositionLedger
	Compounded decimal.Decimal
	// CyclePnL 本周期已实现盈亏，含尚未成交的结算动作按计划价估算的部分。
	CyclePnL   decimal.Decimal
}

// Reset 周期完成：回补剩余卖出量、平掉全部对冲、把已实现盈亏折算进新基线。
//
// pending 为本周期仍未成交的动作按计划价估算的盈亏。本次生成的回补/平空动作同样按
// reset 价估算，一并计入本周期后再复利：
// asset' = original + (cycle_realized + settlement) / price，notional' = asset' × price。
// 结算动作标记为 Settles，成交时只把与估算的偏差计入下一周期。
//
// 新账本的当前持仓保持 reset 前的数值，由结算成交推进到 asset'。
func (a *Accountant) Reset(unit int, price, pending decimal.Decimal) ResetResult {
	var actions []Action
	settlement := pending
	if a.soldOutstanding.IsPositive() {
		actions = append(actions, a.action(unit, KindBuyAsset, a.soldOutstanding, price, a.costBasis, LegReset, false))
		a.longHeld = a.longHeld.Add(a.soldOutstanding)
		a.soldOutstanding = decimal.Zero
	}
	for _, lot := range a.hedge.Lots {
		act := a.action(unit, KindCloseHedge, lot.AssetAmount, price, lot.EntryPrice, LegReset, false)
		act.HedgeLotID = lot.ID
		actions = append(actions, act)
	}
	for _, act := range actions {
		settlement = settlement.Add(act.Estimate(act.Asset))
	}
	cycle := a.cycleRealized.Add(settlement)

	ledger, compounded := a.Compound(cycle, price)
	ledger.CurrentAssetSize = a.ledger.CurrentAssetSize
	ledger.CurrentNotional = a.ledger.CurrentNotional
	delta := compounded.Sub(a.longHeld)
	switch {
	case delta.IsPositive():
		actions = append(actions, a.action(unit, KindBuyAsset, delta, price, price, LegReset, false))
	case delta.IsNegative():
		actions = append(actions, a.action(unit, KindSellAsset, delta.Neg(), price, price, LegReset, false))
	}
	for i := range actions {
		actions[i].Settles = true
	}

	a.ledger = ledger
	a.resetCycleState()
	a.costBasis = price
	return ResetResult{Actions: actions, Ledger: ledger, Compounded: compounded, CyclePnL: cycle}
}

// Compound 计算复利后的新账本（不修改状态）。
func (a *Accountant) Compound(realized, price decimal.Decimal) (domain.PositionLedger, decimal.Decimal) {
	asset := a.ledger.OriginalAssetSize
	if price.IsPositive() {
		asset = asset.Add(realized.DivRound(price, domain.SizePrecision))
	}
	if asset.IsNegative() {
		asset = decimal.Zero
	}
	return a.ledger.Rebase(asset, asset.Mul(price)), asset
}

// Realize 成交确认后记入已实现盈亏，返回本次增量。
func (a *Accountant) Realize(kind ActionKind, reference, fill, size decimal.Decimal) decimal.Decimal {
	pnl := PnL(kind, reference, fill, size)
	a.cycleRealized = a.cycleRealized.Add(pnl)
	a.realized = a.realized.Add(pnl)
	return pnl
}

// RealizeSettlement 上一周期结算动作的成交：全额计入总盈亏，
// 只有相对计划价的偏差计入当前周期（估算部分已在 reset 时复利）。
func (a *Accountant) RealizeSettlement(act Action, fill, size decimal.Decimal) decimal.Decimal {
	pnl := PnL(act.Kind, act.Reference, fill, size)
	a.cycleRealized = a.cycleRealized.Add(pnl.Sub(act.Estimate(size)))
	a.realized = a.realized.Add(pnl)
	return pnl
}

// ApplyAssetFill 成交确认后更新账本当前持仓。
func (a *Accountant) ApplyAssetFill(side domain.TradeSide, size, price decimal.Decimal) {
	cur := a.ledger.CurrentAssetSize
	if side == domain.TradeSell {
		cur = cur.Sub(size)
	} else {
		cur = cur.Add(size)
	}
	a.ledger = a.ledger.WithCurrent(cur, price)
}

// ConfirmHedgeOpen 对冲开仓成交后以实际成交价更新批次。
func (a *Accountant) ConfirmHedgeOpen(lotID string, price decimal.Decimal) {
	for i := range a.hedge.Lots {
		if a.hedge.Lots[i].ID == lotID {
			a.hedge.Lots[i].EntryPrice = price
			a.hedge.Lots[i].NotionalAmount = a.hedge.Lots[i].AssetAmount.Mul(price)
			return
		}
	}
}

// PlanStops 按近到远计算止损单的数量。
// 回升阶段止损单是回补的反向，数量取上一单位的回补记录。
func (a *Accountant) PlanStops(units []int, ps domain.PhaseState) []decimal.Decimal {
	out := make([]decimal.Decimal, len(units))
	if ps.Phase == domain.PhaseRecovery {
		for i, u := range units {
			out[i] = recordAsset(a.recover, u+1)
		}
		return out
	}
	frag := a.provisional()
	remaining := a.longHeld
	for i, u := range units {
		m := ScaleForUnit(a.cfg.Variant, u-ps.PeakUnit)
		amt := frag.Asset(m.Asset)
		if m.ExitRemainder {
			amt = remaining
		}
		amt = decimal.Min(amt, remaining)
		remaining = remaining.Sub(amt)
		out[i] = amt
	}
	return out
}

// PlanBuys 按近到远计算回补单的数量。
// 回撤阶段回补单是卖出的反向；下跌/回升阶段按相对 valley 的回升表。
func (a *Accountant) PlanBuys(units []int, ps domain.PhaseState) []decimal.Decimal {
	out := make([]decimal.Decimal, len(units))
	valley, ok := ps.Valley()
	if !ok || (ps.Phase != domain.PhaseDecline && ps.Phase != domain.PhaseRecovery) {
		for i, u := range units {
			out[i] = recordAsset(a.retrace, u-1)
		}
		return out
	}
	frag := a.provisional()
	remaining := a.soldOutstanding
	for i, u := range units {
		m := ScaleForUnit(a.cfg.Variant, valley-u)
		amt := frag.Asset(m.Asset)
		if m.ExitRemainder {
			amt = remaining
		}
		amt = decimal.Min(amt, remaining)
		remaining = remaining.Sub(amt)
		out[i] = amt
	}
	return out
}

func recordAsset(stack []Record, unit int) decimal.Decimal {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].Unit == unit {
			return stack[i].Asset
		}
	}
	return decimal.Zero
}

func (a *Accountant) action(unit int, kind ActionKind, asset, price, ref decimal.Decimal, leg Leg, reverse bool) Action {
	return Action{
		ID:        a.newID(),
		Unit:      unit,
		Kind:      kind,
		Asset:     asset,
		Notional:  asset.Mul(price),
		Price:     price,
		Reference: ref,
		Leg:       leg,
		Reverse:   reverse,
	}
}

// State 快照。
type State struct {
	Ledger          domain.PositionLedger     `json:"ledger"`
	Fragment        domain.Fragment           `json:"fragment"`
	Retrace         []Record                  `json:"retrace"`
	Recover         []Record                  `json:"recover"`
	Hedge           domain.ShortHedgePosition `json:"hedge"`
	LongHeld        decimal.Decimal           `json:"long_held"`
	SoldOutstanding decimal.Decimal           `json:"sold_outstanding"`
	CostBasis       decimal.Decimal           `json:"cost_basis"`
	CycleRealized   decimal.Decimal           `json:"cycle_realized"`
	Realized        decimal.Decimal           `json:"realized"`
}

func (a *Accountant) State() State {
	return State{
		Ledger:          a.ledger,
		Fragment:        a.fragment,
		Retrace:         append([]Record(nil), a.retrace...),
		Recover:         append([]Record(nil), a.recover...),
		Hedge:           a.hedge.Clone(),
		LongHeld:        a.longHeld,
		SoldOutstanding: a.soldOutstanding,
		CostBasis:       a.costBasis,
		CycleRealized:   a.cycleRealized,
		Realized:        a.realized,
	}
}

// Restore 由快照恢复。
func Restore(cfg Config, s State) (*Accountant, error) {
	a, err := New(cfg, s.Ledger)
	if err != nil {
		return nil, err
	}
	a.fragment = s.Fragment
	a.retrace = append([]Record(nil), s.Retrace...)
	a.recover = append([]Record(nil), s.Recover...)
	a.hedge = s.Hedge.Clone()
	a.longHeld = s.LongHeld
	a.soldOutstanding = s.SoldOutstanding
	a.costBasis = s.CostBasis
	a.cycleRealized = s.CycleRealized
	a.realized = s.Realized
	return a, nil
}
