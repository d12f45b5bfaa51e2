// Package phase 根据窗口构成与单位推导周期阶段，并维护 peak/valley。
package phase

import (
	"github.com/betbot/unitgrid/internal/domain"
)

// Transition 一次更新的结果。
type Transition struct {
	Old      domain.PhaseState
	New      domain.PhaseState
	Changed  bool // 周期阶段变化
	ResetDue bool // RECOVERY 完成回到满仓，需要复利 reset
}

// Derive 由上一阶段和当前构成推导新阶段。
//
// 满仓即 ADVANCE，空仓即 DECLINE；混合时沿用所在的腿：
// 从 ADVANCE/RETRACEMENT 来是 RETRACEMENT，从 DECLINE/RECOVERY 来是 RECOVERY。
func Derive(prev domain.CyclePhase, comp domain.Composition) domain.CyclePhase {
	switch comp {
	case domain.CompositionFullLong:
		return domain.PhaseAdvance
	case domain.CompositionFullCash:
		return domain.PhaseDecline
	}
	if prev == domain.PhaseDecline || prev == domain.PhaseRecovery {
		return domain.PhaseRecovery
	}
	return domain.PhaseRetracement
}

// Tracker 阶段跟踪器。
type Tracker struct {
	state domain.PhaseState
}

// New 满仓 ADVANCE 起步，peak 为当前单位。
func New(current int) *Tracker {
	return &Tracker{state: domain.PhaseState{
		Composition: domain.CompositionFullLong,
		Phase:       domain.PhaseAdvance,
		CurrentUnit: current,
		PeakUnit:    current,
	}}
}

// State 当前状态的副本。
func (t *Tracker) State() domain.PhaseState { return t.state.Clone() }

// Update 以新的构成与单位更新状态。
func (t *Tracker) Update(comp domain.Composition, current int) Transition {
	old := t.state.Clone()
	next := t.state.Clone()
	next.Composition = comp
	next.CurrentUnit = current
	next.Phase = Derive(old.Phase, comp)

	if next.Phase.UpwardBiased() && current > next.PeakUnit {
		next.PeakUnit = current
	}
	if next.Phase == domain.PhaseDecline {
		if v, ok := next.Valley(); !ok || old.Phase != domain.PhaseDecline || current < v {
			next.ValleyUnit = &current
		}
	}

	t.state = next
	return Transition{
		Old:      old,
		New:      next.Clone(),
		Changed:  old.Phase != next.Phase,
		ResetDue: old.Phase == domain.PhaseRecovery && next.Phase == domain.PhaseAdvance,
	}
}

// Reset 新周期：peak 重置为当前单位，valley 清空。
func (t *Tracker) Reset(current int) {
	t.state = domain.PhaseState{
		Composition: domain.CompositionFullLong,
		Phase:       domain.PhaseAdvance,
		CurrentUnit: current,
		PeakUnit:    current,
	}
}

// AtPeak 满足锁定分片的条件：ADVANCE 中 current == peak > 0。
func (t *Tracker) AtPeak() bool {
	s := t.state
	return s.Phase == domain.PhaseAdvance && s.CurrentUnit == s.PeakUnit && s.PeakUnit > 0
}

// Restore 由快照恢复。
func Restore(s domain.PhaseState) *Tracker {
	return &Tracker{state: s.Clone()}
}
