package domain

// Composition 窗口构成（三相模型）。
type Composition string

const (
	CompositionFullLong Composition = "FULL_LONG" // 全部为止损单
	CompositionMixed    Composition = "MIXED"
	CompositionFullCash Composition = "FULL_CASH" // 全部为回补单
)

// CyclePhase 周期阶段（四相模型）。
type CyclePhase string

const (
	PhaseAdvance     CyclePhase = "ADVANCE"
	PhaseRetracement CyclePhase = "RETRACEMENT"
	PhaseDecline     CyclePhase = "DECLINE"
	PhaseRecovery    CyclePhase = "RECOVERY"
)

// UpwardBiased ADVANCE/RECOVERY 中才更新 peak。
func (p CyclePhase) UpwardBiased() bool {
	return p == PhaseAdvance || p == PhaseRecovery
}

// Direction 单位穿越方向。
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// PhaseState 阶段状态。ValleyUnit 在首次进入 DECLINE 前为 nil。
type PhaseState struct {
	Composition Composition `json:"composition"`
	Phase       CyclePhase  `json:"phase"`
	CurrentUnit int         `json:"current_unit"`
	PeakUnit    int         `json:"peak_unit"`
	ValleyUnit  *int        `json:"valley_unit,omitempty"`
}

// Valley 返回 valley 及是否已设置。
func (s PhaseState) Valley() (int, bool) {
	if s.ValleyUnit == nil {
		return 0, false
	}
	return *s.ValleyUnit, true
}

// Clone 深拷贝。
func (s PhaseState) Clone() PhaseState {
	if s.ValleyUnit != nil {
		v := *s.ValleyUnit
		s.ValleyUnit = &v
	}
	return s
}
