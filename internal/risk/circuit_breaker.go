package risk

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrCircuitBreakerOpen 表示断路器已打开，禁止继续下单。
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveRejections 连续被拒（下单/撤单失败）上限。
	MaxConsecutiveRejections int64 `yaml:"max_consecutive_rejections" json:"max_consecutive_rejections"`

	// DailyLossLimit 当日最大已实现亏损（计价货币）。达到或超过时立即熔断。
	DailyLossLimit decimal.Decimal `yaml:"daily_loss_limit" json:"daily_loss_limit"`
}

// CircuitBreaker 连续错误走原子快路径；当日 PnL 是 decimal，用互斥锁保护。
// 所有方法对 nil 接收者安全（未配置风控时直接放行）。
type CircuitBreaker struct {
	halted atomic.Bool

	consecutiveErrors    atomic.Int64
	maxConsecutiveErrors atomic.Int64

	mu        sync.Mutex
	dailyPnL  decimal.Decimal
	lossLimit decimal.Decimal
	dayKey    int

	now func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{now: time.Now}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveRejections)
	cb.mu.Lock()
	cb.lossLimit = cfg.DailyLossLimit
	cb.mu.Unlock()
}

// Halt 手动熔断（如人工介入或检测到严重异常）。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume 手动恢复（会同时清空连续错误计数）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

// Halted 当前是否处于熔断状态。
func (cb *CircuitBreaker) Halted() bool {
	return cb != nil && cb.halted.Load()
}

// AllowTrading 快路径检查是否允许下单。
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}

	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.halted.Store(true)
		return errors.Wrapf(ErrCircuitBreakerOpen, "%d consecutive rejections", cb.consecutiveErrors.Load())
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollDayLocked()
	if cb.lossLimit.IsPositive() && cb.dailyPnL.LessThanOrEqual(cb.lossLimit.Neg()) {
		cb.halted.Store(true)
		return errors.Wrapf(ErrCircuitBreakerOpen, "daily pnl %s", cb.dailyPnL)
	}
	return nil
}

// OnSuccess 下单被接受后调用，清空连续错误计数。
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnRejection 下单被拒或传输失败后调用。
func (cb *CircuitBreaker) OnRejection() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// ConsecutiveRejections 当前连续被拒次数。
func (cb *CircuitBreaker) ConsecutiveRejections() int64 {
	if cb == nil {
		return 0
	}
	return cb.consecutiveErrors.Load()
}

// AddPnL 成交确认后累计当日已实现盈亏（负数为亏损）。
func (cb *CircuitBreaker) AddPnL(delta decimal.Decimal) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollDayLocked()
	cb.dailyPnL = cb.dailyPnL.Add(delta)
}

// DailyPnL 当日已实现盈亏。
func (cb *CircuitBreaker) DailyPnL() decimal.Decimal {
	if cb == nil {
		return decimal.Zero
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollDayLocked()
	return cb.dailyPnL
}

// rollDayLocked 跨日清零（本地时间即可；风控用途不要求跨时区精确）。
func (cb *CircuitBreaker) rollDayLocked() {
	now := cb.now()
	key := now.Year()*10000 + int(now.Month())*100 + now.Day()
	if cb.dayKey != key {
		cb.dayKey = key
		cb.dailyPnL = decimal.Zero
	}
}
