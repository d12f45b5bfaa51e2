package domain

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig 配置非法（unit_size/leverage/规模等），构造阶段直接失败。
	ErrInvalidConfig = errors.New("invalid config")
	// ErrUnsupportedSymbol 交易标的不在支持列表内。
	ErrUnsupportedSymbol = errors.New("unsupported symbol")
	// ErrWindowInvariant 挂单窗口不变量被破坏（数量或上下分布）。
	ErrWindowInvariant = errors.New("order window invariant violated")
	// ErrFragmentLocked 本周期 fragment 已锁定。
	ErrFragmentLocked = errors.New("fragment already locked")
	// ErrUnknownOrder 订单 ID 无法映射到任何被跟踪的单位。
	ErrUnknownOrder = errors.New("unknown order")
	// ErrDuplicateFill 同一成交事件重复投递。
	ErrDuplicateFill = errors.New("duplicate fill")
	// ErrInvalidOrderID 订单 ID 无法规范化。
	ErrInvalidOrderID = errors.New("invalid order id")
)
