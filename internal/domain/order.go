package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// OrderSide 挂单窗口中的订单类型。
type OrderSide string

const (
	SideTrailingStop OrderSide = "trailing_stop" // 价格下方的止损卖单
	SideTrailingBuy  OrderSide = "trailing_buy"  // 价格上方的回补买单
)

// Opposite 互补的订单类型（止损成交后换成回补，反之亦然）。
func (s OrderSide) Opposite() OrderSide {
	if s == SideTrailingStop {
		return SideTrailingBuy
	}
	return SideTrailingStop
}

// TradeSide 对应的交易方向。
func (s OrderSide) TradeSide() TradeSide {
	if s == SideTrailingStop {
		return TradeSell
	}
	return TradeBuy
}

// TradeSide 交易方向。
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"   // 待提交
	OrderStatusSubmitted OrderStatus = "submitted" // 交易所已接受
	OrderStatusFilled    OrderStatus = "filled"    // 已成交
	OrderStatusCancelled OrderStatus = "cancelled" // 已撤销
	OrderStatusFailed    OrderStatus = "failed"    // 提交失败，等待重试
)

// IsFinal filled/cancelled 为终态；failed 会被重试，不是终态。
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// PendingOrder 窗口中的一个槽位。
type PendingOrder struct {
	ID          string          `json:"id"` // 槽位 ID（本地生成，重试时不变）
	Unit        int             `json:"unit"`
	Side        OrderSide       `json:"side"`
	Status      OrderStatus     `json:"status"`
	OrderID     OrderID         `json:"order_id,omitempty"` // 交易所订单 ID（规范化后）
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	FilledSize  decimal.Decimal `json:"filled_size"`
	Attempts    int             `json:"attempts"`
	NextRetryAt time.Time       `json:"next_retry_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// IsLive 已被交易所接受且未终结。
func (o *PendingOrder) IsLive() bool {
	return o != nil && o.Status == OrderStatusSubmitted
}

// NeedsSubmit 仍需要（重新）提交。
func (o *PendingOrder) NeedsSubmit() bool {
	return o != nil && (o.Status == OrderStatusPending || o.Status == OrderStatusFailed)
}

// RemainingSize 未成交数量。
func (o *PendingOrder) RemainingSize() decimal.Decimal {
	r := o.Size.Sub(o.FilledSize)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

func (o *PendingOrder) String() string {
	if o == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s@%d(%s size=%s oid=%s)", o.Side, o.Unit, o.Status, o.Size, o.OrderID)
}

// OrderID 规范化后的交易所订单 ID。
//
// 交易所在不同接口里可能以数字或字符串返回同一个 ID，所有边界都必须经过
// ParseOrderID，保证同一订单只对应一个 key。
type OrderID string

func (id OrderID) String() string { return string(id) }

func (id OrderID) IsZero() bool { return id == "" }

// UnmarshalJSON 同时接受 JSON 数字与字符串。
func (id *OrderID) UnmarshalJSON(b []byte) error {
	parsed, err := ParseOrderID(json.RawMessage(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseOrderID 把任意表示（字符串/整数/整数浮点/json.Number/原始 JSON）转成规范 ID。
func ParseOrderID(v any) (OrderID, error) {
	switch x := v.(type) {
	case nil:
		return "", errors.Wrap(ErrInvalidOrderID, "nil")
	case OrderID:
		return canonicalOrderID(string(x))
	case string:
		return canonicalOrderID(x)
	case []byte:
		return parseRawOrderID(x)
	case json.RawMessage:
		return parseRawOrderID(x)
	case json.Number:
		return canonicalOrderID(x.String())
	case int:
		return OrderID(strconv.FormatInt(int64(x), 10)), nil
	case int32:
		return OrderID(strconv.FormatInt(int64(x), 10)), nil
	case int64:
		return OrderID(strconv.FormatInt(x, 10)), nil
	case uint:
		return OrderID(strconv.FormatUint(uint64(x), 10)), nil
	case uint32:
		return OrderID(strconv.FormatUint(uint64(x), 10)), nil
	case uint64:
		return OrderID(strconv.FormatUint(x, 10)), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return "", errors.Wrapf(ErrInvalidOrderID, "non-integral %v", x)
		}
		return canonicalOrderID(decimal.NewFromFloat(x).String())
	case fmt.Stringer:
		return canonicalOrderID(x.String())
	default:
		return "", errors.Wrapf(ErrInvalidOrderID, "unsupported type %T", v)
	}
}

// MustOrderID 测试/常量场景使用。
func MustOrderID(v any) OrderID {
	id, err := ParseOrderID(v)
	if err != nil {
		panic(err)
	}
	return id
}

func parseRawOrderID(b []byte) (OrderID, error) {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return "", errors.Wrap(ErrInvalidOrderID, "empty")
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal([]byte(s), &str); err != nil {
			return "", errors.Wrap(ErrInvalidOrderID, err.Error())
		}
		return canonicalOrderID(str)
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return "", errors.Wrapf(ErrInvalidOrderID, "raw=%s", s)
	}
	return canonicalOrderID(d.String())
}

func canonicalOrderID(s string) (OrderID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.Wrap(ErrInvalidOrderID, "empty")
	}
	if isDigits(s) {
		s = strings.TrimLeft(s, "0")
		if s == "" {
			s = "0"
		}
		return OrderID(s), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return OrderID(strings.ToLower(s)), nil
	}
	return OrderID(s), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
