package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick 行情输入。
type PriceTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"ts"`
}

// Fill 成交回报。OrderID 已规范化；TradeID 为交易所的成交编号，可能缺失。
type Fill struct {
	OrderID   OrderID         `json:"order_id"`
	TradeID   string          `json:"trade_id,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Timestamp time.Time       `json:"ts"`
}

// Key 成交事件的去重 key：有成交编号时按订单+成交编号，
// 否则同一订单、同价同量同时间视为同一事件。缺失的时间戳需先补齐。
func (f Fill) Key() string {
	if f.TradeID != "" {
		return fmt.Sprintf("%s|#%s", f.OrderID, f.TradeID)
	}
	return fmt.Sprintf("%s|%s|%s|%d", f.OrderID, f.Price.String(), f.Size.String(), f.Timestamp.UnixNano())
}
