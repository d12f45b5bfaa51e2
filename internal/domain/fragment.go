package domain

import "github.com/shopspring/decimal"

// Fragment 周期内锁定的分片大小。锁定后直到 reset 都不再变化。
type Fragment struct {
	LockedAsset    decimal.Decimal `json:"locked_asset"`
	LockedNotional decimal.Decimal `json:"locked_notional"`
	LockPrice      decimal.Decimal `json:"lock_price"`
	LockedUnit     int             `json:"locked_unit"`
	Locked         bool            `json:"locked"`
}

// Asset 返回 m 倍分片对应的资产数量。
func (f Fragment) Asset(m decimal.Decimal) decimal.Decimal {
	return f.LockedAsset.Mul(m)
}

// Notional 返回 m 倍分片对应的名义价值。
func (f Fragment) Notional(m decimal.Decimal) decimal.Decimal {
	return f.LockedNotional.Mul(m)
}
