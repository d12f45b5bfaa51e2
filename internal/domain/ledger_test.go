package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewPositionLedgerRejectsBadConfig(t *testing.T) {
	base := LedgerParams{Symbol: "ETH", UnitSize: d("250"), Leverage: d("10"), AssetSize: d("9")}

	cases := []struct {
		name   string
		mutate func(p *LedgerParams)
		want   error
	}{
		{"zero unit", func(p *LedgerParams) { p.UnitSize = decimal.Zero }, ErrInvalidConfig},
		{"negative unit", func(p *LedgerParams) { p.UnitSize = d("-1") }, ErrInvalidConfig},
		{"zero leverage", func(p *LedgerParams) { p.Leverage = decimal.Zero }, ErrInvalidConfig},
		{"no size", func(p *LedgerParams) { p.AssetSize = decimal.Zero }, ErrInvalidConfig},
		{"unknown symbol", func(p *LedgerParams) { p.Symbol = "FOO" }, ErrUnsupportedSymbol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			_, err := NewPositionLedger(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestLedgerAnchorDerivesMissingSide(t *testing.T) {
	l, err := NewPositionLedger(LedgerParams{Symbol: "eth-usd", UnitSize: d("250"), Leverage: d("10"), Notional: d("10000")})
	require.NoError(t, err)
	assert.False(t, l.Anchored())
	assert.Equal(t, "ETH", l.Symbol)

	l = l.Anchor(d("2500"))
	require.True(t, l.Anchored())
	assert.True(t, l.OriginalAssetSize.Equal(d("4")))
	assert.True(t, l.CurrentAssetSize.Equal(d("4")))

	// 再次锚定不改变
	again := l.Anchor(d("3000"))
	assert.True(t, again.EntryPrice.Equal(d("2500")))
}

func TestLedgerRebaseKeepsAnchor(t *testing.T) {
	l, err := NewPositionLedger(LedgerParams{Symbol: "ETH", EntryPrice: d("2500"), UnitSize: d("250"), Leverage: d("1"), AssetSize: d("9")})
	require.NoError(t, err)
	assert.True(t, l.OriginalNotional.Equal(d("22500")))

	moved := l.WithCurrent(d("4.5"), d("2750"))
	assert.True(t, moved.OriginalAssetSize.Equal(d("9")))
	assert.True(t, moved.CurrentNotional.Equal(d("12375")))

	next := moved.Rebase(d("10"), d("30000"))
	assert.True(t, next.EntryPrice.Equal(d("2500")))
	assert.True(t, next.OriginalAssetSize.Equal(d("10")))
	assert.True(t, next.CurrentAssetSize.Equal(d("10")))
}
