package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderIDNumericAndTextAgree(t *testing.T) {
	inputs := []any{
		int64(123456789),
		"123456789",
		" 0123456789 ",
		float64(123456789),
		json.Number("123456789"),
		json.RawMessage(`123456789`),
		json.RawMessage(`"123456789"`),
	}
	for _, in := range inputs {
		id, err := ParseOrderID(in)
		require.NoError(t, err, "%T %v", in, in)
		assert.Equal(t, OrderID("123456789"), id, "%T %v", in, in)
	}
}

func TestParseOrderIDRejects(t *testing.T) {
	for _, in := range []any{nil, "", "  ", 1.5, json.RawMessage(`null`), struct{}{}} {
		_, err := ParseOrderID(in)
		assert.Error(t, err, "%T %v", in, in)
	}
}

func TestParseOrderIDHexLowercased(t *testing.T) {
	id, err := ParseOrderID("0xABCdef")
	require.NoError(t, err)
	assert.Equal(t, OrderID("0xabcdef"), id)
}

func TestOrderIDUnmarshalJSON(t *testing.T) {
	var payload struct {
		A OrderID `json:"a"`
		B OrderID `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 42, "b": "42"}`), &payload))
	assert.Equal(t, payload.A, payload.B)
}

func TestOrderSideOpposite(t *testing.T) {
	assert.Equal(t, SideTrailingBuy, SideTrailingStop.Opposite())
	assert.Equal(t, SideTrailingStop, SideTrailingBuy.Opposite())
	assert.Equal(t, TradeSell, SideTrailingStop.TradeSide())
	assert.Equal(t, TradeBuy, SideTrailingBuy.TradeSide())
}

func TestFillKeyStableAcrossDecimalForms(t *testing.T) {
	a := Fill{OrderID: "7", Price: d("2250.0"), Size: d("0.048")}
	b := Fill{OrderID: "7", Price: d("2250"), Size: d("0.0480")}
	assert.Equal(t, a.Key(), b.Key())
}
