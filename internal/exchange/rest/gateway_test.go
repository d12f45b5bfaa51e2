package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/ports"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newGateway(t *testing.T, h http.HandlerFunc, retries int) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g, err := New(Config{BaseURL: srv.URL + "/", APIKey: "k1", RetryCount: retries})
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func stopReq(client string) ports.OrderRequest {
	p := decimal.RequireFromString("2475")
	return ports.OrderRequest{ClientID: client, Symbol: "ETH", Side: domain.TradeSell, Size: decimal.RequireFromString("0.5"), Price: &p, ReduceOnly: true}
}

func TestPlaceConditionalOrder(t *testing.T) {
	var calls atomic.Int64
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ordersPath, r.URL.Path)
		assert.Equal(t, "k1", r.Header.Get(apiKeyHdr))

		var body placeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "slot-1", body.ClientOrderID)
		assert.Equal(t, "stop", body.Type)
		assert.Equal(t, "sell", body.Side)
		require.NotNil(t, body.TriggerPrice)
		assert.Equal(t, "2475", *body.TriggerPrice)
		assert.True(t, body.ReduceOnly)

		// 带前导零的订单 ID
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order_id": "000123", "status": "accepted"}`))
	}, 0)

	res, err := g.PlaceOrder(context.Background(), stopReq("slot-1"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, domain.OrderID("123"), res.OrderID)

	// 同一 client id 不再请求交易所
	again, err := g.PlaceOrder(context.Background(), stopReq("slot-1"))
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, again.OrderID)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPlaceMarketOrderHasNoTrigger(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var body placeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "market", body.Type)
		assert.Nil(t, body.TriggerPrice)
		assert.True(t, body.Hedge)
		writeJSON(w, http.StatusOK, map[string]any{"order_id": "abc", "status": "accepted"})
	}, 0)

	res, err := g.PlaceOrder(context.Background(), ports.OrderRequest{
		ClientID: "act-1", Symbol: "ETH", Side: domain.TradeSell, Size: decimal.NewFromInt(1), Hedge: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderID("abc"), res.OrderID)
}

func TestPlaceRejections(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var body placeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body.ClientOrderID {
		case "bad-request":
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "insufficient margin"})
		case "soft-reject":
			writeJSON(w, http.StatusOK, map[string]any{"status": "rejected", "reason": "post only"})
		default:
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "maintenance"})
		}
	}, 0)
	ctx := context.Background()

	res, err := g.PlaceOrder(ctx, stopReq("bad-request"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "insufficient margin", res.Reason)

	res, err = g.PlaceOrder(ctx, stopReq("soft-reject"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "post only", res.Reason)

	_, err = g.PlaceOrder(ctx, stopReq("down"))
	assert.Error(t, err)
}

func TestCancelOrder(t *testing.T) {
	var attempts atomic.Int64
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		id := strings.TrimPrefix(r.URL.Path, ordersPath+"/")
		switch id {
		case "gone":
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		case "flaky":
			if attempts.Add(1) == 1 {
				writeJSON(w, http.StatusBadGateway, map[string]any{"error": "upstream"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
		}
	}, 1)
	ctx := context.Background()

	ok, err := g.CancelOrder(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.CancelOrder(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.CancelOrder(ctx, "flaky")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
