// Package rest 通过交易所 REST 接口下单/撤单的 OrderGateway 实现。
package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/ports"
	"github.com/betbot/unitgrid/pkg/cache"
	"github.com/betbot/unitgrid/pkg/ratelimit"
)

var log = logrus.WithField("component", "rest")

const (
	ordersPath = "/api/v1/orders"
	apiKeyHdr  = "X-API-KEY"
)

// Config REST 网关配置。
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	RetryCount  int
	RateLimit   float64 // 每秒请求数，<=0 不限速
	Burst       int
	ClientIDTTL time.Duration // 已接受 client id 的记忆时长
}

// Gateway 线程安全；由执行器 goroutine 调用。
type Gateway struct {
	client   *resty.Client
	limiter  *ratelimit.TokenBucket
	accepted *cache.InMemoryCache[string, domain.OrderID]
}

var _ ports.OrderGateway = (*Gateway)(nil)

type placeRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Size          string  `json:"size"`
	TriggerPrice  *string `json:"trigger_price,omitempty"`
	ReduceOnly    bool    `json:"reduce_only"`
	Hedge         bool    `json:"hedge"`
}

type placeResponse struct {
	OrderID domain.OrderID `json:"order_id"`
	Status  string         `json:"status"`
	Reason  string         `json:"reason"`
}

type cancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New 创建网关。
func New(cfg Config) (*Gateway, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if host == "" {
		return nil, errors.Wrap(domain.ErrInvalidConfig, "exchange base_url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.ClientIDTTL <= 0 {
		cfg.ClientIDTTL = time.Hour
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "unitgrid/1").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						return d, nil
					}
				}
			}
			return 0, nil
		})
	if cfg.APIKey != "" {
		client.SetHeader(apiKeyHdr, cfg.APIKey)
	}

	var limiter *ratelimit.TokenBucket
	if cfg.RateLimit > 0 {
		limiter = ratelimit.NewTokenBucket(cfg.Burst, cfg.RateLimit)
	}

	return &Gateway{
		client:   client,
		limiter:  limiter,
		accepted: cache.NewInMemoryCache[string, domain.OrderID](cfg.ClientIDTTL),
	}, nil
}

// Close 停止内部缓存清理。
func (g *Gateway) Close() {
	g.accepted.Close()
}

// PlaceOrder 4xx 视为交易所拒单；传输错误与 5xx 作为 error 返回。
// 同一 client id 已被接受过时直接返回缓存的订单 ID，避免超时重试造成重复挂单。
func (g *Gateway) PlaceOrder(ctx context.Context, req ports.OrderRequest) (ports.PlaceResult, error) {
	if id, ok := g.accepted.Get(req.ClientID); ok && req.ClientID != "" {
		log.Debugf("[rest] client id 已被接受，复用订单: %s -> %s", req.ClientID, id)
		return ports.PlaceResult{Accepted: true, OrderID: id}, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return ports.PlaceResult{}, errors.Wrap(err, "rate limit")
	}

	body := placeRequest{
		ClientOrderID: req.ClientID,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          "market",
		Size:          req.Size.String(),
		ReduceOnly:    req.ReduceOnly,
		Hedge:         req.Hedge,
	}
	if req.Price != nil {
		p := req.Price.String()
		body.Type = "stop"
		body.TriggerPrice = &p
	}

	var out placeResponse
	var apiErr errorResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post(ordersPath)
	if err != nil {
		return ports.PlaceResult{}, errors.Wrapf(err, "place order %s", req.ClientID)
	}

	switch {
	case resp.StatusCode() >= 500:
		return ports.PlaceResult{}, errors.Errorf("place order %s: http %d", req.ClientID, resp.StatusCode())
	case resp.IsError():
		reason := apiErr.Error
		if reason == "" {
			reason = resp.Status()
		}
		return ports.PlaceResult{Accepted: false, Reason: reason}, nil
	}

	if strings.EqualFold(out.Status, "rejected") {
		return ports.PlaceResult{Accepted: false, Reason: out.Reason}, nil
	}
	if out.OrderID.IsZero() {
		return ports.PlaceResult{}, errors.Wrapf(domain.ErrInvalidOrderID, "place order %s: empty order id", req.ClientID)
	}
	if req.ClientID != "" {
		g.accepted.Set(req.ClientID, out.OrderID, 0)
	}
	log.Debugf("[rest] 下单成功: client=%s order=%s", req.ClientID, out.OrderID)
	return ports.PlaceResult{Accepted: true, OrderID: out.OrderID}, nil
}

// CancelOrder 404 表示订单已不存在（已成交或已撤），返回 false。
func (g *Gateway) CancelOrder(ctx context.Context, orderID domain.OrderID) (bool, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return false, errors.Wrap(err, "rate limit")
	}
	var out cancelResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("id", orderID.String()).
		SetResult(&out).
		Delete(ordersPath + "/{id}")
	if err != nil {
		return false, errors.Wrapf(err, "cancel order %s", orderID)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return false, nil
	case resp.IsError():
		return false, errors.Errorf("cancel order %s: http %d", orderID, resp.StatusCode())
	}
	if !out.Cancelled && out.Reason != "" {
		log.Debugf("[rest] 撤单未确认: order=%s reason=%s", orderID, out.Reason)
	}
	return out.Cancelled, nil
}
