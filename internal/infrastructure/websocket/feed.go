package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/ports"
	"github.com/betbot/unitgrid/pkg/sigchan"
	"github.com/betbot/unitgrid/pkg/syncgroup"
)

var log = logrus.WithField("component", "feed")

const (
	msgTypePrice = "price"
	msgTypeFill  = "fill"
	msgTypeError = "error"
)

// FeedConfig 行情/成交 WebSocket 配置。
type FeedConfig struct {
	URL               string
	Symbol            string
	ProxyURL          string
	HandshakeTimeout  time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
	ReadTimeout       time.Duration
}

func (c *FeedConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = 8 * c.ReconnectDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
}

// subscribeMessage 连接建立后发送的订阅请求。
type subscribeMessage struct {
	Type     string   `json:"type"`
	Symbol   string   `json:"symbol"`
	Channels []string `json:"channels"`
}

// envelope 入站消息只先解析类型。
type envelope struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// FeedClient 单标的行情 + 成交 WebSocket 客户端（信号驱动重连）。
//
// 每次连接由一个 SyncGroup 管理读循环与 PING 循环；任一循环发现连接异常就发出
// 重连信号，Run 关闭旧连接、等待循环退出后重新拨号。
type FeedClient struct {
	cfg    FeedConfig
	prices ports.PriceHandler
	fills  ports.FillHandler
	dialer websocket.Dialer

	mu          sync.RWMutex
	conn        *websocket.Conn
	lastPong    time.Time
	onReconnect []func()

	reconnectC *sigchan.Chan
	connects   atomic.Int64
	received   atomic.Int64
}

// NewFeedClient 创建客户端；fills 可为 nil（只订阅行情）。
func NewFeedClient(cfg FeedConfig, prices ports.PriceHandler, fills ports.FillHandler) (*FeedClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.Wrap(domain.ErrInvalidConfig, "feed url is empty")
	}
	if prices == nil {
		return nil, errors.Wrap(domain.ErrInvalidConfig, "price handler is nil")
	}
	cfg.applyDefaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			log.Warnf("解析代理 URL 失败: %v，将使用环境变量代理", err)
		} else {
			dialer.Proxy = http.ProxyURL(u)
		}
	}

	return &FeedClient{
		cfg:        cfg,
		prices:     prices,
		fills:      fills,
		dialer:     dialer,
		reconnectC: sigchan.New(1),
	}, nil
}

// OnReconnect 注册重连回调（第一次连接不触发）。
func (f *FeedClient) OnReconnect(fn func()) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.onReconnect = append(f.onReconnect, fn)
	f.mu.Unlock()
}

// Connects 成功建立的连接次数。
func (f *FeedClient) Connects() int64 { return f.connects.Load() }

// Received 已转发的消息数。
func (f *FeedClient) Received() int64 { return f.received.Load() }

// Reconnect 触发重连（非阻塞）。
func (f *FeedClient) Reconnect() { _ = f.reconnectC.Emit() }

// Run 拨号并保持连接，直到 ctx 取消。
func (f *FeedClient) Run(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := f.dial(ctx)
		if err != nil {
			failures++
			delay := f.backoff(failures)
			log.Warnf("⚠️ [feed] 连接失败 (第 %d 次): %v，%v 后重试", failures, err, delay)
			if !sleepCtx(ctx, delay) {
				return nil
			}
			continue
		}
		failures = 0

		if f.connects.Add(1) > 1 {
			f.mu.RLock()
			hooks := append([]func(){}, f.onReconnect...)
			f.mu.RUnlock()
			for _, fn := range hooks {
				fn()
			}
			log.Infof("🔁 [feed] 已重连: %s", f.cfg.URL)
		} else {
			log.Infof("✅ [feed] 已连接: %s symbol=%s", f.cfg.URL, f.cfg.Symbol)
		}

		f.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		log.Warnf("🔌 [feed] 连接断开，冷却 %v 后重连", f.cfg.ReconnectDelay)
		if !sleepCtx(ctx, f.cfg.ReconnectDelay) {
			return nil
		}
	}
}

func (f *FeedClient) backoff(failures int) time.Duration {
	d := f.cfg.ReconnectDelay
	for i := 1; i < failures && d < f.cfg.MaxReconnectDelay; i++ {
		d *= 2
	}
	if d > f.cfg.MaxReconnectDelay {
		d = f.cfg.MaxReconnectDelay
	}
	return d
}

func (f *FeedClient) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", f.cfg.URL)
	}
	channels := []string{msgTypePrice}
	if f.fills != nil {
		channels = append(channels, msgTypeFill)
	}
	sub := subscribeMessage{Type: "subscribe", Symbol: f.cfg.Symbol, Channels: channels}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "subscribe")
	}
	return conn, nil
}

// serve 阻塞到连接失效或 ctx 取消。
func (f *FeedClient) serve(ctx context.Context, conn *websocket.Conn) {
	// 上一条连接遗留的信号
	f.reconnectC.Drain()

	f.mu.Lock()
	f.conn = conn
	f.lastPong = time.Now()
	f.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	sg := syncgroup.NewSyncGroup()
	sg.Add(func() { f.readLoop(connCtx, conn) })
	sg.Add(func() { f.pingLoop(connCtx, conn) })
	sg.Run()

	select {
	case <-ctx.Done():
		f.mu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.mu.Unlock()
	case <-f.reconnectC.C():
	}
	cancel()
	conn.Close()
	sg.WaitAndClear()

	f.mu.Lock()
	f.conn = nil
	f.mu.Unlock()
}

func (f *FeedClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Infof("[feed] 服务端关闭连接: %v", err)
			} else {
				log.Warnf("⚠️ [feed] 读取失败: %v", err)
			}
			f.Reconnect()
			return
		}
		f.handleMessage(ctx, conn, message)
	}
}

func (f *FeedClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.RLock()
			lastPong := f.lastPong
			f.mu.RUnlock()
			if time.Since(lastPong) > f.cfg.PongTimeout {
				log.Warnf("⚠️ [feed] 超过 %v 未收到 PONG，触发重连", f.cfg.PongTimeout)
				f.Reconnect()
				return
			}
			if err := f.write(conn, []byte("PING")); err != nil {
				log.Warnf("⚠️ [feed] 发送 PING 失败: %v，触发重连", err)
				f.Reconnect()
				return
			}
		}
	}
}

// write 串行化写操作（gorilla 连接只允许一个并发写者）。
func (f *FeedClient) write(conn *websocket.Conn, b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (f *FeedClient) handleMessage(ctx context.Context, conn *websocket.Conn, message []byte) {
	switch strings.TrimSpace(string(message)) {
	case "PING":
		_ = f.write(conn, []byte("PONG"))
		return
	case "PONG":
		f.mu.Lock()
		f.lastPong = time.Now()
		f.mu.Unlock()
		return
	}

	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Debugf("[feed] 解析消息类型失败: %v, 消息内容: %s", err, preview(message))
		return
	}
	switch env.Type {
	case msgTypePrice:
		var tick domain.PriceTick
		if err := json.Unmarshal(message, &tick); err != nil {
			log.Warnf("⚠️ [feed] 解析行情失败: %v, 消息内容: %s", err, preview(message))
			return
		}
		if tick.Symbol == "" {
			tick.Symbol = f.cfg.Symbol
		}
		f.received.Add(1)
		if err := f.prices.OnPrice(ctx, tick); err != nil && ctx.Err() == nil {
			log.Warnf("⚠️ [feed] 行情投递失败: %v", err)
		}
	case msgTypeFill:
		if f.fills == nil {
			return
		}
		var fill domain.Fill
		if err := json.Unmarshal(message, &fill); err != nil {
			log.Warnf("⚠️ [feed] 解析成交失败: %v, 消息内容: %s", err, preview(message))
			return
		}
		f.received.Add(1)
		if err := f.fills.OnFill(ctx, fill); err != nil && ctx.Err() == nil {
			log.Warnf("⚠️ [feed] 成交投递失败: %v", err)
		}
	case msgTypeError:
		log.Errorf("❌ [feed] 服务端错误: %s", env.Message)
	case "subscribed", "heartbeat":
	default:
		log.Debugf("[feed] 未知消息类型: %s (消息内容: %s)", env.Type, preview(message))
	}
}

func preview(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
