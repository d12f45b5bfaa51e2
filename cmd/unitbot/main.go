// unitbot 单标的单位网格机器人：行情 WebSocket -> tracker -> 下单网关（paper 或 REST）。
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/events"
	"github.com/betbot/unitgrid/internal/exchange/paper"
	"github.com/betbot/unitgrid/internal/exchange/rest"
	"github.com/betbot/unitgrid/internal/execution"
	"github.com/betbot/unitgrid/internal/feed"
	"github.com/betbot/unitgrid/internal/fragment"
	"github.com/betbot/unitgrid/internal/infrastructure/websocket"
	"github.com/betbot/unitgrid/internal/journal"
	"github.com/betbot/unitgrid/internal/metrics"
	"github.com/betbot/unitgrid/internal/ports"
	"github.com/betbot/unitgrid/internal/risk"
	"github.com/betbot/unitgrid/internal/tracker"
	"github.com/betbot/unitgrid/pkg/config"
	"github.com/betbot/unitgrid/pkg/logger"
	"github.com/betbot/unitgrid/pkg/persistence"
	"github.com/betbot/unitgrid/pkg/shutdown"
)

const (
	snapshotPrefix = "unitgrid"
	snapshotTag    = "snapshot"
	statusInterval = 30 * time.Second
)

// priceFanout 按顺序把行情交给多个处理器（tracker 在前，paper 交易所在后）。
type priceFanout []ports.PriceHandler

func (f priceFanout) OnPrice(ctx context.Context, tick domain.PriceTick) error {
	var first error
	for _, h := range f {
		if err := h.OnPrice(ctx, tick); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func firstExistingFile(paths ...string) string {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml/.yml/.json），默认查找 yml/unitgrid.yaml")
	envFile := flag.String("env", ".env", "环境变量文件")
	flag.Parse()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		logrus.Fatalf("加载 env 文件失败: %v", err)
	}
	path := *configPath
	if path == "" {
		path = firstExistingFile("yml/unitgrid.yaml", "yml/unitgrid.yml", "unitgrid.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Close()

	if err := run(cfg); err != nil {
		logger.Errorf("❌ 运行失败: %v", err)
		_ = logger.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	symbol := domain.NormalizeSymbol(cfg.Position.Symbol)
	if cfg.Feed.URL == "" {
		return errors.Wrap(domain.ErrInvalidConfig, "feed.ws_url 未配置")
	}
	logger.Infof("🚀 unitbot 启动: symbol=%s mode=%s variant=%s window=%d",
		symbol, cfg.Exchange.Mode, cfg.Strategy.Variant, cfg.Strategy.WindowSize)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	sm := shutdown.NewManager()

	// 持久化
	svc, err := persistence.Open(persistence.Options{
		Driver:        persistence.Driver(cfg.Persistence.Driver),
		Dir:           cfg.Persistence.Dir,
		EncryptionKey: cfg.Persistence.EncryptionKey,
	})
	if err != nil {
		return err
	}
	store := svc.NewStore(snapshotPrefix, symbol, snapshotTag)
	saver := persistence.NewThrottledSaver(store, cfg.Persistence.SaveInterval)

	// 事件输出
	sinks := ports.MultiSink{metrics.Sink{}, ports.EventSinkFunc(logEvent)}
	var jr *journal.Journal
	if cfg.Journal.Enabled {
		jr, err = journal.Open(journal.Config{Path: cfg.Journal.Path, Symbol: symbol})
		if err != nil {
			_ = svc.Close()
			return err
		}
		sinks = append(sinks, jr)
	}

	// 下单网关
	var (
		gateway ports.OrderGateway
		paperEx *paper.Exchange
	)
	switch cfg.Exchange.Mode {
	case "rest":
		gw, err := rest.New(rest.Config{
			BaseURL:    cfg.Exchange.BaseURL,
			APIKey:     cfg.Exchange.APIKey,
			Timeout:    cfg.Exchange.Timeout,
			RetryCount: cfg.Exchange.Retry,
			RateLimit:  cfg.Exchange.RateLimit,
			Burst:      cfg.Exchange.Burst,
		})
		if err != nil {
			return err
		}
		sm.OnShutdown("rest", func(context.Context) { gw.Close() })
		gateway = gw
	default:
		paperEx = paper.New(paper.Config{
			Symbol:       symbol,
			InitialCash:  cfg.Exchange.PaperCash,
			InitialAsset: cfg.Position.AssetSize,
			FeeRate:      cfg.Exchange.PaperFeeRate,
		}, nil)
		gateway = paperEx
		logger.Infof("🧪 [paper] 使用模拟交易所: cash=%s asset=%s", cfg.Exchange.PaperCash, cfg.Position.AssetSize)
	}

	guard := feed.NewReplayGuard(symbol, cfg.Feed.ReplayGrace)
	executor := execution.NewSerialCommandExecutor(cfg.Exchange.QueueSize)
	deduper := execution.NewInFlightDeduper(2 * cfg.Exchange.CommandTimeout)
	opts := tracker.Options{
		Fragment: fragment.Config{
			Variant:          fragment.Variant(cfg.Strategy.Variant),
			FragmentCount:    cfg.Strategy.FragmentCount,
			HedgeFragmentPct: cfg.Strategy.HedgeFragmentPct,
		},
		WindowSize: cfg.Strategy.WindowSize,
		Gateway:    gateway,
		Executor:   executor,
		Deduper:    deduper,
		Sink:       sinks,
		Guard:      guard,
		Breaker: risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
			MaxConsecutiveRejections: cfg.Risk.MaxConsecutiveRejections,
			DailyLossLimit:           cfg.Risk.DailyLossLimit,
		}),
		StrictInvariants:  cfg.StrictInvariants,
		CommandTimeout:    cfg.Exchange.CommandTimeout,
		CancelTimeout:     cfg.Exchange.CancelTimeout,
		MaxCancelAttempts: cfg.Exchange.MaxCancelAttempts,
		OnSnapshot: func(s tracker.Snapshot) {
			before := saver.Saves()
			err := saver.Save(s)
			if err != nil || saver.Saves() != before {
				metrics.ObserveSnapshotSave(err)
			}
		},
	}

	trk, err := loadTracker(cfg, opts, store)
	if err != nil {
		return err
	}

	// 行情：tracker 先于 paper 交易所处理同一笔行情，成交回报因此排在行情之后
	var (
		prices ports.PriceHandler = trk
		fills  ports.FillHandler  = trk
	)
	if paperEx != nil {
		paperEx.SetFillHandler(trk)
		prices = priceFanout{trk, paperEx}
		fills = nil
	}
	feedClient, err := websocket.NewFeedClient(websocket.FeedConfig{
		URL:            cfg.Feed.URL,
		Symbol:         symbol,
		ProxyURL:       cfg.Feed.ProxyURL,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
	}, prices, fills)
	if err != nil {
		return err
	}
	feedClient.OnReconnect(guard.MarkReconnected)

	if cfg.Metrics.Listen != "" {
		if srv, err := metrics.StartAsync(rootCtx, cfg.Metrics.Listen); err != nil {
			logger.Errorf("metrics/pprof 启动失败: %v", err)
		} else {
			logger.Infof("📊 metrics/pprof 启用: listen=%s", srv.Addr)
		}
	}

	// 关闭顺序：tracker 批次最后注册、最先执行；日志与存储随后并发关闭
	if jr != nil {
		sm.OnShutdown("journal", func(context.Context) {
			if err := jr.Close(); err != nil {
				logger.Warnf("关闭事件日志失败: %v", err)
			}
		})
	}
	sm.OnShutdown("persistence", func(context.Context) {
		if err := svc.Close(); err != nil {
			logger.Warnf("关闭持久化失败: %v", err)
		}
	})

	trackerDone := make(chan struct{})
	feedDone := make(chan struct{})
	sm.OnShutdown("tracker", func(ctx context.Context) {
		for _, ch := range []chan struct{}{feedDone, trackerDone} {
			select {
			case <-ch:
			case <-ctx.Done():
				return
			}
		}
		if err := executor.Stop(ctx); err != nil {
			logger.Warnf("停止执行器失败: %v", err)
		}
		deduper.Close()
		err := saver.Flush()
		metrics.ObserveSnapshotSave(err)
		if err != nil {
			logger.Errorf("❌ 保存最终快照失败: %v", err)
		}
	})

	trk.ResumeCancels(rootCtx)
	go func() {
		defer close(trackerDone)
		if err := trk.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			logger.Errorf("❌ tracker 退出: %v", err)
		}
	}()
	go func() {
		defer close(feedDone)
		_ = feedClient.Run(rootCtx)
	}()
	go reportStatus(rootCtx, trk, feedClient, paperEx)

	logger.Info("✅ unitbot 已启动，按 Ctrl+C 停止")

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigC {
		if sig == syscall.SIGHUP {
			if err := logger.Rotate(); err != nil {
				logger.Warnf("日志切割失败: %v", err)
			}
			continue
		}
		break
	}
	logger.Info("收到停止信号，正在关闭...")
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if !sm.Shutdown(shutdownCtx) {
		logger.Warn("⚠️ 优雅关闭超时")
	}
	logger.Info("✅ unitbot 已停止")
	return nil
}

// loadTracker 有快照则恢复，否则按配置新建。
func loadTracker(cfg *config.Config, opts tracker.Options, store persistence.Store) (*tracker.Tracker, error) {
	var snap tracker.Snapshot
	err := store.Load(&snap)
	switch {
	case err == nil:
		logger.Infof("♻️ 发现快照 %s (saved_at=%s)，从快照恢复", store.Key(), snap.SavedAt.Format(time.RFC3339))
		return tracker.Restore(opts, snap)
	case persistence.IsNotExists(err):
	default:
		return nil, err
	}

	ledger, err := domain.NewPositionLedger(domain.LedgerParams{
		Symbol:       cfg.Position.Symbol,
		EntryPrice:   cfg.Position.EntryPrice,
		UnitSize:     cfg.Position.UnitSize,
		Leverage:     cfg.Position.Leverage,
		AssetSize:    cfg.Position.AssetSize,
		Notional:     cfg.Position.Notional,
		ExtraSymbols: cfg.Position.ExtraSymbols,
	})
	if err != nil {
		return nil, err
	}
	opts.Ledger = ledger
	return tracker.New(opts)
}

func logEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.ResetOccurredEvent, events.PhaseChangedEvent:
		logger.WithField("kind", ev.EventKind()).Infof("📣 %+v", e)
	case events.OrderRejectedEvent, events.InvariantViolatedEvent:
		logger.WithField("kind", ev.EventKind()).Warnf("📣 %+v", e)
	default:
		logger.WithField("kind", ev.EventKind()).Debugf("📣 %+v", e)
	}
}

func reportStatus(ctx context.Context, trk *tracker.Tracker, fc *websocket.FeedClient, paperEx *paper.Exchange) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snapCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		s, err := trk.RequestSnapshot(snapCtx)
		cancel()
		if err != nil {
			continue
		}
		entry := logger.WithField("unit", s.CurrentUnit).
			WithField("phase", s.Phase).
			WithField("realized", s.RealizedPnL.StringFixed(2)).
			WithField("ws_received", fc.Received())
		if paperEx != nil {
			b := paperEx.Balances()
			entry = entry.WithField("paper_cash", b.Cash.StringFixed(2)).WithField("paper_asset", b.Asset)
		}
		entry.Infof("📊 [status] price=%s stops=%d buys=%d", s.LastPrice, len(s.TrailingStops), len(s.TrailingBuys))
	}
}
