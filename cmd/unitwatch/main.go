// unitwatch 只读终端看板：读取 unitbot 落盘的快照与事件日志。
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/unitgrid/internal/dashboard"
	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/journal"
	"github.com/betbot/unitgrid/pkg/config"
	"github.com/betbot/unitgrid/pkg/logger"
	"github.com/betbot/unitgrid/pkg/persistence"
)

func main() {
	configPath := flag.String("config", "yml/unitgrid.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "环境变量文件")
	interval := flag.Duration("interval", time.Second, "刷新间隔")
	flag.Parse()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		logrus.Fatalf("加载 env 文件失败: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	// TUI 占用终端，日志只写文件
	logCfg := cfg.Log
	logCfg.NoConsole = true
	if logCfg.OutputFile == "" {
		logCfg.OutputFile = "logs/unitwatch.log"
	}
	if err := logger.Init(logCfg); err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *interval); err != nil {
		logger.Errorf("❌ unitwatch 退出: %v", err)
		_ = logger.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, interval time.Duration) error {
	symbol := domain.NormalizeSymbol(cfg.Position.Symbol)
	svc, err := persistence.Open(persistence.Options{
		Driver:        persistence.Driver(cfg.Persistence.Driver),
		Dir:           cfg.Persistence.Dir,
		EncryptionKey: cfg.Persistence.EncryptionKey,
		ReadOnly:      true,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	src := &dashboard.Source{Store: svc.NewStore("unitgrid", symbol, "snapshot")}
	if cfg.Journal.Enabled {
		if _, err := os.Stat(cfg.Journal.Path); err == nil {
			jr, err := journal.Open(journal.Config{Path: cfg.Journal.Path, Symbol: symbol})
			if err != nil {
				return err
			}
			defer jr.Close()
			src.Events = jr
		}
	}
	return dashboard.Run(ctx, src, interval)
}
