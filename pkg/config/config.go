// Package config 加载 unitgrid 配置：YAML/JSON 文件 + .env + 环境变量覆盖（优先级：环境变量 > 配置文件 > 默认值）。
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/pkg/logger"
)

// 环境变量前缀
const envPrefix = "UNITGRID_"

// PositionConfig 仓位参数。EntryPrice 为 0 时由第一笔行情锚定。
type PositionConfig struct {
	Symbol       string          `yaml:"symbol" json:"symbol"`
	ExtraSymbols []string        `yaml:"extra_symbols" json:"extra_symbols"`
	EntryPrice   decimal.Decimal `yaml:"entry_price" json:"entry_price"`
	UnitSize     decimal.Decimal `yaml:"unit_size" json:"unit_size"`
	AssetSize    decimal.Decimal `yaml:"asset_size" json:"asset_size"`
	Notional     decimal.Decimal `yaml:"notional" json:"notional"`
	Leverage     decimal.Decimal `yaml:"leverage" json:"leverage"`
}

// StrategyConfig 分片与窗口参数。
type StrategyConfig struct {
	Variant          string          `yaml:"variant" json:"variant"` // simple | scaled
	WindowSize       int             `yaml:"window_size" json:"window_size"`
	FragmentCount    int             `yaml:"fragment_count" json:"fragment_count"`
	HedgeFragmentPct decimal.Decimal `yaml:"hedge_fragment_pct" json:"hedge_fragment_pct"`
}

// FeedConfig 行情/成交 WebSocket。
type FeedConfig struct {
	URL            string        `yaml:"ws_url" json:"ws_url"`
	ProxyURL       string        `yaml:"proxy_url" json:"proxy_url"`
	ReplayGrace    time.Duration `yaml:"replay_grace" json:"replay_grace"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
}

// ExchangeConfig 下单通道。
type ExchangeConfig struct {
	Mode              string          `yaml:"mode" json:"mode"` // paper | rest
	BaseURL           string          `yaml:"base_url" json:"base_url"`
	APIKey            string          `yaml:"api_key" json:"api_key"`
	RateLimit         float64         `yaml:"rate_limit" json:"rate_limit"` // 每秒请求数
	Burst             int             `yaml:"burst" json:"burst"`
	Retry             int             `yaml:"retry" json:"retry"`
	Timeout           time.Duration   `yaml:"timeout" json:"timeout"`
	CommandTimeout    time.Duration   `yaml:"command_timeout" json:"command_timeout"`
	CancelTimeout     time.Duration   `yaml:"cancel_timeout" json:"cancel_timeout"`
	MaxCancelAttempts int             `yaml:"max_cancel_attempts" json:"max_cancel_attempts"`
	QueueSize         int             `yaml:"queue_size" json:"queue_size"`
	PaperCash         decimal.Decimal `yaml:"paper_cash" json:"paper_cash"`
	PaperFeeRate      decimal.Decimal `yaml:"paper_fee_rate" json:"paper_fee_rate"`
}

// RiskConfig 断路器参数。
type RiskConfig struct {
	MaxConsecutiveRejections int64           `yaml:"max_consecutive_rejections" json:"max_consecutive_rejections"`
	DailyLossLimit           decimal.Decimal `yaml:"daily_loss_limit" json:"daily_loss_limit"`
}

// PersistenceConfig 快照持久化。
type PersistenceConfig struct {
	Driver        string        `yaml:"driver" json:"driver"` // json | badger
	Dir           string        `yaml:"dir" json:"dir"`
	EncryptionKey string        `yaml:"encryption_key" json:"encryption_key"`
	SaveInterval  time.Duration `yaml:"save_interval" json:"save_interval"`
}

// JournalConfig SQLite 事件日志。
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// MetricsConfig Prometheus/pprof 服务。
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"` // 为空则不启动
}

// Config 完整配置。
type Config struct {
	Position         PositionConfig    `yaml:"position" json:"position"`
	Strategy         StrategyConfig    `yaml:"strategy" json:"strategy"`
	Feed             FeedConfig        `yaml:"feed" json:"feed"`
	Exchange         ExchangeConfig    `yaml:"exchange" json:"exchange"`
	Risk             RiskConfig        `yaml:"risk" json:"risk"`
	Persistence      PersistenceConfig `yaml:"persistence" json:"persistence"`
	Journal          JournalConfig     `yaml:"journal" json:"journal"`
	Metrics          MetricsConfig     `yaml:"metrics" json:"metrics"`
	Log              logger.Config     `yaml:"log" json:"log"`
	StrictInvariants bool              `yaml:"strict_invariants" json:"strict_invariants"`
}

// Default 默认配置（不含仓位参数）。
func Default() *Config {
	return &Config{
		Position: PositionConfig{
			Leverage: decimal.NewFromInt(1),
		},
		Strategy: StrategyConfig{
			Variant:          "simple",
			WindowSize:       4,
			FragmentCount:    4,
			HedgeFragmentPct: decimal.RequireFromString("0.12"),
		},
		Feed: FeedConfig{
			ReplayGrace:    5 * time.Second,
			ReconnectDelay: 5 * time.Second,
		},
		Exchange: ExchangeConfig{
			Mode:              "paper",
			RateLimit:         10,
			Burst:             5,
			Retry:             2,
			Timeout:           10 * time.Second,
			CommandTimeout:    30 * time.Second,
			CancelTimeout:     12 * time.Second,
			MaxCancelAttempts: 5,
			QueueSize:         256,
			PaperCash:         decimal.NewFromInt(100000),
			PaperFeeRate:      decimal.Zero,
		},
		Risk: RiskConfig{
			MaxConsecutiveRejections: 10,
		},
		Persistence: PersistenceConfig{
			Driver:       "json",
			Dir:          "data",
			SaveInterval: time.Second,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "data/journal.db",
		},
		Log: logger.Config{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
		},
	}
}

// LoadEnvFiles 加载 .env 文件（不存在时忽略），不覆盖已有环境变量。
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "load env file %s", f)
		}
	}
	return nil
}

// Load 读取配置文件（可为空）、应用环境变量覆盖并校验。
func Load(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return errors.Wrapf(err, "读取配置文件失败 %s", filePath)
	}
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return errors.Wrap(err, "解析 YAML 配置文件失败")
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return errors.Wrap(err, "解析 JSON 配置文件失败")
		}
	default:
		return errors.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

// applyEnv 环境变量覆盖配置文件。
func (c *Config) applyEnv() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	envString("SYMBOL", &c.Position.Symbol)
	keep(envDecimal("ENTRY_PRICE", &c.Position.EntryPrice))
	keep(envDecimal("UNIT_SIZE", &c.Position.UnitSize))
	keep(envDecimal("ASSET_SIZE", &c.Position.AssetSize))
	keep(envDecimal("NOTIONAL", &c.Position.Notional))
	keep(envDecimal("LEVERAGE", &c.Position.Leverage))

	envString("VARIANT", &c.Strategy.Variant)
	keep(envInt("WINDOW_SIZE", &c.Strategy.WindowSize))
	keep(envInt("FRAGMENT_COUNT", &c.Strategy.FragmentCount))

	envString("FEED_URL", &c.Feed.URL)
	envString("PROXY_URL", &c.Feed.ProxyURL)

	envString("EXCHANGE_MODE", &c.Exchange.Mode)
	envString("EXCHANGE_URL", &c.Exchange.BaseURL)
	envString("API_KEY", &c.Exchange.APIKey)

	envString("PERSISTENCE_DRIVER", &c.Persistence.Driver)
	envString("DATA_DIR", &c.Persistence.Dir)
	envString("ENCRYPTION_KEY", &c.Persistence.EncryptionKey)
	envString("JOURNAL_PATH", &c.Journal.Path)

	envString("METRICS_ADDR", &c.Metrics.Listen)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FILE", &c.Log.OutputFile)
	keep(envBool("STRICT_INVARIANTS", &c.StrictInvariants))
	return firstErr
}

// Validate 校验配置，错误统一包装为 domain.ErrInvalidConfig / ErrUnsupportedSymbol。
func (c *Config) Validate() error {
	p := c.Position
	if !domain.IsSupportedSymbol(p.Symbol, p.ExtraSymbols...) {
		return errors.Wrapf(domain.ErrUnsupportedSymbol, "symbol=%q", p.Symbol)
	}
	if !p.UnitSize.IsPositive() {
		return errors.Wrap(domain.ErrInvalidConfig, "position.unit_size 必须大于 0")
	}
	if !p.Leverage.IsPositive() {
		return errors.Wrap(domain.ErrInvalidConfig, "position.leverage 必须大于 0")
	}
	if p.EntryPrice.IsNegative() || p.AssetSize.IsNegative() || p.Notional.IsNegative() {
		return errors.Wrap(domain.ErrInvalidConfig, "position 数值不能为负数")
	}
	if p.AssetSize.IsZero() && p.Notional.IsZero() {
		return errors.Wrap(domain.ErrInvalidConfig, "position.asset_size 与 position.notional 至少配置一个")
	}
	if p.AssetSize.IsZero() && !p.EntryPrice.IsPositive() && c.Feed.URL == "" {
		return errors.Wrap(domain.ErrInvalidConfig, "只配置 notional 时需要 entry_price 或行情源")
	}

	s := c.Strategy
	switch s.Variant {
	case "simple", "scaled":
	default:
		return errors.Wrapf(domain.ErrInvalidConfig, "strategy.variant 必须为 simple 或 scaled，当前 %q", s.Variant)
	}
	if s.WindowSize <= 0 {
		return errors.Wrap(domain.ErrInvalidConfig, "strategy.window_size 必须大于 0")
	}
	if s.FragmentCount <= 0 {
		return errors.Wrap(domain.ErrInvalidConfig, "strategy.fragment_count 必须大于 0")
	}
	if s.Variant == "scaled" && (!s.HedgeFragmentPct.IsPositive() || s.HedgeFragmentPct.GreaterThan(decimal.NewFromInt(1))) {
		return errors.Wrap(domain.ErrInvalidConfig, "strategy.hedge_fragment_pct 必须在 (0, 1] 之间")
	}

	switch c.Exchange.Mode {
	case "paper":
	case "rest":
		if c.Exchange.BaseURL == "" {
			return errors.Wrap(domain.ErrInvalidConfig, "exchange.base_url 未配置")
		}
	default:
		return errors.Wrapf(domain.ErrInvalidConfig, "exchange.mode 必须为 paper 或 rest，当前 %q", c.Exchange.Mode)
	}
	if c.Exchange.MaxCancelAttempts < 0 || c.Exchange.QueueSize < 0 {
		return errors.Wrap(domain.ErrInvalidConfig, "exchange 参数不能为负数")
	}

	switch c.Persistence.Driver {
	case "json", "badger":
	default:
		return errors.Wrapf(domain.ErrInvalidConfig, "persistence.driver 必须为 json 或 badger，当前 %q", c.Persistence.Driver)
	}
	if c.Persistence.Dir == "" {
		return errors.Wrap(domain.ErrInvalidConfig, "persistence.dir 未配置")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.Wrap(domain.ErrInvalidConfig, "journal.path 未配置")
	}
	if c.Risk.MaxConsecutiveRejections < 0 || c.Risk.DailyLossLimit.IsNegative() {
		return errors.Wrap(domain.ErrInvalidConfig, "risk 参数不能为负数")
	}
	return nil
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		*dst = v
	}
}

func envDecimal(key string, dst *decimal.Decimal) error {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return errors.Wrapf(domain.ErrInvalidConfig, "%s%s=%q: %v", envPrefix, key, v, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(domain.ErrInvalidConfig, "%s%s=%q: %v", envPrefix, key, v, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.Wrapf(domain.ErrInvalidConfig, "%s%s=%q: %v", envPrefix, key, v, err)
	}
	*dst = b
	return nil
}
