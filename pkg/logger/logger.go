// Package logger 全局日志初始化：logrus 输出到控制台，可选 lumberjack 轮转文件。
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例（即 logrus 标准 logger，各包的 logrus.WithField 共用同一输出）
	Logger = logrus.StandardLogger()

	logMu   sync.Mutex
	rotator *lumberjack.Logger
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`             // 日志级别: debug, info, warn, error
	Format     string `yaml:"format" json:"format"`           // text（默认）或 json
	OutputFile string `yaml:"output_file" json:"output_file"` // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    `yaml:"max_size" json:"max_size"`       // 日志文件最大大小（MB）
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // 保留的旧日志文件数量
	MaxAge     int    `yaml:"max_age" json:"max_age"`         // 保留旧日志文件的天数
	Compress   bool   `yaml:"compress" json:"compress"`       // 是否压缩旧日志文件
	NoConsole  bool   `yaml:"no_console" json:"no_console"`   // 不输出到控制台（TUI 模式）
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)

	if strings.EqualFold(config.Format, "json") {
		Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
			ForceColors:     config.OutputFile == "",
		})
	}

	var writers []io.Writer
	if !config.NoConsole {
		writers = append(writers, os.Stdout)
	}

	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}
	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0755); err != nil {
			return err
		}
		rotator = &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    withDefault(config.MaxSize, 100),
			MaxBackups: withDefault(config.MaxBackups, 10),
			MaxAge:     withDefault(config.MaxAge, 30),
			Compress:   config.Compress,
		}
		writers = append(writers, rotator)
	}

	switch len(writers) {
	case 0:
		Logger.SetOutput(io.Discard)
	case 1:
		Logger.SetOutput(writers[0])
	default:
		Logger.SetOutput(io.MultiWriter(writers...))
	}
	return nil
}

// InitDefault 使用默认配置初始化（仅控制台，info 级别）
func InitDefault() error {
	return Init(Config{Level: "info"})
}

// Rotate 立即切换到新的日志文件（如收到 SIGHUP）。
func Rotate() error {
	logMu.Lock()
	defer logMu.Unlock()
	if rotator == nil {
		return nil
	}
	return rotator.Rotate()
}

// Close 关闭日志文件。
func Close() error {
	logMu.Lock()
	defer logMu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}

func withDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Debug 记录调试日志
func Debug(args ...interface{}) { Logger.Debug(args...) }

// Debugf 记录调试日志（格式化）
func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }

// Info 记录信息日志
func Info(args ...interface{}) { Logger.Info(args...) }

// Infof 记录信息日志（格式化）
func Infof(format string, args ...interface{}) { Logger.Infof(format, args...) }

// Warn 记录警告日志
func Warn(args ...interface{}) { Logger.Warn(args...) }

// Warnf 记录警告日志（格式化）
func Warnf(format string, args ...interface{}) { Logger.Warnf(format, args...) }

// Error 记录错误日志
func Error(args ...interface{}) { Logger.Error(args...) }

// Errorf 记录错误日志（格式化）
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }

// WithField 创建带字段的日志条目
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}
