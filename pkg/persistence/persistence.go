// Package persistence 快照持久化：JSON 文件或 Badger KV 两种后端，接口一致。
package persistence

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "persistence")

// Service 持久化服务接口
type Service interface {
	NewStore(prefix, id, tag string) Store
	Close() error
}

// Store 存储接口
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
	Key() string
}

// ErrNotExists 表示数据不存在
var ErrNotExists = errors.New("persistence data not exists")

// IsNotExists 判断错误是否为数据不存在（兼容 Wrap）。
func IsNotExists(err error) bool {
	return errors.Cause(err) == ErrNotExists
}

func storeKey(prefix, id, tag string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, id, tag)
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Driver 持久化后端类型。
type Driver string

const (
	DriverJSON   Driver = "json"
	DriverBadger Driver = "badger"
)

// Options 由配置构造 Service。
type Options struct {
	Driver        Driver
	Dir           string
	EncryptionKey string // badger 可选，base64 或 hex 编码的 32 字节
	ReadOnly      bool   // badger 只读打开（写进程持有目录锁时会失败）
}

// Open 按驱动打开持久化服务。
func Open(opts Options) (Service, error) {
	switch opts.Driver {
	case DriverJSON, "":
		return NewJSONFileService(opts.Dir), nil
	case DriverBadger:
		key, err := ParseKey(opts.EncryptionKey)
		if err != nil {
			return nil, errors.Wrap(err, "persistence encryption key")
		}
		return OpenBadger(BadgerOptions{Path: opts.Dir, EncryptionKey: key, ReadOnly: opts.ReadOnly})
	default:
		return nil, errors.Errorf("unknown persistence driver %q", opts.Driver)
	}
}
