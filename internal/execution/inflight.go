package execution

import (
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/unitgrid/pkg/cache"
)

// ErrDuplicateInFlight 同一槽位的提交仍在进行中（或在 TTL 窗口内）。
var ErrDuplicateInFlight = errors.New("duplicate in-flight")

// InFlightDeduper 按槽位 ID / 动作 ID 占位：重试 tick 与结果回传之间同一个 key 只能提交一次。
// 结果丢失时占位在 ttl 后自动失效，避免槽位永久卡住。
type InFlightDeduper struct {
	ttl     time.Duration
	entries *cache.InMemoryCache[string, time.Time]
}

// NewInFlightDeduper ttl 应覆盖一次下单命令的超时时间。
func NewInFlightDeduper(ttl time.Duration) *InFlightDeduper {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &InFlightDeduper{ttl: ttl, entries: cache.NewInMemoryCache[string, time.Time](ttl)}
}

// TryAcquire 占用 key，已被占用时返回 ErrDuplicateInFlight。nil 去重器不做限制。
func (d *InFlightDeduper) TryAcquire(key string) error {
	if d == nil || key == "" {
		return nil
	}
	if !d.entries.SetIfAbsent(key, time.Now(), d.ttl) {
		return errors.Wrap(ErrDuplicateInFlight, key)
	}
	return nil
}

// Release 命令结果回到 tracker 后释放。
func (d *InFlightDeduper) Release(key string) {
	if d == nil || key == "" {
		return
	}
	d.entries.Delete(key)
}

// InFlight key 是否仍被占用。
func (d *InFlightDeduper) InFlight(key string) bool {
	if d == nil || key == "" {
		return false
	}
	_, ok := d.entries.Get(key)
	return ok
}

// Pending 当前占用数（含已过期但未清理的项）。
func (d *InFlightDeduper) Pending() int {
	if d == nil {
		return 0
	}
	return d.entries.Size()
}

// Close 停止后台清理。
func (d *InFlightDeduper) Close() {
	if d != nil {
		d.entries.Close()
	}
}
