package persistence

import (
	"sync"
	"time"
)

// ThrottledSaver 合并高频保存：interval 内最多落盘一次，其余只保留最新值，Flush 时写出。
type ThrottledSaver struct {
	store    Store
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSave time.Time
	pending  interface{}
	saves    int
}

// NewThrottledSaver interval <= 0 时每次都写。
func NewThrottledSaver(store Store, interval time.Duration) *ThrottledSaver {
	return &ThrottledSaver{store: store, interval: interval, now: time.Now}
}

// Save 到期则立即写入，否则暂存为 pending。
func (s *ThrottledSaver) Save(data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.interval > 0 && !s.lastSave.IsZero() && now.Sub(s.lastSave) < s.interval {
		s.pending = data
		return nil
	}
	return s.saveLocked(data, now)
}

// Flush 写出 pending（没有则什么也不做）。
func (s *ThrottledSaver) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	return s.saveLocked(s.pending, s.now())
}

// Saves 实际落盘次数。
func (s *ThrottledSaver) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *ThrottledSaver) saveLocked(data interface{}, now time.Time) error {
	if err := s.store.Save(data); err != nil {
		s.pending = data
		log.WithError(err).Warnf("⚠️ [persistence] 保存失败: key=%s", s.store.Key())
		return err
	}
	s.pending = nil
	s.lastSave = now
	s.saves++
	return nil
}
