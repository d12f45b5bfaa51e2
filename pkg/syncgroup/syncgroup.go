// Package syncgroup 管理一组同生共死的 goroutine。
package syncgroup

import (
	"sync"
)

type syncGroupFunc func()

// SyncGroup 是 sync.WaitGroup 的包装器：先 Add 函数，再 Run 一次性启动。
// 适合"一条连接一组循环"的场景，连接断开后 WaitAndClear 再复用。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []syncGroupFunc
	running int
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 添加一个待启动的函数；nil 被忽略。
func (w *SyncGroup) Add(fn syncGroupFunc) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.pending = append(w.pending, fn)
	w.mu.Unlock()
}

// Run 启动所有已添加但尚未启动的函数。
func (w *SyncGroup) Run() {
	w.mu.Lock()
	fns := w.pending
	w.pending = nil
	w.running += len(fns)
	w.mu.Unlock()

	for _, fn := range fns {
		w.wg.Add(1)
		go func(doFunc syncGroupFunc) {
			defer func() {
				w.mu.Lock()
				w.running--
				w.mu.Unlock()
				w.wg.Done()
			}()
			doFunc()
		}(fn)
	}
}

// Running 仍在运行的 goroutine 数量。
func (w *SyncGroup) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// WaitAndClear 等待所有 goroutine 完成并丢弃未启动的函数。
func (w *SyncGroup) WaitAndClear() {
	w.wg.Wait()
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
}

// Wait 等待所有 goroutine 完成（不清空）
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
