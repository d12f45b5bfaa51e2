// Package shutdown 优雅关闭：最后注册的回调先执行，其余回调随后并发执行，受 ctx 超时约束。
package shutdown

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "shutdown")

// Handler 关闭处理函数
type Handler func(ctx context.Context)

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	mu        sync.Mutex
	callbacks []namedHandler
	done      bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）。
// 回调分两批：最后注册的先执行完（通常是 tracker/feed），再并发执行其余回调。
// ctx 应该是一个带超时的 context，避免无限等待；超时返回 false。
func (m *Manager) Shutdown(ctx context.Context) bool {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return true
	}
	m.done = true
	callbacks := append([]namedHandler(nil), m.callbacks...)
	m.mu.Unlock()

	if len(callbacks) == 0 {
		log.Info("没有注册的关闭回调")
		return true
	}
	log.Infof("🛑 开始优雅关闭，共 %d 个回调", len(callbacks))

	last := callbacks[len(callbacks)-1]
	if !run(ctx, []namedHandler{last}) {
		return false
	}
	return run(ctx, callbacks[:len(callbacks)-1])
}

func run(ctx context.Context, handlers []namedHandler) bool {
	if len(handlers) == 0 {
		return true
	}
	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		go func(h namedHandler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("❌ 关闭回调 panic: %s: %v", h.name, r)
				}
			}()
			h.fn(ctx)
			log.Debugf("关闭回调完成: %s", h.name)
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		log.Warnf("⏱️ 关闭超时: %v", ctx.Err())
		return false
	}
}
