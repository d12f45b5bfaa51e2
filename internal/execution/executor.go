package execution

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var execLog = logrus.WithField("component", "command_executor")

// Command 一次需要串行执行的交易所 IO。
// Do 必须允许失败重试，且要响应 ctx 取消。
type Command struct {
	Name    string
	Timeout time.Duration
	Do      func(ctx context.Context)
}

// Executor tracker 只投递命令，结果通过消息回到 tracker 的 goroutine。
type Executor interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
	Submit(cmd Command) bool
	QueueLen() int
}

// SerialCommandExecutor 单 worker 串行执行，保证顺序与限速。
type SerialCommandExecutor struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	ch   chan Command
	wg   sync.WaitGroup
	once sync.Once
}

func NewSerialCommandExecutor(buffer int) *SerialCommandExecutor {
	if buffer <= 0 {
		buffer = 1024
	}
	return &SerialCommandExecutor{ch: make(chan Command, buffer)}
}

func (e *SerialCommandExecutor) Start(ctx context.Context) {
	e.once.Do(func() {
		e.mu.Lock()
		e.ctx, e.cancel = context.WithCancel(ctx)
		runCtx := e.ctx
		e.mu.Unlock()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case cmd := <-e.ch:
					e.run(runCtx, cmd)
				}
			}
		}()
		execLog.Infof("✅ [executor] 已启动 (buffer=%d)", cap(e.ch))
	})
}

func (e *SerialCommandExecutor) run(parent context.Context, cmd Command) {
	if cmd.Do == nil {
		return
	}
	ctx, cancel := parent, context.CancelFunc(func() {})
	if cmd.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, cmd.Timeout)
	}
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			execLog.Errorf("❌ [executor] 命令 panic: name=%s panic=%v", cmd.Name, r)
		}
	}()
	cmd.Do(ctx)
}

func (e *SerialCommandExecutor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		execLog.Infof("✅ [executor] 已停止")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "stop command executor")
	}
}

// Submit 非阻塞投递；队列满时丢弃并返回 false（调用方按失败处理并重试）。
func (e *SerialCommandExecutor) Submit(cmd Command) bool {
	select {
	case e.ch <- cmd:
		return true
	default:
		execLog.Warnf("⚠️ [executor] 队列已满，丢弃命令: %s", cmd.Name)
		return false
	}
}

func (e *SerialCommandExecutor) QueueLen() int { return len(e.ch) }

// InlineExecutor 在 Submit 中同步执行，用于回放与测试。
type InlineExecutor struct {
	Ctx context.Context
}

func (e *InlineExecutor) Start(ctx context.Context) {
	if e.Ctx == nil {
		e.Ctx = ctx
	}
}

func (e *InlineExecutor) Stop(context.Context) error { return nil }

func (e *InlineExecutor) Submit(cmd Command) bool {
	if cmd.Do == nil {
		return true
	}
	ctx := e.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.Do(ctx)
	return true
}

func (e *InlineExecutor) QueueLen() int { return 0 }
