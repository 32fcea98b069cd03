package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/betbot/p2pbuy/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
// 回调分阶段执行：同一阶段内并发，阶段之间按注册阶段从小到大
// （先停本地 API 和轮询，再关日志库和 KV）
type Manager struct {
	mu     sync.Mutex
	stages map[int][]namedHandler
	done   bool
}

// 常用阶段
const (
	StageServe = iota // 对外服务：本地 API、TUI
	StageWork         // 轮询、倒计时、会话
	StageStore        // 日志库、KV
)

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{stages: make(map[int][]namedHandler)}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(stage int, name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stage] = append(m.stages[stage], namedHandler{name: name, fn: handler})
}

// Close 注册无 ctx 的关闭函数
func (m *Manager) Close(stage int, name string, fn func() error) {
	m.OnShutdown(stage, name, func(context.Context) error { return fn() })
}

// Shutdown 执行所有关闭回调（阻塞调用，只生效一次）
// ctx 应该是一个带超时的 context，避免无限等待
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	stages := make([]int, 0, len(m.stages))
	for s := range m.stages {
		stages = append(stages, s)
	}
	byStage := m.stages
	m.mu.Unlock()

	if len(stages) == 0 {
		logger.Debugf("没有注册的关闭回调")
		return nil
	}
	slices.Sort(stages)

	var errs []error
	for _, s := range stages {
		if err := runStage(ctx, byStage[s]); err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			logger.Warnf("关闭超时: %v", ctx.Err())
			errs = append(errs, ctx.Err())
			break
		}
	}
	return errors.Join(errs...)
}

func runStage(ctx context.Context, handlers []namedHandler) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	wg.Add(len(handlers))
	// 并发执行同阶段回调
	for _, h := range handlers {
		go func(h namedHandler) {
			defer wg.Done()
			if err := h.fn(ctx); err != nil {
				logger.Warnf("关闭 %s 失败: %v", h.name, err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
				mu.Unlock()
			}
		}(h)
	}

	// 等待所有回调完成或超时
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	mu.Lock()
	defer mu.Unlock()
	return errors.Join(errs...)
}

// WithSignals 返回在 SIGINT/SIGTERM 时取消的 ctx
func WithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
