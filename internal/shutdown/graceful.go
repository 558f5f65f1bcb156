package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"contractkit/internal/logging"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderCancelSubscriptions = 10 // 取消事件订阅与回执等待
	OrderStopHTTPServer      = 20 // 停止接受HTTP请求
	OrderCloseSinks          = 30 // 写完并关闭输出器
	OrderCloseStore          = 40 // 关闭本地/数据库存储
	OrderCloseNodes          = 50 // 关闭节点连接池
)

// Hook 停机处理函数
type Hook struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int
}

// GracefulShutdown 优雅停机管理器
type GracefulShutdown struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu      sync.Mutex
	hooks   []Hook
	started bool
	done    chan struct{}
	errs    []error

	signals chan os.Signal
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewGracefulShutdown 创建优雅停机管理器，timeout为全部处理函数的总时限
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second // 默认30秒超时
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GracefulShutdown{
		logger:  logging.OrDiscard(logger),
		timeout: timeout,
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register 注册停机处理函数
func (gs *GracefulShutdown) Register(name string, order int, fn func(ctx context.Context) error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.hooks = append(gs.hooks, Hook{Name: name, Func: fn, Order: order})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Context 停机开始时取消，长时间运行的组件以它为父上下文
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Listen 监听SIGINT/SIGTERM，收到信号后执行停机
func (gs *GracefulShutdown) Listen() {
	signal.Notify(gs.signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-gs.signals:
			gs.logger.Infof("收到停机信号: %v", sig)
			gs.Shutdown()
		case <-gs.done:
		}
		signal.Stop(gs.signals)
	}()
	gs.logger.Info("优雅停机管理器已启动，监听信号: SIGINT, SIGTERM")
}

// Wait 阻塞到停机完成，返回各处理函数的错误
func (gs *GracefulShutdown) Wait() []error {
	<-gs.done
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return append([]error(nil), gs.errs...)
}

// Done 停机完成后关闭
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Shutdown 执行停机，重复调用只执行一次
func (gs *GracefulShutdown) Shutdown() {
	gs.mu.Lock()
	if gs.started {
		gs.mu.Unlock()
		gs.logger.Warn("停机过程已在进行中")
		<-gs.done
		return
	}
	gs.started = true
	hooks := append([]Hook(nil), gs.hooks...)
	gs.mu.Unlock()

	errs := gs.run(hooks)

	gs.mu.Lock()
	gs.errs = errs
	gs.mu.Unlock()
	close(gs.done)
}

func (gs *GracefulShutdown) run(hooks []Hook) []error {
	gs.logger.Info("开始优雅停机流程...")
	gs.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gs.timeout)
	defer shutdownCancel()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Order < hooks[j].Order })

	var errs []error
	for _, h := range hooks {
		if shutdownCtx.Err() != nil {
			gs.logger.Warnf("停机超时，跳过: %s", h.Name)
			errs = append(errs, fmt.Errorf("%s: %w", h.Name, shutdownCtx.Err()))
			continue
		}

		start := time.Now()
		err := h.Func(shutdownCtx)
		duration := time.Since(start)
		if err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", h.Name, duration, err)
			errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
			continue
		}
		gs.logger.Infof("停机处理 '%s' 完成 (耗时: %v)", h.Name, duration)
	}

	if len(errs) > 0 {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(errs))
	}
	gs.logger.Info("优雅停机流程完成")
	return errs
}

// IsShuttingDown 检查是否已开始停机
func (gs *GracefulShutdown) IsShuttingDown() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.started
}

// GetRegisteredFunctions 按执行顺序列出处理函数
func (gs *GracefulShutdown) GetRegisteredFunctions() []string {
	gs.mu.Lock()
	hooks := append([]Hook(nil), gs.hooks...)
	gs.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Order < hooks[j].Order })
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = h.Name
	}
	return names
}
