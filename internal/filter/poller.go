package filter

import (
	"context"
	"sync"
	"time"

	"contractkit/internal/connection"
	"contractkit/internal/logging"
	"contractkit/internal/metrics"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval 默认轮询间隔
const DefaultPollInterval = 10 * time.Second

// Handler 逐条处理日志。每次轮询都重新发出完整查询，同一条日志可能被多次投递
type Handler func(log types.Log)

// Poller 以轮询 eth_getLogs 的方式模拟订阅
type Poller struct {
	channel  connection.Channel
	interval time.Duration
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

// NewPoller 创建Poller，interval<=0时使用默认间隔
func NewPoller(ch connection.Channel, interval time.Duration, logger *logrus.Logger, m *metrics.Metrics) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		channel:  ch,
		interval: interval,
		logger:   logging.OrDiscard(logger),
		metrics:  m,
	}
}

// Subscription 一个运行中的轮询订阅
type Subscription struct {
	spec   *Spec
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	polls   int
	lastErr error
}

// Cancel 停止轮询，可重复调用。已发出的查询不会被中断，其结果被丢弃
func (s *Subscription) Cancel() { s.cancel() }

// Done 轮询goroutine退出后关闭
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Spec 订阅的查询条件
func (s *Subscription) Spec() *Spec { return s.spec }

// Polls 已完成的轮询次数
func (s *Subscription) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// Err 最近一次轮询的错误，成功后清空
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe 立即查询一次，之后按间隔重复，直到ctx取消或调用Cancel
func (p *Poller) Subscribe(ctx context.Context, spec *Spec, handler Handler) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		spec:   spec,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go p.loop(ctx, sub, handler)
	return sub
}

func (p *Poller) loop(ctx context.Context, sub *Subscription, handler Handler) {
	defer close(sub.done)
	defer sub.cancel()

	log := p.logger.WithField("filter", sub.spec.String())
	log.Debug("开始轮询事件日志")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		p.poll(ctx, sub, handler, log)

		select {
		case <-ctx.Done():
			log.Debug("事件轮询已停止")
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context, sub *Subscription, handler Handler, log *logrus.Entry) {
	// 查询一旦发出就不随订阅取消
	logs, err := sub.spec.Query(context.WithoutCancel(ctx), p.channel)
	p.metrics.RecordFilterPoll(len(logs), err)

	sub.mu.Lock()
	sub.polls++
	sub.lastErr = err
	sub.mu.Unlock()

	if err != nil {
		log.Warnf("查询事件日志失败: %v", err)
		return
	}

	for _, l := range logs {
		if ctx.Err() != nil {
			return
		}
		handler(l)
	}
}
