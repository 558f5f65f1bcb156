package output

import (
	"fmt"
	"sync"
	"sync/atomic"

	"contractkit/internal/logging"
	"contractkit/pkg/models"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize 异步队列默认容量
const DefaultQueueSize = 1000

type record struct {
	event   *models.DecodedEvent
	receipt *models.Receipt
}

// AsyncSink 在后台写入内层输出器，事件处理回调不被慢速输出阻塞
type AsyncSink struct {
	inner  Sink
	logger *logrus.Logger
	queue  chan record

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewAsyncSink 创建异步输出器，queueSize<=0 时使用默认容量
func NewAsyncSink(inner Sink, queueSize int, logger *logrus.Logger) *AsyncSink {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &AsyncSink{
		inner:  inner,
		logger: logging.OrDiscard(logger),
		queue:  make(chan record, queueSize),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *AsyncSink) worker() {
	defer s.wg.Done()
	for r := range s.queue {
		var err error
		if r.event != nil {
			err = s.inner.WriteEvent(r.event)
		} else {
			err = s.inner.WriteReceipt(r.receipt)
		}
		if err != nil {
			s.failed.Add(1)
			s.logger.Errorf("异步写入失败: %v", err)
			continue
		}
		s.written.Add(1)
	}
}

func (s *AsyncSink) enqueue(r record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return outputError(fmt.Errorf("输出器已关闭"), "异步写入")
	}
	select {
	case s.queue <- r:
		return nil
	default:
		s.dropped.Add(1)
		return outputError(fmt.Errorf("队列已满，丢弃数据"), "异步写入")
	}
}

// WriteEvent 事件入队
func (s *AsyncSink) WriteEvent(event *models.DecodedEvent) error {
	if event == nil {
		return nil
	}
	return s.enqueue(record{event: event})
}

// WriteReceipt 回执入队
func (s *AsyncSink) WriteReceipt(receipt *models.Receipt) error {
	if receipt == nil {
		return nil
	}
	return s.enqueue(record{receipt: receipt})
}

// Close 停止接收新数据，写完队列中的记录后关闭内层输出器
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Infof("异步输出器已关闭，写入 %d 条，失败 %d 条，丢弃 %d 条",
		s.written.Load(), s.failed.Load(), s.dropped.Load())
	return s.inner.Close()
}

// GetStats 获取输出器统计信息
func (s *AsyncSink) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"queue_size": len(s.queue),
		"written":    s.written.Load(),
		"failed":     s.failed.Load(),
		"dropped":    s.dropped.Load(),
	}
}
