package transaction

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"contractkit/internal/connection"
	"contractkit/internal/errors"
	"contractkit/internal/logging"
	"contractkit/internal/metrics"
	"contractkit/internal/retry"
	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

var errReceiptPending = stderrors.New("交易回执尚未生成")

// PendingStore 待确认交易的持久化
type PendingStore interface {
	SavePending(ctx context.Context, tx models.PendingTransaction) error
	RemovePending(ctx context.Context, hash common.Hash) error
	ListPending(ctx context.Context) ([]models.PendingTransaction, error)
}

// Option Watcher选项
type Option func(*Watcher)

// WithRetryConfig 替换回执轮询的退避配置
func WithRetryConfig(cfg *retry.RetryConfig) Option {
	return func(w *Watcher) {
		if cfg != nil {
			w.retryConfig = cfg
		}
	}
}

// WithSleeper 替换轮询之间的等待实现
func WithSleeper(s retry.Sleeper) Option {
	return func(w *Watcher) { w.sleeper = s }
}

// WithMetrics 记录轮询指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// WithStore 持久化待确认交易
func WithStore(s PendingStore) Option {
	return func(w *Watcher) { w.store = s }
}

// WithObserver 订阅状态变化
func WithObserver(o Observer) Option {
	return func(w *Watcher) { w.observer = o }
}

// Watcher 提交交易并轮询回执
type Watcher struct {
	channel     connection.Channel
	logger      *logrus.Logger
	retryConfig *retry.RetryConfig
	sleeper     retry.Sleeper
	metrics     *metrics.Metrics
	store       PendingStore
	observer    Observer
}

// NewWatcher 创建Watcher，默认退避为1s起步、翻倍、上限10s、共50次
func NewWatcher(ch connection.Channel, logger *logrus.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		channel:     ch,
		logger:      logging.OrDiscard(logger),
		retryConfig: retry.ReceiptRetryConfig,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Submit 发送 eth_sendTransaction，返回的哈希不代表已确认
func Submit(ctx context.Context, ch connection.Channel, req *models.TransactionRequest) (common.Hash, error) {
	var hash common.Hash
	if err := connection.Request(ctx, ch, &hash, connection.MethodSendTransaction, req); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// SubmitAndWait 提交交易并等待回执，label记录在待确认列表中
func (w *Watcher) SubmitAndWait(ctx context.Context, req *models.TransactionRequest, label string) (common.Hash, *models.Receipt, error) {
	hash, err := Submit(ctx, w.channel, req)
	if err != nil {
		return common.Hash{}, nil, err
	}
	w.remember(ctx, models.PendingTransaction{Hash: hash, Contract: req.To, Function: label, SubmittedAt: time.Now()})

	receipt, err := w.WaitForReceipt(ctx, hash)
	return hash, receipt, err
}

// WaitForReceipt 轮询直到回执出现、轮询次数用尽、传输出错或上下文取消
func (w *Watcher) WaitForReceipt(ctx context.Context, hash common.Hash) (*models.Receipt, error) {
	lc := newLifecycle(hash, w.observer)
	w.run(ctx, lc)
	return lc.Result()
}

// Track 后台轮询，立即返回生命周期句柄
func (w *Watcher) Track(ctx context.Context, hash common.Hash) *Lifecycle {
	lc := newLifecycle(hash, w.observer)
	go w.run(ctx, lc)
	return lc
}

// Resume 重新跟踪存储中所有待确认交易
func (w *Watcher) Resume(ctx context.Context) ([]*Lifecycle, error) {
	if w.store == nil {
		return nil, nil
	}
	pending, err := w.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	tracked := make([]*Lifecycle, 0, len(pending))
	for _, p := range pending {
		w.logger.Infof("恢复跟踪交易 %s", p.Hash.Hex())
		tracked = append(tracked, w.Track(ctx, p.Hash))
	}
	return tracked, nil
}

func (w *Watcher) run(ctx context.Context, lc *Lifecycle) {
	log := logging.NewTransactionLogger(w.logger, lc.hash.Hex())
	lc.transition(StatePolling)

	retrier := retry.NewRetrier(w.retryConfig, w.logger, w.retryOptions()...)

	var receipt *models.Receipt
	err := retrier.Execute(ctx, "wait_receipt", func() error {
		lc.recordAttempt()
		w.metrics.RecordReceiptPoll()

		// 已发出的请求不随ctx取消，取消只在两次查询之间生效
		var r *models.Receipt
		if err := connection.Request(context.WithoutCancel(ctx), w.channel, &r, connection.MethodGetReceipt, lc.hash); err != nil {
			return retry.NewRetryableError(err, false)
		}
		if r == nil {
			return retry.NewRetryableError(errReceiptPending, true)
		}
		receipt = r
		return nil
	})

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		log.WithField("attempts", lc.Attempts()).Debug("交易已确认")
		w.forget(ctx, lc.hash)
		w.metrics.RecordReceiptOutcome("confirmed")
		lc.finish(StateConfirmed, receipt, nil)

	case stderrors.As(err, &exhausted):
		timeoutErr := errors.WrapError(err, errors.ErrorTypeReceiptTimeout, errors.SeverityMedium, "RECEIPT_TIMEOUT",
			fmt.Sprintf("交易在 %d 次查询后仍未确认", exhausted.Attempts)).
			WithTxHash(lc.hash.Hex()).
			WithContext("attempts", exhausted.Attempts).
			WithComponent("transaction_watcher")
		log.Warn("等待交易回执超时")
		w.metrics.RecordReceiptOutcome("timed_out")
		lc.finish(StateTimedOut, nil, timeoutErr)

	case ctx.Err() != nil && stderrors.Is(err, ctx.Err()):
		log.Debug("停止等待交易回执")
		w.metrics.RecordReceiptOutcome("cancelled")
		lc.finish(StateFailed, nil, err)

	default:
		log.Warnf("查询交易回执失败: %v", err)
		w.metrics.RecordReceiptOutcome("error")
		lc.finish(StateFailed, nil, unwrapRetryable(err))
	}
}

func (w *Watcher) retryOptions() []retry.Option {
	if w.sleeper == nil {
		return nil
	}
	return []retry.Option{retry.WithSleeper(w.sleeper)}
}

func (w *Watcher) remember(ctx context.Context, p models.PendingTransaction) {
	if w.store == nil {
		return
	}
	if err := w.store.SavePending(ctx, p); err != nil {
		w.logger.Warnf("保存待确认交易 %s 失败: %v", p.Hash.Hex(), err)
	}
}

func (w *Watcher) forget(ctx context.Context, hash common.Hash) {
	if w.store == nil {
		return
	}
	if err := w.store.RemovePending(context.WithoutCancel(ctx), hash); err != nil {
		w.logger.Warnf("删除待确认交易 %s 失败: %v", hash.Hex(), err)
	}
}

// unwrapRetryable 去掉重试包装，返回通道的原始TransportError
func unwrapRetryable(err error) error {
	var wrapped *retry.RetryableErrorImpl
	if stderrors.As(err, &wrapped) {
		return wrapped.Err
	}
	return err
}
