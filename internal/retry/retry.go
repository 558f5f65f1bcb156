package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"contractkit/internal/logging"

	"github.com/sirupsen/logrus"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts         int           `json:"max_attempts" mapstructure:"max_attempts"`                 // 最大尝试次数
	InitialInterval     time.Duration `json:"initial_interval" mapstructure:"initial_interval"`         // 初始重试间隔
	MaxInterval         time.Duration `json:"max_interval" mapstructure:"max_interval"`                 // 最大重试间隔
	BackoffFactor       float64       `json:"backoff_factor" mapstructure:"backoff_factor"`             // 退避因子
	RandomizationFactor float64       `json:"randomization_factor" mapstructure:"randomization_factor"` // 随机化因子
	EnableJitter        bool          `json:"enable_jitter" mapstructure:"enable_jitter"`               // 启用抖动
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = &RetryConfig{
	MaxAttempts:         5,
	InitialInterval:     100 * time.Millisecond,
	MaxInterval:         30 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.1,
	EnableJitter:        true,
}

// NetworkRetryConfig 外部HTTP接口重试配置
var NetworkRetryConfig = &RetryConfig{
	MaxAttempts:         3,
	InitialInterval:     500 * time.Millisecond,
	MaxInterval:         10 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.2,
	EnableJitter:        true,
}

// ReceiptRetryConfig 交易回执轮询配置：1s起步，翻倍，上限10s，共50次，不加抖动
var ReceiptRetryConfig = &RetryConfig{
	MaxAttempts:     50,
	InitialInterval: time.Second,
	MaxInterval:     10 * time.Second,
	BackoffFactor:   2.0,
	EnableJitter:    false,
}

// RetryableError 可重试错误接口
type RetryableError interface {
	error
	IsRetryable() bool
}

// RetryableErrorImpl 可重试错误实现
type RetryableErrorImpl struct {
	Err       error
	Retryable bool
}

func (r *RetryableErrorImpl) Error() string {
	return r.Err.Error()
}

func (r *RetryableErrorImpl) IsRetryable() bool {
	return r.Retryable
}

func (r *RetryableErrorImpl) Unwrap() error {
	return r.Err
}

// NewRetryableError 创建可重试错误
func NewRetryableError(err error, retryable bool) RetryableError {
	return &RetryableErrorImpl{
		Err:       err,
		Retryable: retryable,
	}
}

// ExhaustedError 用尽所有尝试后返回，Err为最后一次的错误
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("重试 %d 次后失败: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryableError 判断是否为可重试错误
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// 错误链上最外层的RetryableError说了算
	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return IsNetworkError(err)
}

// IsNetworkError 按错误文本识别网络层故障，用于节点故障转移
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	networkErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests", // 429
		"rate limit",
		"i/o timeout",
		"no such host",
		"network is unreachable",
		"broken pipe",
		"eof",
		"node not ready",
	}

	for _, networkErr := range networkErrors {
		if strings.Contains(errStr, networkErr) {
			return true
		}
	}
	return false
}

// Sleeper 等待给定时长，上下文取消时提前返回
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryHook 每次失败后、等待前回调
type RetryHook func(attempt int, delay time.Duration, err error)

// Option 重试器选项
type Option func(*Retrier)

// WithSleeper 替换等待实现，测试中用于记录间隔
func WithSleeper(s Sleeper) Option {
	return func(r *Retrier) { r.sleep = s }
}

// WithRetryHook 设置重试回调
func WithRetryHook(h RetryHook) Option {
	return func(r *Retrier) { r.onRetry = h }
}

// Retrier 重试器
type Retrier struct {
	config  *RetryConfig
	logger  *logrus.Logger
	sleep   Sleeper
	onRetry RetryHook

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewRetrier 创建重试器
func NewRetrier(config *RetryConfig, logger *logrus.Logger, opts ...Option) *Retrier {
	if config == nil {
		config = DefaultRetryConfig
	}

	r := &Retrier{
		config: config,
		logger: logging.OrDiscard(logger),
		sleep:  SleepContext,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExecuteFunc 执行函数类型
type ExecuteFunc func() error

// Execute 执行重试逻辑，取消只在两次尝试之间检查
func (r *Retrier) Execute(ctx context.Context, operation string, fn ExecuteFunc) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			r.logger.Debugf("操作 '%s' 失败且不可重试: %v", operation, err)
			return err
		}

		// 最后一次尝试后不再等待
		if attempt == r.config.MaxAttempts {
			r.logger.Warnf("操作 '%s' 在 %d 次尝试后最终失败: %v", operation, attempt, err)
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := r.calculateDelay(attempt)
		r.logger.Debugf("操作 '%s' 第 %d 次失败: %v，%v 后重试", operation, attempt, err, delay)
		if r.onRetry != nil {
			r.onRetry(attempt, delay, err)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if lastErr == nil {
		return &ExhaustedError{Attempts: 0, Err: fmt.Errorf("最大尝试次数为 %d", r.config.MaxAttempts)}
	}
	return lastErr
}

// ExecuteWithResult 执行重试逻辑并返回结果
func (r *Retrier) ExecuteWithResult(ctx context.Context, operation string, fn func() (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := r.Execute(ctx, operation, func() error {
		var err error
		result, err = fn()
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// calculateDelay 计算第attempt次失败后的等待时间
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialInterval) * math.Pow(r.config.BackoffFactor, float64(attempt-1))

	if delay > float64(r.config.MaxInterval) {
		delay = float64(r.config.MaxInterval)
	}

	if r.config.EnableJitter {
		jitter := delay * r.config.RandomizationFactor
		jitterRange := jitter * 2
		r.randMu.Lock()
		delay = delay - jitter + (r.rand.Float64() * jitterRange)
		r.randMu.Unlock()

		if delay < 0 {
			delay = float64(r.config.InitialInterval)
		}
	}

	return time.Duration(delay)
}

// GetConfig 获取重试配置
func (r *Retrier) GetConfig() *RetryConfig {
	return r.config
}

// SleepContext 默认等待实现
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryNetworkOperation 网络操作重试
func RetryNetworkOperation(ctx context.Context, operation string, fn ExecuteFunc, logger *logrus.Logger) error {
	retrier := NewRetrier(NetworkRetryConfig, logger)
	return retrier.Execute(ctx, operation, fn)
}
