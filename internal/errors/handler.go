package errors

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器，负责记录统计和按策略输出
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 错误处理策略
	strategies map[ErrorType]ErrorStrategy

	// 错误回调
	callbacks []ErrorCallback
}

// ErrorStrategy 错误处理策略
type ErrorStrategy interface {
	Handle(ctx context.Context, err *ContractError) error
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *ContractError)

// LoggingStrategy 日志记录策略
type LoggingStrategy struct {
	logger *logrus.Logger
}

// NewLoggingStrategy 创建日志记录策略
func NewLoggingStrategy(logger *logrus.Logger) *LoggingStrategy {
	return &LoggingStrategy{logger: logger}
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	eh := &ErrorHandler{
		logger:     logger,
		stats:      NewErrorStats(),
		strategies: make(map[ErrorType]ErrorStrategy),
		callbacks:  make([]ErrorCallback, 0),
	}

	loggingStrategy := NewLoggingStrategy(logger)
	for errorType := range errorTypeNames {
		eh.strategies[errorType] = loggingStrategy
	}

	return eh
}

// HandleError 处理错误，非ContractError会被包装为未知错误
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) *ContractError {
	if err == nil {
		return nil
	}

	var contractErr *ContractError
	if !stderrors.As(err, &contractErr) {
		contractErr = WrapError(err, ErrorTypeValidation, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}

	eh.mu.Lock()
	eh.stats.RecordError(contractErr)
	strategy, exists := eh.strategies[contractErr.Type]
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.Unlock()

	for _, callback := range callbacks {
		eh.runCallback(callback, contractErr)
	}

	if !exists {
		strategy = NewLoggingStrategy(eh.logger)
	}
	_ = strategy.Handle(ctx, contractErr)

	return contractErr
}

// runCallback 执行回调并屏蔽panic
func (eh *ErrorHandler) runCallback(cb ErrorCallback, err *ContractError) {
	defer func() {
		if r := recover(); r != nil {
			eh.logger.Errorf("错误回调执行时发生panic: %v", r)
		}
	}()
	cb(err)
}

// Handle 实现LoggingStrategy的处理方法
func (ls *LoggingStrategy) Handle(ctx context.Context, err *ContractError) error {
	logEntry := ls.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
	})
	if err.TxHash != nil {
		logEntry = logEntry.WithField("tx_hash", *err.TxHash)
	}
	if len(err.Context) > 0 {
		logEntry = logEntry.WithField("context", err.Context)
	}

	// 根据严重级别选择日志级别，致命错误只记录不退出
	switch err.Severity {
	case SeverityLow:
		logEntry.Debug(err.Error())
	case SeverityMedium:
		logEntry.Warn(err.Error())
	default:
		logEntry.Error(err.Error())
	}

	return err
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// SetStrategy 设置错误处理策略
func (eh *ErrorHandler) SetStrategy(errorType ErrorType, strategy ErrorStrategy) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.strategies[errorType] = strategy
}

// GetStats 获取错误统计信息的快照
func (eh *ErrorHandler) GetStats() ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	snapshot := *eh.stats
	snapshot.ErrorsByType = copyCounts(eh.stats.ErrorsByType)
	snapshot.ErrorsBySeverity = copyCounts(eh.stats.ErrorsBySeverity)
	snapshot.ErrorsByComponent = copyCounts(eh.stats.ErrorsByComponent)
	snapshot.RecentErrors = append([]*ContractError(nil), eh.stats.RecentErrors...)
	return snapshot
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}

func copyCounts(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
