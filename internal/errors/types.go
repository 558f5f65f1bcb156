package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// ABI 与编解码错误
	ErrorTypeParse ErrorType = iota
	ErrorTypeEncode
	ErrorTypeDecode

	// 合约调用错误
	ErrorTypeNotFound
	ErrorTypeMutabilityViolation

	// 节点交互错误
	ErrorTypeTransport
	ErrorTypeReceiptTimeout

	// 系统相关错误
	ErrorTypeValidation
	ErrorTypeConfig
	ErrorTypeStorage
	ErrorTypeOutput

	// 外部服务错误
	ErrorTypeExternalAPI
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// ContractError 合约引擎统一错误类型
type ContractError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component,omitempty"`
	TxHash    *string                `json:"tx_hash,omitempty"`
}

// Error 实现error接口
func (e *ContractError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *ContractError) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断是否可重试
func (e *ContractError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *ContractError) WithContext(key string, value interface{}) *ContractError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent 标记出错组件
func (e *ContractError) WithComponent(component string) *ContractError {
	e.Component = component
	return e
}

// WithTxHash 添加交易哈希
func (e *ContractError) WithTxHash(txHash string) *ContractError {
	e.TxHash = &txHash
	return e
}

// NewContractError 创建新的错误
func NewContractError(errorType ErrorType, severity ErrorSeverity, code, message string) *ContractError {
	return &ContractError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *ContractError {
	return &ContractError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// determineRetryable 根据错误类型判断调用方是否值得重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransport, ErrorTypeReceiptTimeout:
		return true
	case ErrorTypeExternalAPI, ErrorTypeOutput:
		return true
	default:
		return false
	}
}

// 便捷构造函数，覆盖引擎对外暴露的错误分类

// Parse ABI 或类型语法解析失败
func Parse(code, format string, args ...interface{}) *ContractError {
	return NewContractError(ErrorTypeParse, SeverityMedium, code, fmt.Sprintf(format, args...))
}

// Encode 参数编码失败
func Encode(code, format string, args ...interface{}) *ContractError {
	return NewContractError(ErrorTypeEncode, SeverityMedium, code, fmt.Sprintf(format, args...))
}

// Decode 返回数据解码失败
func Decode(code, format string, args ...interface{}) *ContractError {
	return NewContractError(ErrorTypeDecode, SeverityMedium, code, fmt.Sprintf(format, args...))
}

// NotFound 函数或事件不存在
func NotFound(code, format string, args ...interface{}) *ContractError {
	return NewContractError(ErrorTypeNotFound, SeverityMedium, code, fmt.Sprintf(format, args...))
}

// Mutability 调用路径与函数可变性不符
func Mutability(code, format string, args ...interface{}) *ContractError {
	return NewContractError(ErrorTypeMutabilityViolation, SeverityMedium, code, fmt.Sprintf(format, args...))
}

// Transport 包装RPC通道返回的错误
func Transport(err error, method string) *ContractError {
	return WrapError(err, ErrorTypeTransport, SeverityHigh, "TRANSPORT_FAILED",
		fmt.Sprintf("RPC请求 %s 失败", method)).WithContext("method", method)
}

// TypeOf 返回错误链中第一个ContractError的类型
func TypeOf(err error) (ErrorType, bool) {
	var ce *ContractError
	if stderrors.As(err, &ce) {
		return ce.Type, true
	}
	return 0, false
}

// IsType 判断错误链中是否存在指定类型的ContractError
func IsType(err error, errorType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errorType
}

// 预定义错误
var (
	ErrConfigInvalid = NewContractError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeParse:               "Parse",
	ErrorTypeEncode:              "Encode",
	ErrorTypeDecode:              "Decode",
	ErrorTypeNotFound:            "NotFound",
	ErrorTypeMutabilityViolation: "MutabilityViolation",
	ErrorTypeTransport:           "Transport",
	ErrorTypeReceiptTimeout:      "ReceiptTimeout",
	ErrorTypeValidation:          "Validation",
	ErrorTypeConfig:              "Config",
	ErrorTypeStorage:             "Storage",
	ErrorTypeOutput:              "Output",
	ErrorTypeExternalAPI:         "ExternalAPI",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int              `json:"total_errors"`
	ErrorsByType      map[string]int   `json:"errors_by_type"`
	ErrorsBySeverity  map[string]int   `json:"errors_by_severity"`
	ErrorsByComponent map[string]int   `json:"errors_by_component"`
	RecentErrors      []*ContractError `json:"recent_errors"`
	LastError         *ContractError   `json:"last_error"`
	LastErrorTime     time.Time        `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[string]int),
		ErrorsBySeverity:  make(map[string]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*ContractError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *ContractError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type.String()]++
	es.ErrorsBySeverity[err.Severity.String()]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	return float64(recentCount) / duration.Hours()
}
