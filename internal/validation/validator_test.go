package validation

import (
	"strings"
	"testing"

	"contractkit/internal/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidator(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, true)

	assert.NotNil(t, validator)
	assert.True(t, validator.strictMode)
	assert.Equal(t, 5, len(validator.rules)) // 默认注册的规则数量
}

func TestValidateRequest_Valid(t *testing.T) {
	validator := NewValidator(nil, true)

	result := validator.ValidateRequest(&Request{
		Address: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Name:    "balanceOf",
		From:    "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359",
		Block:   "latest",
		Value:   "1000",
		TxHash:  "0x" + strings.Repeat("ab", 32),
	})

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.NoError(t, result.Err())
	assert.Equal(t, "request", result.DataType)
}

func TestValidateRequest_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		req   *Request
		field string
		code  string
	}{
		{"地址缺少前缀", &Request{Address: "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}, "address", "INVALID_ADDRESS_FORMAT"},
		{"地址过短", &Request{From: "0x1234"}, "from", "INVALID_ADDRESS_FORMAT"},
		{"函数名非法", &Request{Name: "balance Of"}, "name", "INVALID_IDENTIFIER"},
		{"区块标签未知", &Request{Block: "newest"}, "block", "INVALID_BLOCK_TAG"},
		{"区块号带前导0", &Request{Block: "0x01"}, "block", "INVALID_BLOCK_TAG"},
		{"负数金额", &Request{Value: "-1"}, "value", "INVALID_VALUE"},
		{"小数金额", &Request{Value: "1.5"}, "value", "INVALID_VALUE"},
		{"十六进制金额非法", &Request{Value: "0xzz"}, "value", "INVALID_VALUE"},
		{"哈希过短", &Request{TxHash: "0x123456"}, "tx_hash", "INVALID_HASH_FORMAT"},
		{"空请求", nil, "request", "EMPTY_REQUEST"},
	}

	validator := NewValidator(nil, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.ValidateRequest(tt.req)
			require.False(t, result.Valid)
			require.Len(t, result.Errors, 1)
			assert.Equal(t, tt.code, result.Errors[0].Code)
			assert.Equal(t, tt.field, result.Errors[0].Context["field"])
			assert.True(t, errors.IsType(result.Err(), errors.ErrorTypeValidation))
		})
	}

	stats := validator.GetValidationStats()["error_stats"].(errors.ErrorStats)
	assert.Equal(t, len(tests), stats.TotalErrors)
}

func TestValidateRequest_NilCounted(t *testing.T) {
	validator := NewValidator(nil, false)

	result := validator.ValidateRequest(nil)
	require.False(t, result.Valid)

	stats := validator.GetValidationStats()["error_stats"].(errors.ErrorStats)
	assert.Equal(t, 1, stats.TotalErrors)
	require.NotNil(t, stats.LastError)
	assert.Equal(t, "EMPTY_REQUEST", stats.LastError.Code)
}

func TestValidatorStrictMode(t *testing.T) {
	// 大小写混合但校验和错误
	bad := "0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	validator := NewValidator(nil, false)
	result := validator.ValidateRequest(&Request{Address: bad})
	assert.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")

	validator.SetStrictMode(true)
	result = validator.ValidateRequest(&Request{Address: bad})
	assert.False(t, result.Valid)
	assert.Equal(t, "BAD_CHECKSUM", result.Errors[0].Code)
}

func TestValidateABI(t *testing.T) {
	validator := NewValidator(nil, false)

	reg, result := validator.ValidateABI([]byte(`[{"type":"function","name":"ping","inputs":[],"outputs":[],"stateMutability":"view"}]`))
	require.True(t, result.Valid)
	assert.Equal(t, []string{"ping"}, reg.FunctionNames())
	assert.Empty(t, result.Warnings)

	_, result = validator.ValidateABI([]byte(`[]`))
	assert.True(t, result.Valid)
	assert.Len(t, result.Warnings, 1)

	_, result = validator.ValidateABI([]byte(`{"not":"an array"}`))
	assert.False(t, result.Valid)
	assert.True(t, errors.IsType(result.Err(), errors.ErrorTypeParse))
}

func TestValidateBlockRange(t *testing.T) {
	validator := NewValidator(nil, false)
	assert.True(t, validator.ValidateBlockRange(10, 20).Valid)
	assert.True(t, validator.ValidateBlockRange(10, 0).Valid)
	assert.False(t, validator.ValidateBlockRange(20, 10).Valid)
}

func TestIsValidHash(t *testing.T) {
	tests := []struct {
		name     string
		hash     string
		expected bool
	}{
		{
			name:     "valid hash",
			hash:     "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
			expected: true,
		},
		{
			name:     "invalid hash - no 0x prefix",
			hash:     "1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
			expected: false,
		},
		{
			name:     "invalid hash - too short",
			hash:     "0x123456",
			expected: false,
		},
		{
			name:     "invalid hash - invalid characters",
			hash:     "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdeX",
			expected: false,
		},
		{
			name:     "empty hash",
			hash:     "",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isValidHash(tt.hash))
		})
	}
}

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		expected bool
	}{
		{"valid address", "0x1234567890abcdef1234567890abcdef12345678", true},
		{"valid address - uppercase", "0x1234567890ABCDEF1234567890ABCDEF12345678", true},
		{"empty address", "", false},
		{"invalid address - no 0x prefix", "1234567890abcdef1234567890abcdef12345678", false},
		{"invalid address - too long", "0x1234567890abcdef1234567890abcdef1234567890", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isValidAddress(tt.address))
		})
	}
}
