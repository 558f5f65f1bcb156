package validation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"contractkit/internal/abi"
	"contractkit/internal/errors"
	"contractkit/internal/logging"
	"contractkit/internal/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

var (
	hashRegex       = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")
	identifierRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	quantityRegex   = regexp.MustCompile("^0x(0|[1-9a-fA-F][0-9a-fA-F]*)$")
)

// 区块标签
var blockTags = map[string]bool{
	"latest":    true,
	"earliest":  true,
	"pending":   true,
	"safe":      true,
	"finalized": true,
}

// Validator 外部输入验证器，HTTP与命令行参数在进入引擎前经过这里
type Validator struct {
	logger       *logrus.Logger
	strictMode   bool // 严格模式：混合大小写地址必须符合EIP-55校验和
	errorHandler *errors.ErrorHandler
	rules        map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                    `json:"valid"`
	Errors   []*errors.ContractError `json:"errors,omitempty"`
	Warnings []string                `json:"warnings,omitempty"`
	DataType string                  `json:"data_type"`
}

// Err 第一个错误，验证通过时为nil
func (r *ValidationResult) Err() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

func (r *ValidationResult) fail(err error, field string) {
	r.Valid = false
	ce, ok := err.(*errors.ContractError)
	if !ok {
		ce = errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityMedium, "INVALID_INPUT", "输入验证失败")
	}
	r.Errors = append(r.Errors, ce.WithContext("field", field))
}

// Request 合约调用相关的外部输入，空字段不验证
type Request struct {
	Address string `json:"address,omitempty"`
	Name    string `json:"name,omitempty"` // 函数或事件名
	From    string `json:"from,omitempty"`
	Block   string `json:"block,omitempty"`
	Value   string `json:"value,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
}

// NewValidator 创建验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	logger = logging.OrDiscard(logger)
	v := &Validator{
		logger:       logger,
		strictMode:   strictMode,
		errorHandler: errors.NewErrorHandler(logger),
		rules:        make(map[string]ValidationRule),
	}

	// 注册默认验证规则
	v.AddRule(NewAddressValidationRule())
	v.AddRule(NewHashValidationRule())
	v.AddRule(NewIdentifierValidationRule())
	v.AddRule(NewBlockTagValidationRule())
	v.AddRule(NewValueValidationRule())

	return v
}

// AddRule 添加验证规则，同名规则被替换
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

func (v *Validator) check(result *ValidationResult, rule, field, value string) {
	if value == "" {
		return
	}
	r, ok := v.rules[rule]
	if !ok {
		return
	}
	if err := r.Validate(value); err != nil {
		result.fail(err, field)
	}
}

// ValidateRequest 验证调用参数
func (v *Validator) ValidateRequest(req *Request) *ValidationResult {
	result := &ValidationResult{Valid: true, DataType: "request"}
	if req == nil {
		result.fail(errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"EMPTY_REQUEST", "请求为空"), "request")
		return v.record(result)
	}

	v.check(result, "address", "address", req.Address)
	v.check(result, "address", "from", req.From)
	v.check(result, "identifier", "name", req.Name)
	v.check(result, "block_tag", "block", req.Block)
	v.check(result, "value", "value", req.Value)
	v.check(result, "hash", "tx_hash", req.TxHash)

	for _, field := range []struct{ name, value string }{{"address", req.Address}, {"from", req.From}} {
		if warn := v.checksumWarning(field.value); warn != "" {
			if v.strictMode {
				result.fail(errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium,
					"BAD_CHECKSUM", warn), field.name)
			} else {
				result.Warnings = append(result.Warnings, warn)
			}
		}
	}

	return v.record(result)
}

// record 把失败的验证计入错误统计
func (v *Validator) record(result *ValidationResult) *ValidationResult {
	for _, err := range result.Errors {
		v.errorHandler.HandleError(context.Background(), err)
	}
	return result
}

// checksumWarning 混合大小写但校验和不符时返回提示
func (v *Validator) checksumWarning(addr string) string {
	if !common.IsHexAddress(addr) || !strings.HasPrefix(addr, "0x") {
		return ""
	}
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return ""
	}
	if checksummed := common.HexToAddress(addr).Hex(); checksummed != addr {
		return fmt.Sprintf("地址 %s 不符合EIP-55校验和，应为 %s", addr, checksummed)
	}
	return ""
}

// ValidateABI 验证ABI文档能否解析
func (v *Validator) ValidateABI(doc []byte) (*abi.Registry, *ValidationResult) {
	result := &ValidationResult{Valid: true, DataType: "abi"}
	reg, err := abi.FromJSON(doc)
	if err != nil {
		result.fail(err, "abi")
		return nil, result
	}
	if len(reg.FunctionNames()) == 0 && len(reg.EventNames()) == 0 {
		result.Warnings = append(result.Warnings, "ABI中没有函数或事件")
	}
	return reg, result
}

// ValidateBlockRange 验证日志查询区间
func (v *Validator) ValidateBlockRange(from, to uint64) *ValidationResult {
	result := &ValidationResult{Valid: true, DataType: "block_range"}
	if to != 0 && from > to {
		result.fail(errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_BLOCK_RANGE", fmt.Sprintf("起始区块 %d 大于结束区块 %d", from, to)), "from_block")
	}
	return result
}

// isValidHash 验证哈希格式
func isValidHash(hash string) bool {
	return len(hash) == 66 && hashRegex.MatchString(hash)
}

// isValidAddress 验证地址格式，必须带0x前缀
func isValidAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	return common.IsHexAddress(addr)
}

func invalid(code, format string, args ...interface{}) *errors.ContractError {
	return errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium, code, fmt.Sprintf(format, args...))
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "以太坊地址验证规则"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}
	if !isValidAddress(addr) {
		return invalid("INVALID_ADDRESS_FORMAT", "地址格式无效: %s", addr)
	}
	return nil
}

// HashValidationRule 哈希验证规则
type HashValidationRule struct{}

func NewHashValidationRule() *HashValidationRule {
	return &HashValidationRule{}
}

func (r *HashValidationRule) Name() string {
	return "hash"
}

func (r *HashValidationRule) Description() string {
	return "交易哈希验证规则"
}

func (r *HashValidationRule) Validate(data interface{}) error {
	hash, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}
	if !isValidHash(hash) {
		return invalid("INVALID_HASH_FORMAT", "哈希格式无效: %s", hash)
	}
	return nil
}

// IdentifierValidationRule 函数/事件名验证规则
type IdentifierValidationRule struct{}

func NewIdentifierValidationRule() *IdentifierValidationRule {
	return &IdentifierValidationRule{}
}

func (r *IdentifierValidationRule) Name() string {
	return "identifier"
}

func (r *IdentifierValidationRule) Description() string {
	return "Solidity标识符验证规则"
}

func (r *IdentifierValidationRule) Validate(data interface{}) error {
	name, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}
	if !identifierRegex.MatchString(name) {
		return invalid("INVALID_IDENTIFIER", "名称不是合法的标识符: %s", name)
	}
	return nil
}

// BlockTagValidationRule 区块参数验证规则
type BlockTagValidationRule struct{}

func NewBlockTagValidationRule() *BlockTagValidationRule {
	return &BlockTagValidationRule{}
}

func (r *BlockTagValidationRule) Name() string {
	return "block_tag"
}

func (r *BlockTagValidationRule) Description() string {
	return "区块标签或十六进制区块号"
}

func (r *BlockTagValidationRule) Validate(data interface{}) error {
	tag, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}
	if !blockTags[tag] && !quantityRegex.MatchString(tag) {
		return invalid("INVALID_BLOCK_TAG", "区块参数无效: %s", tag)
	}
	return nil
}

// ValueValidationRule 转账金额验证规则
type ValueValidationRule struct{}

func NewValueValidationRule() *ValueValidationRule {
	return &ValueValidationRule{}
}

func (r *ValueValidationRule) Name() string {
	return "value"
}

func (r *ValueValidationRule) Description() string {
	return "非负整数金额（十进制或0x十六进制，单位wei）"
}

func (r *ValueValidationRule) Validate(data interface{}) error {
	s, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}
	if strings.HasPrefix(s, "0x") {
		if _, err := units.HexToDecimal(s); err != nil {
			return invalid("INVALID_VALUE", "金额无效: %s", s)
		}
		return nil
	}
	if n, err := units.ParseUnits(s, 0); err != nil || n.Sign() < 0 {
		return invalid("INVALID_VALUE", "金额无效: %s", s)
	}
	return nil
}

// GetValidationStats 获取验证统计信息
func (v *Validator) GetValidationStats() map[string]interface{} {
	return map[string]interface{}{
		"strict_mode":      v.strictMode,
		"registered_rules": len(v.rules),
		"error_stats":      v.errorHandler.GetStats(),
	}
}

// SetStrictMode 设置严格模式
func (v *Validator) SetStrictMode(strict bool) {
	v.strictMode = strict
	v.logger.Infof("验证器严格模式设置为: %t", strict)
}
