package contract

import (
	"context"
	"math/big"

	"contractkit/internal/abi"
	"contractkit/internal/codec"
	"contractkit/internal/connection"
	"contractkit/internal/errors"
	"contractkit/internal/filter"
	"contractkit/internal/logging"
	"contractkit/internal/transaction"
	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// TxOptions 交易参数，零值表示由节点决定
type TxOptions struct {
	From  *common.Address
	Value *big.Int
	Gas   *uint64
}

// CallOptions 只读调用参数
type CallOptions struct {
	From  *common.Address
	Block string // 默认latest
}

// Contract 绑定到某个地址的合约句柄
// registry只读，可被多个句柄共享；并发调用之间互不影响
type Contract struct {
	address  common.Address
	registry *abi.Registry
	channel  connection.Channel
	logger   *logrus.Entry
}

// New 创建合约句柄
func New(address common.Address, registry *abi.Registry, ch connection.Channel, logger *logrus.Logger) *Contract {
	return &Contract{
		address:  address,
		registry: registry,
		channel:  ch,
		logger:   logging.NewContractLogger(logging.OrDiscard(logger), address.Hex()),
	}
}

// Address 合约地址
func (c *Contract) Address() common.Address { return c.address }

// Registry 合约ABI
func (c *Contract) Registry() *abi.Registry { return c.registry }

// FunctionNames 排序后的函数名
func (c *Contract) FunctionNames() []string { return c.registry.FunctionNames() }

// EventNames 排序后的事件名
func (c *Contract) EventNames() []string { return c.registry.EventNames() }

// Function 按名称查找函数
func (c *Contract) Function(name string) (*abi.Function, error) {
	fn, err := c.registry.Function(name)
	if err != nil {
		return nil, c.annotate(err)
	}
	return fn, nil
}

// EncodeCall 返回0x前缀的调用数据
func (c *Contract) EncodeCall(name string, args ...interface{}) (string, error) {
	fn, err := c.Function(name)
	if err != nil {
		return "", err
	}
	data, err := codec.EncodeCall(fn, args)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(data), nil
}

// Call 通过 eth_call 调用 view/pure 函数并按输出声明解码
func (c *Contract) Call(ctx context.Context, name string, args ...interface{}) ([]interface{}, error) {
	return c.CallWithOptions(ctx, nil, name, args...)
}

// CallWithOptions 指定发送方或区块的只读调用
func (c *Contract) CallWithOptions(ctx context.Context, opts *CallOptions, name string, args ...interface{}) ([]interface{}, error) {
	fn, err := c.Function(name)
	if err != nil {
		return nil, err
	}
	if !fn.Mutability.IsReadOnly() {
		return nil, c.mutabilityError("NOT_READ_ONLY", fn, "函数 %s 是 %s，不能通过只读调用执行", fn.Name, fn.Mutability)
	}

	data, err := codec.EncodeCall(fn, args)
	if err != nil {
		return nil, err
	}

	req := &models.TransactionRequest{To: &c.address, Data: data}
	block := connection.BlockTagLatest
	if opts != nil {
		req.From = opts.From
		if opts.Block != "" {
			block = opts.Block
		}
	}

	var result hexutil.Bytes
	if err := connection.Request(ctx, c.channel, &result, connection.MethodCall, req, block); err != nil {
		return nil, err
	}
	c.logger.WithField("function", fn.Name).Debugf("只读调用返回 %d 字节", len(result))

	values, err := codec.Decode(fn.Outputs, result)
	if err != nil {
		return nil, c.annotate(err)
	}
	return values, nil
}

// Send 通过 eth_sendTransaction 提交交易，返回的哈希不代表已确认
func (c *Contract) Send(ctx context.Context, name string, opts TxOptions, args ...interface{}) (common.Hash, error) {
	req, err := c.transactionRequest(name, opts, args)
	if err != nil {
		return common.Hash{}, err
	}

	hash, err := transaction.Submit(ctx, c.channel, req)
	if err != nil {
		return common.Hash{}, err
	}
	c.logger.WithField("function", name).Infof("交易已提交: %s", hash.Hex())
	return hash, nil
}

// SendAndWait 提交交易并等待回执
func (c *Contract) SendAndWait(ctx context.Context, w *transaction.Watcher, name string, opts TxOptions, args ...interface{}) (*models.Receipt, error) {
	req, err := c.transactionRequest(name, opts, args)
	if err != nil {
		return nil, err
	}
	_, receipt, err := w.SubmitAndWait(ctx, req, name)
	return receipt, err
}

// EstimateGas 通过 eth_estimateGas 估算交易的gas
func (c *Contract) EstimateGas(ctx context.Context, name string, opts TxOptions, args ...interface{}) (uint64, error) {
	fn, err := c.Function(name)
	if err != nil {
		return 0, err
	}
	if err := c.checkValue(fn, opts.Value); err != nil {
		return 0, err
	}
	data, err := codec.EncodeCall(fn, args)
	if err != nil {
		return 0, err
	}

	req := buildRequest(&c.address, data, opts)
	var gas hexutil.Uint64
	if err := connection.Request(ctx, c.channel, &gas, connection.MethodEstimateGas, req); err != nil {
		return 0, err
	}
	return uint64(gas), nil
}

func (c *Contract) transactionRequest(name string, opts TxOptions, args []interface{}) (*models.TransactionRequest, error) {
	fn, err := c.Function(name)
	if err != nil {
		return nil, err
	}
	if fn.Mutability.IsReadOnly() {
		return nil, c.mutabilityError("READ_ONLY_FUNCTION", fn, "函数 %s 是 %s，不能作为交易发送", fn.Name, fn.Mutability)
	}
	if err := c.checkValue(fn, opts.Value); err != nil {
		return nil, err
	}

	data, err := codec.EncodeCall(fn, args)
	if err != nil {
		return nil, err
	}
	return buildRequest(&c.address, data, opts), nil
}

func (c *Contract) checkValue(fn *abi.Function, value *big.Int) error {
	if value != nil && value.Sign() > 0 && fn.Mutability != abi.Payable {
		return c.mutabilityError("NOT_PAYABLE", fn, "函数 %s 不是payable，不能附带转账金额", fn.Name)
	}
	return nil
}

func (c *Contract) mutabilityError(code string, fn *abi.Function, format string, args ...interface{}) error {
	return errors.Mutability(code, format, args...).
		WithContext("function", fn.Signature()).
		WithContext("mutability", fn.Mutability.String()).
		WithContext("contract", c.address.Hex())
}

func (c *Contract) annotate(err error) error {
	if ce, ok := err.(*errors.ContractError); ok {
		return ce.WithContext("contract", c.address.Hex())
	}
	return err
}

func buildRequest(to *common.Address, data []byte, opts TxOptions) *models.TransactionRequest {
	req := &models.TransactionRequest{From: opts.From, To: to, Data: data}
	if opts.Value != nil {
		req.Value = (*hexutil.Big)(new(big.Int).Set(opts.Value))
	}
	if opts.Gas != nil {
		gas := hexutil.Uint64(*opts.Gas)
		req.Gas = &gas
	}
	return req
}

// EventFilter 按事件名和索引参数约束构建日志查询条件
func (c *Contract) EventFilter(name string, constraints map[string]interface{}) (*filter.Spec, error) {
	event, err := c.registry.Event(name)
	if err != nil {
		return nil, c.annotate(err)
	}
	return filter.Build(event, c.address, constraints)
}

// DecodeLog 按topic0匹配事件并解码日志
func (c *Contract) DecodeLog(log types.Log) (*models.DecodedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, errors.Decode("MISSING_TOPIC", "日志没有主题，匿名事件请使用DecodeLogAs").
			WithContext("contract", c.address.Hex())
	}
	event, ok := c.registry.EventByTopic(log.Topics[0])
	if !ok {
		return nil, errors.NotFound("EVENT_NOT_FOUND", "未知事件主题: %s", log.Topics[0].Hex()).
			WithContext("contract", c.address.Hex())
	}
	return decodeLog(event, log)
}

// DecodeLogAs 按指定事件解码日志，可用于匿名事件
func (c *Contract) DecodeLogAs(name string, log types.Log) (*models.DecodedEvent, error) {
	event, err := c.registry.Event(name)
	if err != nil {
		return nil, c.annotate(err)
	}
	return decodeLog(event, log)
}

func decodeLog(event *abi.Event, log types.Log) (*models.DecodedEvent, error) {
	values, err := codec.DecodeEventArgs(event, log.Topics, log.Data)
	if err != nil {
		return nil, err
	}
	return &models.DecodedEvent{
		Event:       event.Name,
		Signature:   event.Signature(),
		Address:     log.Address,
		Args:        codec.FormatArgs(event.Inputs, values),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		Removed:     log.Removed,
		Values:      values,
		Log:         log,
	}, nil
}
