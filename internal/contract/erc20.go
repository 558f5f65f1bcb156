package contract

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"contractkit/internal/abi"
	"contractkit/internal/connection"
	"contractkit/internal/errors"
	"contractkit/internal/filter"
	"contractkit/internal/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ERC20ABI 标准ERC-20接口（EIP-20）
//
//	name()              0x06fdde03
//	symbol()            0x95d89b41
//	decimals()          0x313ce567
//	totalSupply()       0x18160ddd
//	balanceOf(address)  0x70a08231
//	allowance(a,a)      0xdd62ed3e
//	transfer(a,u256)    0xa9059cbb
//	approve(a,u256)     0x095ea7b3
//	transferFrom(a,a,u) 0x23b872dd
const ERC20ABI = `[
  {"type":"function","name":"name","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
  {"type":"function","name":"symbol","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
  {"type":"function","name":"decimals","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"},
  {"type":"function","name":"totalSupply","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"allowance","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
  {"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
  {"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"Approval","anonymous":false,"inputs":[{"name":"owner","type":"address","indexed":true},{"name":"spender","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

var erc20Registry = abi.MustFromJSON(ERC20ABI)

// ERC20Registry 共享的ERC-20 ABI
func ERC20Registry() *abi.Registry { return erc20Registry }

// ERC20 标准代币的便捷封装
type ERC20 struct {
	*Contract

	mu       sync.Mutex
	decimals *int
}

// NewERC20 绑定ERC-20代币
func NewERC20(address common.Address, ch connection.Channel, logger *logrus.Logger) *ERC20 {
	return &ERC20{Contract: New(address, erc20Registry, ch, logger)}
}

func (t *ERC20) callString(ctx context.Context, name string) (string, error) {
	values, err := t.Call(ctx, name)
	if err != nil {
		return "", err
	}
	return values[0].(string), nil
}

func (t *ERC20) callBig(ctx context.Context, name string, args ...interface{}) (*big.Int, error) {
	values, err := t.Call(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

// Name 代币名称
func (t *ERC20) Name(ctx context.Context) (string, error) { return t.callString(ctx, "name") }

// Symbol 代币符号
func (t *ERC20) Symbol(ctx context.Context) (string, error) { return t.callString(ctx, "symbol") }

// Decimals 代币精度，首次成功查询后缓存
func (t *ERC20) Decimals(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.decimals != nil {
		return *t.decimals, nil
	}

	v, err := t.callBig(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d := int(v.Int64())
	t.decimals = &d
	return d, nil
}

// TotalSupply 总供应量（最小单位）
func (t *ERC20) TotalSupply(ctx context.Context) (*big.Int, error) {
	return t.callBig(ctx, "totalSupply")
}

// BalanceOf 账户余额（最小单位）
func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return t.callBig(ctx, "balanceOf", account)
}

// Allowance 授权额度（最小单位）
func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.callBig(ctx, "allowance", owner, spender)
}

// Transfer 转账
func (t *ERC20) Transfer(ctx context.Context, opts TxOptions, to common.Address, amount *big.Int) (common.Hash, error) {
	return t.Send(ctx, "transfer", opts, to, amount)
}

// Approve 授权
func (t *ERC20) Approve(ctx context.Context, opts TxOptions, spender common.Address, amount *big.Int) (common.Hash, error) {
	return t.Send(ctx, "approve", opts, spender, amount)
}

// TransferFrom 代扣转账
func (t *ERC20) TransferFrom(ctx context.Context, opts TxOptions, from, to common.Address, amount *big.Int) (common.Hash, error) {
	return t.Send(ctx, "transferFrom", opts, from, to, amount)
}

// TransferFilter Transfer事件过滤条件，nil表示不限制
func (t *ERC20) TransferFilter(from, to *common.Address) (*filter.Spec, error) {
	return t.EventFilter("Transfer", addressConstraints("from", from, "to", to))
}

// ApprovalFilter Approval事件过滤条件，nil表示不限制
func (t *ERC20) ApprovalFilter(owner, spender *common.Address) (*filter.Spec, error) {
	return t.EventFilter("Approval", addressConstraints("owner", owner, "spender", spender))
}

func addressConstraints(k1 string, v1 *common.Address, k2 string, v2 *common.Address) map[string]interface{} {
	c := make(map[string]interface{}, 2)
	if v1 != nil {
		c[k1] = *v1
	}
	if v2 != nil {
		c[k2] = *v2
	}
	return c
}

// FormatUnits 按代币精度格式化数量
func (t *ERC20) FormatUnits(ctx context.Context, amount *big.Int) (string, error) {
	d, err := t.Decimals(ctx)
	if err != nil {
		return "", err
	}
	return units.FormatUnits(amount, d), nil
}

// ParseUnits 按代币精度解析数量
func (t *ERC20) ParseUnits(ctx context.Context, text string) (*big.Int, error) {
	d, err := t.Decimals(ctx)
	if err != nil {
		return nil, err
	}
	v, err := units.ParseUnits(text, d)
	if err != nil {
		return nil, errors.Encode("INVALID_AMOUNT", "%s", err.Error()).
			WithContext("contract", t.Address().Hex())
	}
	return v, nil
}

func (t *ERC20) String() string {
	return fmt.Sprintf("ERC20(%s)", t.Address().Hex())
}
