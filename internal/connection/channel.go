package connection

import (
	"context"
	"math/big"

	"contractkit/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPC方法名
const (
	MethodCall            = "eth_call"
	MethodSendTransaction = "eth_sendTransaction"
	MethodEstimateGas     = "eth_estimateGas"
	MethodGetReceipt      = "eth_getTransactionReceipt"
	MethodGetLogs         = "eth_getLogs"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"
	MethodBlockNumber     = "eth_blockNumber"
)

// BlockTagLatest 最新区块标签
const BlockTagLatest = "latest"

const channelComponent = "rpc_channel"

// Channel 执行节点的请求/响应通道，result为JSON解码目标
// go-ethereum的 *rpc.Client 直接满足该接口
type Channel interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Request 通过通道发送请求，失败统一包装为TransportError
func Request(ctx context.Context, ch Channel, result interface{}, method string, args ...interface{}) error {
	if err := ch.CallContext(ctx, result, method, args...); err != nil {
		if errors.IsType(err, errors.ErrorTypeTransport) {
			return err
		}
		return errors.Transport(err, method).WithComponent(channelComponent)
	}
	return nil
}

// Accounts 查询节点管理的账户
func Accounts(ctx context.Context, ch Channel) ([]common.Address, error) {
	var accounts []common.Address
	if err := Request(ctx, ch, &accounts, MethodAccounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ChainID 查询链ID
func ChainID(ctx context.Context, ch Channel) (*big.Int, error) {
	var id hexutil.Big
	if err := Request(ctx, ch, &id, MethodChainID); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

// BlockNumber 查询最新区块高度
func BlockNumber(ctx context.Context, ch Channel) (uint64, error) {
	var n hexutil.Uint64
	if err := Request(ctx, ch, &n, MethodBlockNumber); err != nil {
		return 0, err
	}
	return uint64(n), nil
}
