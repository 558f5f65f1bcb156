package contract

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"testing"

	"contractkit/internal/abi"
	"contractkit/internal/connection"
	"contractkit/internal/connection/connectiontest"
	"contractkit/internal/errors"
	"contractkit/internal/transaction"
	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000e2")

// tokenNode 按选择器返回ERC-20只读调用结果
func tokenNode(t *testing.T) *connectiontest.StubChannel {
	responses := map[string]string{
		"0x06fdde03": encodeWords(t, []string{"string"}, "Test Token"),
		"0x95d89b41": encodeWords(t, []string{"string"}, "TTK"),
		"0x313ce567": encodeWords(t, []string{"uint8"}, 6),
		"0x18160ddd": encodeWords(t, []string{"uint256"}, big.NewInt(1_000_000_000)),
		"0x70a08231": encodeWords(t, []string{"uint256"}, big.NewInt(2_500_000)),
		"0xdd62ed3e": encodeWords(t, []string{"uint256"}, big.NewInt(7)),
	}
	return connectiontest.NewStubChannel().
		Handle(connection.MethodCall, func(args []interface{}) (interface{}, error) {
			req := args[0].(*models.TransactionRequest)
			sel := hexutil.Encode(req.Data[:4])
			out, ok := responses[sel]
			if !ok {
				return nil, fmt.Errorf("unexpected selector %s", sel)
			}
			return out, nil
		}).
		Respond(connection.MethodSendTransaction, txHash)
}

func TestERC20_Reads(t *testing.T) {
	ch := tokenNode(t)
	token := NewERC20(tokenAddr, ch, nil)
	ctx := context.Background()

	name, err := token.Name(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Test Token", name)

	symbol, err := token.Symbol(ctx)
	require.NoError(t, err)
	assert.Equal(t, "TTK", symbol)

	supply, err := token.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000_000), supply)

	balance, err := token.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2_500_000), balance)

	allowance, err := token.Allowance(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), allowance)
	assert.Equal(t, 5, ch.Count(connection.MethodCall))
}

func TestERC20_DecimalsCachedForUnits(t *testing.T) {
	ch := tokenNode(t)
	token := NewERC20(tokenAddr, ch, nil)
	ctx := context.Background()

	d, err := token.Decimals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, d)

	text, err := token.FormatUnits(ctx, big.NewInt(2_500_000))
	require.NoError(t, err)
	assert.Equal(t, "2.5", text)

	amount, err := token.ParseUnits(ctx, "0.000001")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), amount)

	_, err = token.ParseUnits(ctx, "0.0000001")
	assert.True(t, errors.IsType(err, errors.ErrorTypeEncode))

	assert.Equal(t, 1, ch.Count(connection.MethodCall))
}

func TestERC20_DecimalsNotCachedOnError(t *testing.T) {
	ch := connectiontest.NewStubChannel().Fail(connection.MethodCall, stderrors.New("connection refused"))
	token := NewERC20(tokenAddr, ch, nil)

	_, err := token.Decimals(context.Background())
	require.Error(t, err)
	_, err = token.Decimals(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, ch.Count(connection.MethodCall))
}

func TestERC20_Writes(t *testing.T) {
	ch := tokenNode(t)
	token := NewERC20(tokenAddr, ch, nil)
	ctx := context.Background()
	opts := TxOptions{From: &alice}

	_, err := token.Transfer(ctx, opts, bob, big.NewInt(1))
	require.NoError(t, err)
	_, err = token.Approve(ctx, opts, bob, big.NewInt(2))
	require.NoError(t, err)
	_, err = token.TransferFrom(ctx, opts, alice, bob, big.NewInt(3))
	require.NoError(t, err)

	var selectors []string
	for _, r := range ch.Requests() {
		selectors = append(selectors, hexutil.Encode(r.Args[0].(*models.TransactionRequest).Data[:4]))
	}
	assert.Equal(t, []string{"0xa9059cbb", "0x095ea7b3", "0x23b872dd"}, selectors)

	_, err = token.Transfer(ctx, TxOptions{Value: big.NewInt(1)}, bob, big.NewInt(1))
	assert.True(t, errors.IsType(err, errors.ErrorTypeMutabilityViolation))
	assert.Len(t, ch.Requests(), 3)
}

func TestERC20_Filters(t *testing.T) {
	token := NewERC20(tokenAddr, connectiontest.NewStubChannel(), nil)

	spec, err := token.TransferFilter(nil, &bob)
	require.NoError(t, err)
	require.Len(t, spec.Topics, 3)
	assert.Empty(t, spec.Topics[1])
	assert.Equal(t, common.BytesToHash(bob.Bytes()), spec.Topics[2][0])

	spec, err = token.ApprovalFilter(&alice, nil)
	require.NoError(t, err)
	require.Len(t, spec.Topics, 2)
	assert.Equal(t, abi.EventTopic("Approval(address,address,uint256)"), spec.Topics[0][0])

	assert.Equal(t, "ERC20("+tokenAddr.Hex()+")", token.String())
}

const ownedABI = `[{"type":"constructor","inputs":[{"name":"owner","type":"address"}],"stateMutability":"nonpayable"},
  {"type":"function","name":"owner","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"}]`

var bytecode = []byte{0x60, 0x80, 0x60, 0x40}

func deployNode(contractAddress interface{}, status string) *connectiontest.StubChannel {
	return connectiontest.NewStubChannel().
		Respond(connection.MethodSendTransaction, txHash).
		Respond(connection.MethodEstimateGas, "0x30d40").
		Respond(connection.MethodGetReceipt, map[string]interface{}{
			"transactionHash": txHash,
			"blockHash":       common.HexToHash("0x01"),
			"blockNumber":     "0x1",
			"contractAddress": contractAddress,
			"status":          status,
			"logs":            []interface{}{},
		})
}

func TestDeployer_DeployData(t *testing.T) {
	d := NewDeployer(bytecode, abi.MustFromJSON(ownedABI), connectiontest.NewStubChannel(), nil, nil)

	data, err := d.DeployData(alice)
	require.NoError(t, err)
	assert.Equal(t, bytecode, data[:4])
	assert.Len(t, data, 4+32)
	assert.Equal(t, alice.Bytes(), data[4+12:])

	_, err = d.DeployData()
	assert.True(t, errors.IsType(err, errors.ErrorTypeEncode))

	empty := NewDeployer(nil, abi.MustFromJSON(ownedABI), connectiontest.NewStubChannel(), nil, nil)
	_, err = empty.DeployData(alice)
	assert.True(t, errors.IsType(err, errors.ErrorTypeEncode))

	// 没有构造函数声明时不接受参数
	plain := NewDeployer(bytecode, abi.MustFromJSON(`[]`), connectiontest.NewStubChannel(), nil, nil)
	data, err = plain.DeployData()
	require.NoError(t, err)
	assert.Equal(t, bytecode, data)
	_, err = plain.DeployData(alice)
	assert.True(t, errors.IsType(err, errors.ErrorTypeEncode))
}

func TestDeployer_Deploy(t *testing.T) {
	deployed := common.HexToAddress("0x00000000000000000000000000000000000000d3")
	ch := deployNode(deployed, "0x1")
	watcher := transaction.NewWatcher(ch, nil)
	d := NewDeployer(bytecode, abi.MustFromJSON(ownedABI), ch, watcher, nil)

	gas, err := d.EstimateGas(context.Background(), &alice, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(200000), gas)

	c, receipt, err := d.Deploy(context.Background(), TxOptions{From: &alice}, alice)
	require.NoError(t, err)
	assert.Equal(t, deployed, c.Address())
	assert.Equal(t, deployed, *receipt.ContractAddress)
	assert.Equal(t, []string{"owner"}, c.FunctionNames())

	var sent *models.TransactionRequest
	for _, r := range ch.Requests() {
		if r.Method == connection.MethodSendTransaction {
			sent = r.Args[0].(*models.TransactionRequest)
		}
	}
	require.NotNil(t, sent)
	assert.Nil(t, sent.To)
	assert.Equal(t, &alice, sent.From)
}

func TestDeployer_DeployFailures(t *testing.T) {
	reg := abi.MustFromJSON(ownedABI)

	tests := []struct {
		name    string
		node    *connectiontest.StubChannel
		opts    TxOptions
		errType errors.ErrorType
		code    string
	}{
		{"缺少合约地址", deployNode(nil, "0x1"), TxOptions{}, errors.ErrorTypeDecode, "MISSING_CONTRACT_ADDRESS"},
		{"部署回滚", deployNode(common.HexToAddress("0xd3"), "0x0"), TxOptions{}, errors.ErrorTypeDecode, "DEPLOYMENT_REVERTED"},
		{"构造函数不可支付", deployNode(nil, "0x1"), TxOptions{Value: big.NewInt(1)}, errors.ErrorTypeMutabilityViolation, "NOT_PAYABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDeployer(bytecode, reg, tt.node, nil, nil)
			_, _, err := d.Deploy(context.Background(), tt.opts, alice)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType))
			var ce *errors.ContractError
			require.True(t, stderrors.As(err, &ce))
			assert.Equal(t, tt.code, ce.Code)
		})
	}
}
