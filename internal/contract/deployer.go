package contract

import (
	"context"

	"contractkit/internal/abi"
	"contractkit/internal/codec"
	"contractkit/internal/connection"
	"contractkit/internal/errors"
	"contractkit/internal/logging"
	"contractkit/internal/transaction"
	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
)

// Deployer 部署合约字节码并返回绑定到新地址的句柄
type Deployer struct {
	bytecode []byte
	registry *abi.Registry
	channel  connection.Channel
	watcher  *transaction.Watcher
	logger   *logrus.Logger
}

// NewDeployer 创建部署器，watcher为nil时使用默认回执轮询配置
func NewDeployer(bytecode []byte, registry *abi.Registry, ch connection.Channel, watcher *transaction.Watcher, logger *logrus.Logger) *Deployer {
	logger = logging.OrDiscard(logger)
	if watcher == nil {
		watcher = transaction.NewWatcher(ch, logger)
	}
	return &Deployer{
		bytecode: append([]byte(nil), bytecode...),
		registry: registry,
		channel:  ch,
		watcher:  watcher,
		logger:   logger,
	}
}

func (d *Deployer) constructor() *abi.Constructor {
	if c := d.registry.Constructor(); c != nil {
		return c
	}
	return &abi.Constructor{Mutability: abi.Nonpayable}
}

// DeployData 字节码拼接编码后的构造参数
func (d *Deployer) DeployData(args ...interface{}) ([]byte, error) {
	if len(d.bytecode) == 0 {
		return nil, errors.Encode("EMPTY_BYTECODE", "合约字节码为空")
	}
	encoded, err := codec.Encode(d.constructor().Inputs, args)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(d.bytecode)+len(encoded))
	data = append(data, d.bytecode...)
	return append(data, encoded...), nil
}

func (d *Deployer) request(opts TxOptions, args []interface{}) (*models.TransactionRequest, error) {
	ctor := d.constructor()
	if opts.Value != nil && opts.Value.Sign() > 0 && ctor.Mutability != abi.Payable {
		return nil, errors.Mutability("NOT_PAYABLE", "构造函数不是payable，不能附带转账金额").
			WithContext("mutability", ctor.Mutability.String())
	}
	data, err := d.DeployData(args...)
	if err != nil {
		return nil, err
	}
	return buildRequest(nil, data, opts), nil
}

// EstimateGas 估算部署交易的gas
func (d *Deployer) EstimateGas(ctx context.Context, from *common.Address, args ...interface{}) (uint64, error) {
	req, err := d.request(TxOptions{From: from}, args)
	if err != nil {
		return 0, err
	}
	var gas hexutil.Uint64
	if err := connection.Request(ctx, d.channel, &gas, connection.MethodEstimateGas, req); err != nil {
		return 0, err
	}
	return uint64(gas), nil
}

// Deploy 提交部署交易，等待回执，读取新合约地址
func (d *Deployer) Deploy(ctx context.Context, opts TxOptions, args ...interface{}) (*Contract, *models.Receipt, error) {
	req, err := d.request(opts, args)
	if err != nil {
		return nil, nil, err
	}

	hash, receipt, err := d.watcher.SubmitAndWait(ctx, req, "constructor")
	if err != nil {
		return nil, nil, err
	}

	if !receipt.Succeeded() {
		return nil, receipt, errors.Decode("DEPLOYMENT_REVERTED", "部署交易执行失败").WithTxHash(hash.Hex())
	}
	if !receipt.HasContractAddress() {
		return nil, receipt, errors.Decode("MISSING_CONTRACT_ADDRESS", "部署回执中没有合约地址").WithTxHash(hash.Hex())
	}

	address := *receipt.ContractAddress
	d.logger.WithField("tx_hash", hash.Hex()).Infof("合约已部署到 %s", address.Hex())
	return New(address, d.registry, d.channel, d.logger), receipt, nil
}
