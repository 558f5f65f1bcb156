package models

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransactionRequest eth_call / eth_sendTransaction / eth_estimateGas 的交易参数
type TransactionRequest struct {
	From  *common.Address `json:"from,omitempty"`
	To    *common.Address `json:"to,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

// ValueInt 返回转账金额，未设置时为0
func (r *TransactionRequest) ValueInt() *big.Int {
	if r.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.Value.ToInt())
}

// Receipt 交易回执，只解析引擎关心的字段，其余保留在Raw中
type Receipt struct {
	TransactionHash   common.Hash     `json:"transactionHash"`
	BlockHash         common.Hash     `json:"blockHash"`
	BlockNumber       *hexutil.Big    `json:"blockNumber"`
	From              *common.Address `json:"from,omitempty"`
	To                *common.Address `json:"to,omitempty"`
	ContractAddress   *common.Address `json:"contractAddress"`
	Status            *hexutil.Uint64 `json:"status,omitempty"`
	GasUsed           *hexutil.Uint64 `json:"gasUsed,omitempty"`
	CumulativeGasUsed *hexutil.Uint64 `json:"cumulativeGasUsed,omitempty"`
	Logs              []types.Log     `json:"logs"`

	Raw json.RawMessage `json:"-"`
}

type receiptAlias Receipt

// UnmarshalJSON 保留原始回执
func (r *Receipt) UnmarshalJSON(data []byte) error {
	var alias receiptAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*r = Receipt(alias)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Succeeded 状态字段缺失（拜占庭前）时视为成功
func (r *Receipt) Succeeded() bool {
	return r.Status == nil || uint64(*r.Status) == types.ReceiptStatusSuccessful
}

// HasContractAddress 部署交易是否产生了合约地址
func (r *Receipt) HasContractAddress() bool {
	return r.ContractAddress != nil && *r.ContractAddress != (common.Address{})
}

// PendingTransaction 已提交但尚未确认的交易
type PendingTransaction struct {
	Hash        common.Hash     `json:"hash"`
	Contract    *common.Address `json:"contract,omitempty"`
	Function    string          `json:"function,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}
