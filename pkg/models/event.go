package models

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DecodedEvent 按ABI解码后的事件日志
type DecodedEvent struct {
	Event       string                 `json:"event"`
	Signature   string                 `json:"signature"`
	Address     common.Address         `json:"address"`
	Args        map[string]interface{} `json:"args"` // 适合JSON输出的格式化值
	BlockNumber uint64                 `json:"block_number"`
	TxHash      common.Hash            `json:"transaction_hash"`
	LogIndex    uint                   `json:"log_index"`
	Removed     bool                   `json:"removed"`

	Values map[string]interface{} `json:"-"` // 解码得到的原始值
	Log    types.Log              `json:"-"`
}

// DecodedCall 解码后的调用数据
type DecodedCall struct {
	Selector  string        `json:"selector"`
	Method    string        `json:"method"`
	Signature string        `json:"signature"`
	Source    string        `json:"source"` // registry, builtin, 4byte
	Args      []interface{} `json:"args"`
}
