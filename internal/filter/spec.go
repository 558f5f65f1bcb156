package filter

import (
	"context"
	"fmt"
	"math/big"

	"contractkit/internal/abi"
	"contractkit/internal/codec"
	"contractkit/internal/connection"
	"contractkit/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Spec eth_getLogs 查询条件
//
// 非匿名事件的 Topics[0] 是事件签名哈希，之后每个位置对应一个索引参数；
// 匿名事件没有签名主题。空切片是通配，多个值之间是"或"的关系，末尾的通配位置会被去掉。
type Spec struct {
	Event     *abi.Event
	Address   common.Address
	Topics    [][]common.Hash
	FromBlock *big.Int
	ToBlock   *big.Int
}

// Build 按事件声明和索引参数约束构建查询条件
// constraints 以参数名为键。值为 []interface{} 时表示多个候选值
func Build(event *abi.Event, address common.Address, constraints map[string]interface{}) (*Spec, error) {
	indexed := event.Inputs.Indexed()
	fixed := 1
	if event.Anonymous {
		fixed = 0
	}
	if len(indexed)+fixed > codec.MaxTopics {
		return nil, errors.Encode("TOO_MANY_TOPICS", "事件 %s 有 %d 个索引参数，超过主题上限", event.Name, len(indexed)).
			WithContext("event", event.Name)
	}

	if err := checkConstraintNames(event, constraints); err != nil {
		return nil, err
	}

	topics := make([][]common.Hash, 0, len(indexed)+fixed)
	if !event.Anonymous {
		topics = append(topics, []common.Hash{event.Topic()})
	}

	for _, p := range indexed {
		value, ok := constraints[p.Name]
		if !ok || value == nil {
			topics = append(topics, nil)
			continue
		}

		candidates, isList := value.([]interface{})
		if !isList {
			candidates = []interface{}{value}
		}

		position := make([]common.Hash, 0, len(candidates))
		for _, c := range candidates {
			h, err := codec.EncodeTopic(p.Type, c)
			if err != nil {
				return nil, withParam(err, event.Name, p.Name)
			}
			position = append(position, h)
		}
		topics = append(topics, position)
	}

	return &Spec{Event: event, Address: address, Topics: trimWildcards(topics, fixed)}, nil
}

func checkConstraintNames(event *abi.Event, constraints map[string]interface{}) error {
	for name := range constraints {
		found := false
		for _, p := range event.Inputs {
			if p.Name != name {
				continue
			}
			if !p.Indexed {
				return errors.Encode("NOT_INDEXED", "参数 %s 不是事件 %s 的索引参数", name, event.Name).
					WithContext("event", event.Name).
					WithContext("param", name)
			}
			found = true
			break
		}
		if !found {
			return errors.Encode("UNKNOWN_PARAM", "事件 %s 没有参数 %s", event.Name, name).
				WithContext("event", event.Name).
				WithContext("param", name)
		}
	}
	return nil
}

func withParam(err error, event, param string) error {
	if ce, ok := err.(*errors.ContractError); ok {
		return ce.WithContext("event", event).WithContext("param", param)
	}
	return err
}

func trimWildcards(topics [][]common.Hash, keep int) [][]common.Hash {
	end := len(topics)
	for end > keep && len(topics[end-1]) == 0 {
		end--
	}
	return topics[:end]
}

// WithRange 设置区块范围，nil表示由节点决定
func (s *Spec) WithRange(from, to *big.Int) *Spec {
	cp := *s
	cp.FromBlock = from
	cp.ToBlock = to
	return &cp
}

// FilterObject eth_getLogs 的参数对象
func (s *Spec) FilterObject() map[string]interface{} {
	arg := map[string]interface{}{
		"address": s.Address,
		"topics":  topicsArg(s.Topics),
	}
	if s.FromBlock != nil {
		arg["fromBlock"] = hexutil.EncodeBig(s.FromBlock)
	}
	if s.ToBlock != nil {
		arg["toBlock"] = hexutil.EncodeBig(s.ToBlock)
	}
	return arg
}

// topicsArg 通配位置编码为null，单个值直接写哈希
func topicsArg(topics [][]common.Hash) []interface{} {
	out := make([]interface{}, len(topics))
	for i, position := range topics {
		switch len(position) {
		case 0:
			out[i] = nil
		case 1:
			out[i] = position[0]
		default:
			out[i] = position
		}
	}
	return out
}

// Query 执行一次 eth_getLogs
func (s *Spec) Query(ctx context.Context, ch connection.Channel) ([]types.Log, error) {
	var logs []types.Log
	if err := connection.Request(ctx, ch, &logs, connection.MethodGetLogs, s.FilterObject()); err != nil {
		return nil, err
	}
	return logs, nil
}

// Matches 本地判断日志是否满足条件，用于过滤节点返回的结果
func (s *Spec) Matches(log types.Log) bool {
	if log.Address != s.Address {
		return false
	}
	if len(log.Topics) < len(s.Topics) {
		return false
	}
	for i, position := range s.Topics {
		if len(position) == 0 {
			continue
		}
		matched := false
		for _, h := range position {
			if log.Topics[i] == h {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func (s *Spec) String() string {
	name := "<nil>"
	if s.Event != nil {
		name = s.Event.Signature()
	}
	return fmt.Sprintf("%s@%s", name, s.Address.Hex())
}
