package codec

import (
	"fmt"

	"contractkit/internal/abi"
	"contractkit/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// MaxTopics 单条日志最多4个主题
const MaxTopics = 4

// EncodeTopic 把索引参数的约束值编码为主题字
// 静态单字类型直接按ABI编码，string/bytes取keccak256，数组和元组不支持
func EncodeTopic(t *abi.Type, v interface{}) (common.Hash, error) {
	switch t.Kind {
	case abi.StringKind:
		s, err := toString(v)
		if err != nil {
			return common.Hash{}, encodeError("topic", t, err.Error())
		}
		return common.BytesToHash(abi.Keccak256([]byte(s))), nil
	case abi.BytesKind:
		b, err := toBytes(v)
		if err != nil {
			return common.Hash{}, encodeError("topic", t, err.Error())
		}
		return common.BytesToHash(abi.Keccak256(b)), nil
	case abi.ArrayKind, abi.FixedArrayKind, abi.TupleKind:
		return common.Hash{}, errors.Encode("UNSUPPORTED_TOPIC", "不支持按 %s 类型的索引参数过滤", t.String()).
			WithContext("type", t.String())
	}

	word, err := encodeValue(t, v, "topic")
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(word), nil
}

// DecodeEventArgs 按事件声明解码日志，返回参数名到值的映射
// 只有静态单字的索引参数能从主题还原，其余索引参数返回主题哈希本身
func DecodeEventArgs(event *abi.Event, topics []common.Hash, data []byte) (map[string]interface{}, error) {
	indexed := event.Inputs.Indexed()

	offset := 0
	if !event.Anonymous {
		if len(topics) == 0 {
			return nil, errors.Decode("MISSING_TOPIC", "事件 %s 缺少签名主题", event.Name)
		}
		if topics[0] != event.Topic() {
			return nil, errors.Decode("TOPIC_MISMATCH", "主题 %s 与事件 %s 签名不匹配", topics[0].Hex(), event.Signature()).
				WithContext("event", event.Name)
		}
		offset = 1
	}
	if len(topics)-offset != len(indexed) {
		return nil, errors.Decode("TOPIC_COUNT_MISMATCH", "事件 %s 需要%d个索引主题，实际%d个",
			event.Name, len(indexed), len(topics)-offset).
			WithContext("event", event.Name)
	}

	nonIndexed := event.Inputs.NonIndexed()
	values, err := Decode(nonIndexed, data)
	if err != nil {
		return nil, err
	}

	result := make(map[string]interface{}, len(event.Inputs))
	topicIdx, dataIdx := offset, 0
	for i, p := range event.Inputs {
		key := ParamKey(p, i)
		if !p.Indexed {
			result[key] = values[dataIdx]
			dataIdx++
			continue
		}

		topic := topics[topicIdx]
		topicIdx++
		if !isWordType(p.Type) {
			result[key] = topic
			continue
		}
		v, err := new(decoder).value(p.Type, topic.Bytes(), fmt.Sprintf("topics[%d]", topicIdx-1))
		if err != nil {
			return nil, err
		}
		result[key] = v
	}
	return result, nil
}

func isWordType(t *abi.Type) bool {
	switch t.Kind {
	case abi.AddressKind, abi.BoolKind, abi.UintKind, abi.IntKind, abi.FixedBytesKind:
		return true
	}
	return false
}
