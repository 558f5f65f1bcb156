package codec

import (
	"fmt"
	"math/big"

	"contractkit/internal/abi"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FormatValue 把解码值转为适合JSON输出的形式：
// 地址为校验和十六进制，整数为十进制字符串，字节为0x十六进制，具名元组为对象
func FormatValue(t *abi.Type, v interface{}) interface{} {
	// 索引的动态参数只保留主题哈希
	if h, ok := v.(common.Hash); ok {
		return h.Hex()
	}

	switch t.Kind {
	case abi.AddressKind:
		if addr, ok := v.(common.Address); ok {
			return addr.Hex()
		}
	case abi.UintKind, abi.IntKind:
		if n, ok := v.(*big.Int); ok {
			return n.String()
		}
	case abi.BytesKind, abi.FixedBytesKind:
		if b, ok := v.([]byte); ok {
			return hexutil.Encode(b)
		}
	case abi.ArrayKind, abi.FixedArrayKind:
		if elems, ok := v.([]interface{}); ok {
			out := make([]interface{}, len(elems))
			for i, e := range elems {
				out[i] = FormatValue(t.Elem, e)
			}
			return out
		}
	case abi.TupleKind:
		if fields, ok := v.([]interface{}); ok && len(fields) == len(t.Fields) {
			if allNamed(t.FieldNames) {
				out := make(map[string]interface{}, len(fields))
				for i, f := range fields {
					out[t.FieldNames[i]] = FormatValue(t.Fields[i], f)
				}
				return out
			}
			out := make([]interface{}, len(fields))
			for i, f := range fields {
				out[i] = FormatValue(t.Fields[i], f)
			}
			return out
		}
	}
	return v
}

// FormatValues 按参数声明格式化一组解码值
func FormatValues(params abi.Parameters, values []interface{}) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		if i < len(params) {
			out[i] = FormatValue(params[i].Type, v)
		} else {
			out[i] = v
		}
	}
	return out
}

// NamedValues 按参数名组织格式化后的值，无名参数使用 argN
func NamedValues(params abi.Parameters, values []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for i, p := range params {
		if i >= len(values) {
			break
		}
		out[ParamKey(p, i)] = FormatValue(p.Type, values[i])
	}
	return out
}

// FormatArgs 格式化DecodeEventArgs的结果
func FormatArgs(params abi.Parameters, args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for i, p := range params {
		key := ParamKey(p, i)
		if v, ok := args[key]; ok {
			out[key] = FormatValue(p.Type, v)
		}
	}
	return out
}

// ParamKey 参数在结果映射中的键
func ParamKey(p abi.Parameter, index int) string {
	if p.Name == "" {
		return fmt.Sprintf("arg%d", index)
	}
	return p.Name
}

func allNamed(names []string) bool {
	if len(names) == 0 {
		return false
	}
	for _, n := range names {
		if n == "" {
			return false
		}
	}
	return true
}
