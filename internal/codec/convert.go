package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"contractkit/internal/abi"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// 以下转换函数把调用方传入的Go值、JSON值或命令行字符串统一成编码器使用的形式

func toAddress(v interface{}) (common.Address, error) {
	switch x := v.(type) {
	case common.Address:
		return x, nil
	case *common.Address:
		if x == nil {
			return common.Address{}, fmt.Errorf("地址为空")
		}
		return *x, nil
	case string:
		if !common.IsHexAddress(x) {
			return common.Address{}, fmt.Errorf("无效的地址: %q", x)
		}
		return common.HexToAddress(x), nil
	case []byte:
		if len(x) != common.AddressLength {
			return common.Address{}, fmt.Errorf("地址长度必须为20字节，实际为%d", len(x))
		}
		return common.BytesToAddress(x), nil
	}
	return common.Address{}, fmt.Errorf("不支持的地址值类型 %T", v)
}

func toBool(v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return false, fmt.Errorf("无效的布尔值: %q", x)
	}
	return false, fmt.Errorf("不支持的布尔值类型 %T", v)
}

func toBigInt(v interface{}) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, fmt.Errorf("整数为空")
		}
		return new(big.Int).Set(x), nil
	case big.Int:
		return new(big.Int).Set(&x), nil
	case *hexutil.Big:
		if x == nil {
			return nil, fmt.Errorf("整数为空")
		}
		return new(big.Int).Set(x.ToInt()), nil
	case int:
		return big.NewInt(int64(x)), nil
	case int8:
		return big.NewInt(int64(x)), nil
	case int16:
		return big.NewInt(int64(x)), nil
	case int32:
		return big.NewInt(int64(x)), nil
	case int64:
		return big.NewInt(x), nil
	case uint:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case json.Number:
		return parseIntString(x.String())
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.Abs(x) > 1<<53 {
			return nil, fmt.Errorf("数值 %v 不是可精确表示的整数", x)
		}
		return big.NewInt(int64(x)), nil
	case string:
		return parseIntString(x)
	}
	return nil, fmt.Errorf("不支持的整数值类型 %T", v)
}

// parseIntString 支持十进制和0x十六进制，允许负号
func parseIntString(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")

	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		_, ok = n.SetString(body[2:], 16)
	} else {
		_, ok = n.SetString(body, 10)
	}
	if !ok || body == "" {
		return nil, fmt.Errorf("无效的整数: %q", s)
	}
	if neg {
		n.Neg(n)
	}
	return n, nil
}

func toBytes(v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case hexutil.Bytes:
		return x, nil
	case common.Hash:
		return x.Bytes(), nil
	case string:
		b, err := hexutil.Decode(x)
		if err != nil {
			return nil, fmt.Errorf("无效的十六进制字节串 %q: %w", x, err)
		}
		return b, nil
	}

	// 定长字节数组，例如[4]byte
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		out := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(out), rv)
		return out, nil
	}
	return nil, fmt.Errorf("不支持的字节值类型 %T", v)
}

func toString(v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	return "", fmt.Errorf("不支持的字符串值类型 %T", v)
}

// toSlice 把任意切片或数组转为[]interface{}
func toSlice(v interface{}) ([]interface{}, error) {
	if s, ok := v.([]interface{}); ok {
		return s, nil
	}
	if s, ok := v.(string); ok && strings.HasPrefix(strings.TrimSpace(s), "[") {
		var decoded []interface{}
		if err := unmarshalNumbers(s, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("需要数组值，实际为 %T", v)
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// toTupleValues 元组接受按位置的列表或按字段名的映射
func toTupleValues(t *abi.Type, v interface{}) ([]interface{}, error) {
	if s, ok := v.(string); ok && strings.HasPrefix(strings.TrimSpace(s), "{") {
		var decoded map[string]interface{}
		if err := unmarshalNumbers(s, &decoded); err != nil {
			return nil, err
		}
		v = decoded
	}

	if m, ok := v.(map[string]interface{}); ok {
		out := make([]interface{}, len(t.Fields))
		for i, name := range t.FieldNames {
			value, exists := m[name]
			if !exists || name == "" {
				return nil, fmt.Errorf("元组缺少字段 %q", name)
			}
			out[i] = value
		}
		if len(m) != len(t.Fields) {
			return nil, fmt.Errorf("元组字段数量不匹配: 需要%d个，实际%d个", len(t.Fields), len(m))
		}
		return out, nil
	}

	values, err := toSlice(v)
	if err != nil {
		return nil, err
	}
	if len(values) != len(t.Fields) {
		return nil, fmt.Errorf("元组字段数量不匹配: 需要%d个，实际%d个", len(t.Fields), len(values))
	}
	return values, nil
}

func unmarshalNumbers(s string, out interface{}) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("解析JSON参数失败: %w", err)
	}
	return nil
}

// ParseTextArgs 解析命令行参数：JSON数组或对象按JSON解析，其余保持字符串
func ParseTextArgs(args []string) ([]interface{}, error) {
	out := make([]interface{}, len(args))
	for i, arg := range args {
		trimmed := strings.TrimSpace(arg)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			var decoded interface{}
			if err := unmarshalNumbers(trimmed, &decoded); err != nil {
				return nil, fmt.Errorf("参数 %d: %w", i, err)
			}
			out[i] = decoded
			continue
		}
		out[i] = arg
	}
	return out, nil
}
