package codec

import (
	"fmt"
	"math/big"

	"contractkit/internal/abi"
	"contractkit/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

const wordSize = 32

// Encode 按输入参数声明编码参数列表，参数数量必须与声明一致
func Encode(inputs abi.Parameters, args []interface{}) ([]byte, error) {
	if len(args) != len(inputs) {
		return nil, errors.Encode("ARG_COUNT_MISMATCH", "参数数量不匹配: 需要%d个，实际%d个", len(inputs), len(args)).
			WithContext("expected", len(inputs)).
			WithContext("actual", len(args))
	}
	return encodeTuple(inputs.Types(), args, "args")
}

// EncodeValues 按类型列表编码，用于没有参数名的场景
func EncodeValues(types []*abi.Type, values []interface{}) ([]byte, error) {
	if len(values) != len(types) {
		return nil, errors.Encode("ARG_COUNT_MISMATCH", "参数数量不匹配: 需要%d个，实际%d个", len(types), len(values))
	}
	return encodeTuple(types, values, "args")
}

// EncodeCall 返回 selector‖encoded-args 形式的调用数据
func EncodeCall(fn *abi.Function, args []interface{}) ([]byte, error) {
	encoded, err := Encode(fn.Inputs, args)
	if err != nil {
		return nil, err
	}
	sel := fn.Selector()
	return append(sel[:], encoded...), nil
}

// encodeTuple 头部放静态值或偏移量，尾部按声明顺序拼接动态内容
func encodeTuple(types []*abi.Type, values []interface{}, path string) ([]byte, error) {
	headSize := 0
	for _, t := range types {
		headSize += t.HeadSize()
	}

	head := make([]byte, 0, headSize)
	var tail []byte
	for i, t := range types {
		elemPath := fmt.Sprintf("%s[%d]", path, i)
		enc, err := encodeValue(t, values[i], elemPath)
		if err != nil {
			return nil, err
		}
		if t.IsDynamic() {
			head = append(head, uintWord(uint64(headSize+len(tail)))...)
			tail = append(tail, enc...)
		} else {
			head = append(head, enc...)
		}
	}
	return append(head, tail...), nil
}

func encodeValue(t *abi.Type, v interface{}, path string) ([]byte, error) {
	if v == nil {
		return nil, encodeError(path, t, "值为空")
	}

	switch t.Kind {
	case abi.AddressKind:
		addr, err := toAddress(v)
		if err != nil {
			return nil, encodeError(path, t, err.Error())
		}
		return common.LeftPadBytes(addr.Bytes(), wordSize), nil

	case abi.BoolKind:
		b, err := toBool(v)
		if err != nil {
			return nil, encodeError(path, t, err.Error())
		}
		word := make([]byte, wordSize)
		if b {
			word[wordSize-1] = 1
		}
		return word, nil

	case abi.UintKind, abi.IntKind:
		n, err := toBigInt(v)
		if err != nil {
			return nil, encodeError(path, t, err.Error())
		}
		if !integerFits(t, n) {
			return nil, encodeError(path, t, fmt.Sprintf("数值 %s 超出范围", n.String()))
		}
		// 负数按256位补码写入
		return math.U256Bytes(n), nil

	case abi.FixedBytesKind:
		b, err := toBytes(v)
		if err != nil {
			return nil, encodeError(path, t, err.Error())
		}
		if len(b) != t.Size {
			return nil, encodeError(path, t, fmt.Sprintf("需要%d字节，实际%d字节", t.Size, len(b)))
		}
		return common.RightPadBytes(b, wordSize), nil

	case abi.BytesKind:
		b, err := toBytes(v)
		if err != nil {
			return nil, encodeError(path, t, err.Error())
		}
		return encodeDynamicBytes(b), nil

	case abi.StringKind:
		s, err := toString(v)
		if err != nil {
			return nil, encodeError(path, t, err.Error())
		}
		return encodeDynamicBytes([]byte(s)), nil

	case abi.ArrayKind:
		elems, err := toSlice(v)
		if err != nil {
			return nil, encodeError(path, t, err.Error())
		}
		body, err := encodeTuple(repeat(t.Elem, len(elems)), elems, path)
		if err != nil {
			return nil, err
		}
		return append(uintWord(uint64(len(elems))), body...), nil

	case abi.FixedArrayKind:
		elems, err := toSlice(v)
		if err != nil {
			return nil, encodeError(path, t, err.Error())
		}
		if len(elems) != t.Size {
			return nil, encodeError(path, t, fmt.Sprintf("需要%d个元素，实际%d个", t.Size, len(elems)))
		}
		return encodeTuple(repeat(t.Elem, t.Size), elems, path)

	case abi.TupleKind:
		fields, err := toTupleValues(t, v)
		if err != nil {
			return nil, encodeError(path, t, err.Error())
		}
		return encodeTuple(t.Fields, fields, path)
	}

	return nil, encodeError(path, t, "未知类型")
}

func encodeDynamicBytes(b []byte) []byte {
	padded := (len(b) + wordSize - 1) / wordSize * wordSize
	out := make([]byte, wordSize+padded)
	copy(out, uintWord(uint64(len(b))))
	copy(out[wordSize:], b)
	return out
}

func uintWord(n uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(n).Bytes(), wordSize)
}

func repeat(t *abi.Type, n int) []*abi.Type {
	types := make([]*abi.Type, n)
	for i := range types {
		types[i] = t
	}
	return types
}

// integerFits 检查数值是否落在 uintN / intN 的取值范围内
func integerFits(t *abi.Type, n *big.Int) bool {
	if t.Kind == abi.UintKind {
		return n.Sign() >= 0 && n.BitLen() <= t.Size
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	if n.Sign() >= 0 {
		return n.Cmp(limit) < 0
	}
	return n.Cmp(new(big.Int).Neg(limit)) >= 0
}

func encodeError(path string, t *abi.Type, reason string) *errors.ContractError {
	return errors.Encode("INVALID_ARGUMENT", "参数 %s (%s) 编码失败: %s", path, t.String(), reason).
		WithContext("path", path).
		WithContext("type", t.String())
}
