package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"contractkit/internal/abi"
	"contractkit/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// 零长度元素不占数据空间，整次解码最多展开这么多个
const maxZeroSizeElements = 1 << 16

var twoTo256 = new(big.Int).Lsh(big.NewInt(1), 256)

// Decode 按输出参数声明解码数据，越界或格式错误返回DecodeError
func Decode(outputs abi.Parameters, data []byte) ([]interface{}, error) {
	return DecodeValues(outputs.Types(), data)
}

// DecodeValues 按类型列表解码
func DecodeValues(types []*abi.Type, data []byte) ([]interface{}, error) {
	return newDecoder(types, data).tuple(types, data, "result")
}

// DecodeCall 解码 selector‖args 形式的调用数据，选择器必须与函数一致
func DecodeCall(fn *abi.Function, data []byte) ([]interface{}, error) {
	sel, ok := abi.SelectorFromBytes(data)
	if !ok {
		return nil, errors.Decode("SHORT_CALLDATA", "调用数据不足4字节")
	}
	if sel != fn.Selector() {
		return nil, errors.Decode("SELECTOR_MISMATCH", "选择器 %s 与函数 %s 不匹配", sel.Hex(), fn.Signature())
	}
	return Decode(fn.Inputs, data[4:])
}

// decoder 记录整次解码剩余可展开的元素数，偏移量复用和嵌套都从同一预算扣减
type decoder struct {
	budget int
}

// newDecoder 合法编码中每个非零长度元素至少独占一个字，每层嵌套最多再带一个容器
func newDecoder(types []*abi.Type, data []byte) *decoder {
	depth := 1
	for _, t := range types {
		if d := typeDepth(t); d > depth {
			depth = d
		}
	}
	return &decoder{budget: maxZeroSizeElements + (len(data)/wordSize+len(types))*depth}
}

func typeDepth(t *abi.Type) int {
	switch t.Kind {
	case abi.ArrayKind, abi.FixedArrayKind:
		return 1 + typeDepth(t.Elem)
	case abi.TupleKind:
		d := 0
		for _, f := range t.Fields {
			if fd := typeDepth(f); fd > d {
				d = fd
			}
		}
		return 1 + d
	}
	return 1
}

// take 预留n个元素，超出预算时不分配任何空间
func (d *decoder) take(n int, path string, t *abi.Type) error {
	if n > d.budget {
		return decodeError(path, t, fmt.Sprintf("元素数 %d 超出数据可容纳范围", n))
	}
	d.budget -= n
	return nil
}

func (d *decoder) tuple(types []*abi.Type, data []byte, path string) ([]interface{}, error) {
	values := make([]interface{}, len(types))
	cursor := 0
	for i, t := range types {
		elemPath := fmt.Sprintf("%s[%d]", path, i)
		if t.IsDynamic() {
			offset, err := readLength(data, cursor, elemPath)
			if err != nil {
				return nil, err
			}
			if offset > len(data) {
				return nil, decodeError(elemPath, t, fmt.Sprintf("偏移量 %d 超出数据长度 %d", offset, len(data)))
			}
			v, err := d.value(t, data[offset:], elemPath)
			if err != nil {
				return nil, err
			}
			values[i] = v
			cursor += wordSize
			continue
		}

		size := t.HeadSize()
		if cursor+size > len(data) {
			return nil, decodeError(elemPath, t, fmt.Sprintf("需要%d字节，剩余%d字节", size, len(data)-cursor))
		}
		v, err := d.value(t, data[cursor:cursor+size], elemPath)
		if err != nil {
			return nil, err
		}
		values[i] = v
		cursor += size
	}
	return values, nil
}

// elements 解码n个同类元素，非零长度元素先按剩余数据检查个数
func (d *decoder) elements(t *abi.Type, n int, data []byte, path string) ([]interface{}, error) {
	if elemSize := t.Elem.HeadSize(); elemSize > 0 && n > len(data)/elemSize {
		return nil, decodeError(path, t, fmt.Sprintf("数组长度 %d 超出剩余数据", n))
	}
	if err := d.take(n, path, t); err != nil {
		return nil, err
	}
	return d.tuple(repeat(t.Elem, n), data, path)
}

func (d *decoder) value(t *abi.Type, data []byte, path string) (interface{}, error) {
	switch t.Kind {
	case abi.AddressKind:
		word, err := readWord(data, 0, path, t)
		if err != nil {
			return nil, err
		}
		if !isZero(word[:12]) {
			return nil, decodeError(path, t, "地址高位填充非零")
		}
		return common.BytesToAddress(word[12:]), nil

	case abi.BoolKind:
		word, err := readWord(data, 0, path, t)
		if err != nil {
			return nil, err
		}
		if !isZero(word[:wordSize-1]) || word[wordSize-1] > 1 {
			return nil, decodeError(path, t, "布尔值必须为0或1")
		}
		return word[wordSize-1] == 1, nil

	case abi.UintKind:
		word, err := readWord(data, 0, path, t)
		if err != nil {
			return nil, err
		}
		n := new(big.Int).SetBytes(word)
		if n.BitLen() > t.Size {
			return nil, decodeError(path, t, "数值超出位宽")
		}
		return n, nil

	case abi.IntKind:
		word, err := readWord(data, 0, path, t)
		if err != nil {
			return nil, err
		}
		n := new(big.Int).SetBytes(word)
		if n.Bit(255) == 1 {
			n.Sub(n, twoTo256)
		}
		if !integerFits(t, n) {
			return nil, decodeError(path, t, "符号扩展不正确")
		}
		return n, nil

	case abi.FixedBytesKind:
		word, err := readWord(data, 0, path, t)
		if err != nil {
			return nil, err
		}
		if !isZero(word[t.Size:]) {
			return nil, decodeError(path, t, "定长字节右侧填充非零")
		}
		return append([]byte(nil), word[:t.Size]...), nil

	case abi.BytesKind, abi.StringKind:
		length, err := readLength(data, 0, path)
		if err != nil {
			return nil, err
		}
		if length > len(data)-wordSize {
			return nil, decodeError(path, t, fmt.Sprintf("声明长度 %d 超出剩余数据 %d", length, len(data)-wordSize))
		}
		content := data[wordSize : wordSize+length]
		if t.Kind == abi.StringKind {
			return string(content), nil
		}
		return append([]byte(nil), content...), nil

	case abi.ArrayKind:
		n, err := readLength(data, 0, path)
		if err != nil {
			return nil, err
		}
		return d.elements(t, n, data[wordSize:], path)

	case abi.FixedArrayKind:
		return d.elements(t, t.Size, data, path)

	case abi.TupleKind:
		if err := d.take(len(t.Fields), path, t); err != nil {
			return nil, err
		}
		return d.tuple(t.Fields, data, path)
	}

	return nil, decodeError(path, t, "未知类型")
}

func readWord(data []byte, pos int, path string, t *abi.Type) ([]byte, error) {
	if pos < 0 || pos+wordSize > len(data) {
		return nil, decodeError(path, t, fmt.Sprintf("需要32字节，剩余%d字节", len(data)-pos))
	}
	return data[pos : pos+wordSize], nil
}

// readLength 读取偏移量或长度字，必须能表示为int
func readLength(data []byte, pos int, path string) (int, error) {
	if pos+wordSize > len(data) {
		return 0, errors.Decode("SHORT_DATA", "%s 读取长度失败: 需要32字节，剩余%d字节", path, len(data)-pos).
			WithContext("path", path)
	}
	word := data[pos : pos+wordSize]
	if !isZero(word[:wordSize-8]) {
		return 0, errors.Decode("LENGTH_OVERFLOW", "%s 长度或偏移量溢出", path).WithContext("path", path)
	}
	n := binary.BigEndian.Uint64(word[wordSize-8:])
	if n > uint64(len(data)) && n > maxZeroSizeElements {
		return 0, errors.Decode("LENGTH_OVERFLOW", "%s 长度或偏移量 %d 超出数据范围", path, n).WithContext("path", path)
	}
	return int(n), nil
}

func isZero(b []byte) bool {
	return len(bytes.TrimLeft(b, "\x00")) == 0
}

func decodeError(path string, t *abi.Type, reason string) *errors.ContractError {
	return errors.Decode("MALFORMED_DATA", "%s (%s) 解码失败: %s", path, t.String(), reason).
		WithContext("path", path).
		WithContext("type", t.String())
}
