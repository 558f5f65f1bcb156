package abi

import (
	"strings"

	"contractkit/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

// Selector 4字节函数选择器
type Selector [4]byte

// Hex 返回0x前缀的十六进制表示
func (s Selector) Hex() string {
	return hexutil.Encode(s[:])
}

// SelectorFromBytes 从调用数据前4字节提取选择器
func SelectorFromBytes(data []byte) (Selector, bool) {
	var s Selector
	if len(data) < 4 {
		return s, false
	}
	copy(s[:], data[:4])
	return s, true
}

// Keccak256 计算legacy Keccak-256哈希
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// FunctionSelector 函数选择器为签名哈希的前4字节
func FunctionSelector(signature string) Selector {
	var s Selector
	copy(s[:], Keccak256([]byte(signature))[:4])
	return s
}

// EventTopic 事件topic0为完整的签名哈希
func EventTopic(signature string) common.Hash {
	return common.BytesToHash(Keccak256([]byte(signature)))
}

// CanonicalSignature 构造 name(type1,type2,...) 形式的签名
func CanonicalSignature(name string, params Parameters) string {
	return name + "(" + params.TypeList() + ")"
}

// ParseSignature 解析文本签名，例如 transfer(address,uint256) 或 submit((uint256,bytes)[])
func ParseSignature(text string) (*Function, error) {
	text = strings.TrimSpace(text)
	open := strings.Index(text, "(")
	if open <= 0 || !strings.HasSuffix(text, ")") {
		return nil, errors.Parse("INVALID_SIGNATURE", "无效的函数签名: %q", text)
	}

	params, err := parseTypeList(text[open+1 : len(text)-1])
	if err != nil {
		return nil, errors.Parse("INVALID_SIGNATURE", "无效的函数签名: %q", text).WithContext("cause", err.Error())
	}

	return &Function{
		Name:       text[:open],
		Inputs:     params,
		Mutability: Nonpayable,
	}, nil
}

func parseTypeList(list string) (Parameters, error) {
	parts, ok := splitTopLevel(list)
	if !ok {
		return nil, errors.Parse("UNBALANCED_PARENS", "括号不匹配: %q", list)
	}

	params := make(Parameters, 0, len(parts))
	for _, part := range parts {
		t, components, err := parseTextType(part)
		if err != nil {
			return nil, err
		}
		params = append(params, Parameter{Type: t, Components: components})
	}
	return params, nil
}

// parseTextType 解析签名中的类型，元组以括号形式出现
func parseTextType(s string) (*Type, []Parameter, error) {
	if !strings.HasPrefix(s, "(") {
		t, err := ParseType(s)
		return t, nil, err
	}

	depth := 0
	closeAt := -1
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && closeAt < 0 {
				closeAt = i
			}
		}
	}
	if closeAt < 0 || depth != 0 {
		return nil, nil, errors.Parse("UNBALANCED_PARENS", "括号不匹配: %q", s)
	}

	components, err := parseTypeList(s[1:closeAt])
	if err != nil {
		return nil, nil, err
	}
	t, err := NewType("tuple"+s[closeAt+1:], components)
	return t, components, err
}

// splitTopLevel 按最外层逗号切分，空串返回空列表
func splitTopLevel(s string) ([]string, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, true
	}

	var parts []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, false
			}
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, false
	}
	return append(parts, strings.TrimSpace(s[start:])), true
}
