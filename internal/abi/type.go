package abi

import (
	"strconv"
	"strings"

	"contractkit/internal/errors"
)

// 定长数组的上限
const (
	MaxFixedArrayLength = 1 << 20
	MaxHeadSize         = 1 << 24
)

// Kind 类型种类
type Kind int

const (
	AddressKind Kind = iota
	BoolKind
	StringKind
	BytesKind
	FixedBytesKind
	UintKind
	IntKind
	ArrayKind
	FixedArrayKind
	TupleKind
)

var kindNames = map[Kind]string{
	AddressKind:    "address",
	BoolKind:       "bool",
	StringKind:     "string",
	BytesKind:      "bytes",
	FixedBytesKind: "fixed_bytes",
	UintKind:       "uint",
	IntKind:        "int",
	ArrayKind:      "array",
	FixedArrayKind: "fixed_array",
	TupleKind:      "tuple",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Type ABI类型描述，按Kind区分含义：
//   - Uint/Int: Size 为位宽
//   - FixedBytes: Size 为字节数
//   - FixedArray: Size 为元素个数，Elem 为元素类型
//   - Array: Elem 为元素类型
//   - Tuple: Fields/FieldNames 为成员
type Type struct {
	Kind       Kind
	Size       int
	Elem       *Type
	Fields     []*Type
	FieldNames []string
}

// ParseType 解析规范类型字符串，tuple成员只能来自components，因此这里的tuple总是空元组
func ParseType(typeStr string) (*Type, error) {
	return NewType(typeStr, nil)
}

// NewType 解析类型字符串，tuple类型的成员取自components
func NewType(typeStr string, components []Parameter) (*Type, error) {
	t, ok := parseType(strings.TrimSpace(typeStr), components)
	if !ok {
		return nil, errors.Parse("INVALID_TYPE", "无法识别的类型: %q", typeStr)
	}
	return t, nil
}

func parseType(s string, components []Parameter) (*Type, bool) {
	// 数组后缀优先于基础类型解析
	if strings.HasSuffix(s, "]") {
		open := strings.LastIndex(s, "[")
		if open <= 0 {
			return nil, false
		}
		elem, ok := parseType(s[:open], components)
		if !ok {
			return nil, false
		}
		inner := s[open+1 : len(s)-1]
		if inner == "" {
			return &Type{Kind: ArrayKind, Elem: elem}, true
		}
		n, ok := parseDecimal(inner)
		if !ok || !fixedArrayFits(elem, n) {
			return nil, false
		}
		return &Type{Kind: FixedArrayKind, Size: n, Elem: elem}, true
	}

	switch s {
	case "address":
		return &Type{Kind: AddressKind}, true
	case "bool":
		return &Type{Kind: BoolKind}, true
	case "string":
		return &Type{Kind: StringKind}, true
	case "bytes":
		return &Type{Kind: BytesKind}, true
	case "tuple":
		return newTupleType(components)
	}

	switch {
	case strings.HasPrefix(s, "uint"):
		return parseIntType(s[len("uint"):], UintKind)
	case strings.HasPrefix(s, "int"):
		return parseIntType(s[len("int"):], IntKind)
	case strings.HasPrefix(s, "bytes"):
		n, ok := parseDecimal(s[len("bytes"):])
		if !ok || n < 1 || n > 32 {
			return nil, false
		}
		return &Type{Kind: FixedBytesKind, Size: n}, true
	}

	return nil, false
}

func parseIntType(bits string, kind Kind) (*Type, bool) {
	n, ok := parseDecimal(bits)
	if !ok || n < 1 || n > 256 || n%8 != 0 {
		return nil, false
	}
	return &Type{Kind: kind, Size: n}, true
}

func newTupleType(components []Parameter) (*Type, bool) {
	t := &Type{
		Kind:       TupleKind,
		Fields:     make([]*Type, 0, len(components)),
		FieldNames: make([]string, 0, len(components)),
	}
	for _, c := range components {
		if c.Type == nil {
			return nil, false
		}
		t.Fields = append(t.Fields, c.Type)
		t.FieldNames = append(t.FieldNames, c.Name)
	}
	return t, true
}

// fixedArrayFits 限制元素个数和头部总长度，HeadSize不会溢出
func fixedArrayFits(elem *Type, n int) bool {
	if n > MaxFixedArrayLength {
		return false
	}
	size := elem.HeadSize()
	return size == 0 || n <= MaxHeadSize/size
}

// parseDecimal 只接受规范十进制写法，拒绝符号和前导零
func parseDecimal(s string) (int, bool) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// String 返回规范类型字符串，tuple展开为(t1,t2,...)
func (t *Type) String() string {
	switch t.Kind {
	case AddressKind, BoolKind, StringKind, BytesKind:
		return t.Kind.String()
	case FixedBytesKind:
		return "bytes" + strconv.Itoa(t.Size)
	case UintKind:
		return "uint" + strconv.Itoa(t.Size)
	case IntKind:
		return "int" + strconv.Itoa(t.Size)
	case ArrayKind:
		return t.Elem.String() + "[]"
	case FixedArrayKind:
		return t.Elem.String() + "[" + strconv.Itoa(t.Size) + "]"
	case TupleKind:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.String()
		}
		return "(" + strings.Join(parts, ",") + ")"
	}
	return "unknown"
}

// IsDynamic 判断类型是否需要偏移量间接编码
func (t *Type) IsDynamic() bool {
	switch t.Kind {
	case StringKind, BytesKind, ArrayKind:
		return true
	case FixedArrayKind:
		return t.Elem.IsDynamic()
	case TupleKind:
		for _, f := range t.Fields {
			if f.IsDynamic() {
				return true
			}
		}
	}
	return false
}

// HeadSize 返回类型在头部占用的字节数，动态类型只占一个偏移量字
func (t *Type) HeadSize() int {
	if t.IsDynamic() {
		return 32
	}
	switch t.Kind {
	case FixedArrayKind:
		return t.Size * t.Elem.HeadSize()
	case TupleKind:
		size := 0
		for _, f := range t.Fields {
			size += f.HeadSize()
		}
		return size
	}
	return 32
}
