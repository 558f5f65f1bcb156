package abi

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Parameter 函数或事件参数
type Parameter struct {
	Name       string
	Type       *Type
	Indexed    bool
	Components []Parameter
}

// Parameters 有序参数列表
type Parameters []Parameter

// Types 返回参数类型列表
func (ps Parameters) Types() []*Type {
	types := make([]*Type, len(ps))
	for i, p := range ps {
		types[i] = p.Type
	}
	return types
}

// TypeList 返回逗号连接的规范类型列表
func (ps Parameters) TypeList() string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.Type.String()
	}
	return strings.Join(parts, ",")
}

// Indexed 返回事件的索引参数
func (ps Parameters) Indexed() Parameters {
	var out Parameters
	for _, p := range ps {
		if p.Indexed {
			out = append(out, p)
		}
	}
	return out
}

// NonIndexed 返回事件的非索引参数
func (ps Parameters) NonIndexed() Parameters {
	var out Parameters
	for _, p := range ps {
		if !p.Indexed {
			out = append(out, p)
		}
	}
	return out
}

// Mutability 函数状态可变性
type Mutability int

const (
	Pure Mutability = iota
	View
	Nonpayable
	Payable
)

var mutabilityNames = map[Mutability]string{
	Pure:       "pure",
	View:       "view",
	Nonpayable: "nonpayable",
	Payable:    "payable",
}

func (m Mutability) String() string {
	if name, ok := mutabilityNames[m]; ok {
		return name
	}
	return "unknown"
}

// IsReadOnly pure和view函数只能走只读调用
func (m Mutability) IsReadOnly() bool {
	return m == Pure || m == View
}

func parseMutability(s string) (Mutability, bool) {
	for m, name := range mutabilityNames {
		if name == s {
			return m, true
		}
	}
	return 0, false
}

// EntryKind ABI条目种类
type EntryKind int

const (
	FunctionEntry EntryKind = iota
	EventEntry
	ConstructorEntry
	OtherEntry
)

// Entry ABI条目，具体类型为 *Function、*Event、*Constructor 或 *Other
type Entry interface {
	Kind() EntryKind
}

// Function 合约函数
type Function struct {
	Name       string
	Inputs     Parameters
	Outputs    Parameters
	Mutability Mutability
}

// Kind 实现Entry
func (f *Function) Kind() EntryKind { return FunctionEntry }

// Signature 规范函数签名
func (f *Function) Signature() string {
	return CanonicalSignature(f.Name, f.Inputs)
}

// Selector 函数选择器
func (f *Function) Selector() Selector {
	return FunctionSelector(f.Signature())
}

// Event 合约事件
type Event struct {
	Name      string
	Inputs    Parameters
	Anonymous bool
}

// Kind 实现Entry
func (e *Event) Kind() EntryKind { return EventEntry }

// Signature 规范事件签名
func (e *Event) Signature() string {
	return CanonicalSignature(e.Name, e.Inputs)
}

// Topic 事件签名哈希，即topic0
func (e *Event) Topic() common.Hash {
	return EventTopic(e.Signature())
}

// Constructor 构造函数
type Constructor struct {
	Inputs     Parameters
	Mutability Mutability
}

// Kind 实现Entry
func (c *Constructor) Kind() EntryKind { return ConstructorEntry }

// Other fallback、receive、error等不参与按名调度的条目
type Other struct {
	Type string
	Name string
}

// Kind 实现Entry
func (o *Other) Kind() EntryKind { return OtherEntry }
