package abi

import (
	"encoding/json"
	"sort"

	"contractkit/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// Registry 解析后的合约接口，构造完成后只读，可被多个合约句柄共享
type Registry struct {
	entries     []Entry
	functions   map[string]*Function
	events      map[string]*Event
	constructor *Constructor
	selectors   map[Selector]*Function
	topics      map[common.Hash]*Event
	raw         json.RawMessage
}

type jsonParameter struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Indexed    bool            `json:"indexed"`
	Components []jsonParameter `json:"components"`
}

type jsonEntry struct {
	Type            string          `json:"type"`
	Name            string          `json:"name"`
	Inputs          []jsonParameter `json:"inputs"`
	Outputs         []jsonParameter `json:"outputs"`
	StateMutability string          `json:"stateMutability"`
	Constant        *bool           `json:"constant"`
	Payable         *bool           `json:"payable"`
	Anonymous       bool            `json:"anonymous"`
}

// FromJSON 解析JSON格式的ABI描述
func FromJSON(data []byte) (*Registry, error) {
	var items []jsonEntry
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeParse, errors.SeverityMedium,
			"INVALID_ABI_JSON", "ABI JSON解析失败")
	}

	r := &Registry{
		entries:   make([]Entry, 0, len(items)),
		functions: make(map[string]*Function),
		events:    make(map[string]*Event),
		selectors: make(map[Selector]*Function),
		topics:    make(map[common.Hash]*Event),
		raw:       append(json.RawMessage(nil), data...),
	}

	for i, item := range items {
		entry, err := parseEntry(item)
		if err != nil {
			if ce, ok := err.(*errors.ContractError); ok {
				return nil, ce.WithContext("entry_index", i).WithContext("entry_name", item.Name)
			}
			return nil, err
		}
		if entry == nil {
			continue
		}
		r.entries = append(r.entries, entry)

		switch e := entry.(type) {
		case *Function:
			// 同名函数后定义覆盖先定义，选择器索引保留全部重载
			r.functions[e.Name] = e
			r.selectors[e.Selector()] = e
		case *Event:
			r.events[e.Name] = e
			r.topics[e.Topic()] = e
		case *Constructor:
			r.constructor = e
		case *Other:
		}
	}

	return r, nil
}

// MustFromJSON 解析内置ABI，失败时panic
func MustFromJSON(data string) *Registry {
	r, err := FromJSON([]byte(data))
	if err != nil {
		panic(err)
	}
	return r
}

func parseEntry(item jsonEntry) (Entry, error) {
	entryType := item.Type
	if entryType == "" {
		entryType = "function"
	}

	switch entryType {
	case "function":
		if item.Name == "" {
			return nil, nil
		}
		inputs, err := parseParameters(item.Inputs, false)
		if err != nil {
			return nil, err
		}
		outputs, err := parseParameters(item.Outputs, false)
		if err != nil {
			return nil, err
		}
		mutability, err := resolveMutability(item)
		if err != nil {
			return nil, err
		}
		return &Function{Name: item.Name, Inputs: inputs, Outputs: outputs, Mutability: mutability}, nil

	case "event":
		if item.Name == "" {
			return nil, nil
		}
		inputs, err := parseParameters(item.Inputs, true)
		if err != nil {
			return nil, err
		}
		return &Event{Name: item.Name, Inputs: inputs, Anonymous: item.Anonymous}, nil

	case "constructor":
		inputs, err := parseParameters(item.Inputs, false)
		if err != nil {
			return nil, err
		}
		mutability, err := resolveMutability(item)
		if err != nil {
			return nil, err
		}
		return &Constructor{Inputs: inputs, Mutability: mutability}, nil

	case "fallback", "receive", "error":
		return &Other{Type: entryType, Name: item.Name}, nil
	}

	// 未知条目类型直接忽略
	return nil, nil
}

// resolveMutability stateMutability优先，缺失时回退到constant/payable
func resolveMutability(item jsonEntry) (Mutability, error) {
	if item.StateMutability != "" {
		m, ok := parseMutability(item.StateMutability)
		if !ok {
			return 0, errors.Parse("INVALID_MUTABILITY", "无效的stateMutability: %q", item.StateMutability)
		}
		return m, nil
	}
	if item.Constant != nil && *item.Constant {
		return View, nil
	}
	if item.Payable != nil && *item.Payable {
		return Payable, nil
	}
	return Nonpayable, nil
}

func parseParameters(items []jsonParameter, allowIndexed bool) (Parameters, error) {
	params := make(Parameters, 0, len(items))
	for _, item := range items {
		p, err := parseParameter(item)
		if err != nil {
			return nil, err
		}
		p.Indexed = allowIndexed && item.Indexed
		params = append(params, p)
	}
	return params, nil
}

func parseParameter(item jsonParameter) (Parameter, error) {
	var components []Parameter
	if len(item.Components) > 0 {
		parsed, err := parseParameters(item.Components, false)
		if err != nil {
			return Parameter{}, err
		}
		components = parsed
	}

	t, err := NewType(item.Type, components)
	if err != nil {
		if ce, ok := err.(*errors.ContractError); ok {
			return Parameter{}, ce.WithContext("parameter", item.Name)
		}
		return Parameter{}, err
	}

	return Parameter{Name: item.Name, Type: t, Components: components}, nil
}

// Function 按名称查找函数
func (r *Registry) Function(name string) (*Function, error) {
	f, ok := r.functions[name]
	if !ok {
		return nil, errors.NotFound("FUNCTION_NOT_FOUND", "函数不存在: %s", name)
	}
	return f, nil
}

// Event 按名称查找事件
func (r *Registry) Event(name string) (*Event, error) {
	e, ok := r.events[name]
	if !ok {
		return nil, errors.NotFound("EVENT_NOT_FOUND", "事件不存在: %s", name)
	}
	return e, nil
}

// Constructor 返回构造函数，ABI未声明时为nil
func (r *Registry) Constructor() *Constructor {
	return r.constructor
}

// FunctionBySelector 按选择器查找函数
func (r *Registry) FunctionBySelector(sel Selector) (*Function, bool) {
	f, ok := r.selectors[sel]
	return f, ok
}

// EventByTopic 按topic0查找事件
func (r *Registry) EventByTopic(topic common.Hash) (*Event, bool) {
	e, ok := r.topics[topic]
	return e, ok
}

// FunctionNames 返回排序后的函数名
func (r *Registry) FunctionNames() []string {
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EventNames 返回排序后的事件名
func (r *Registry) EventNames() []string {
	names := make([]string, 0, len(r.events))
	for name := range r.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries 返回按声明顺序保留的条目
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// JSON 返回原始ABI文本
func (r *Registry) JSON() json.RawMessage {
	return r.raw
}
