// Package connectiontest 提供记录请求的内存Channel，供各包测试使用
package connectiontest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"contractkit/internal/connection"
)

var _ connection.Channel = (*StubChannel)(nil)

// StubRequest StubChannel记录的一次请求
type StubRequest struct {
	Method string
	Args   []interface{}
}

// StubHandler 按请求参数返回结果，结果经JSON往返后写入调用方的result
type StubHandler func(args []interface{}) (interface{}, error)

// StubChannel 内存中的Channel实现，记录所有请求并按方法返回预设响应
type StubChannel struct {
	mu       sync.Mutex
	handlers map[string]StubHandler
	requests []StubRequest
}

// NewStubChannel 创建StubChannel
func NewStubChannel() *StubChannel {
	return &StubChannel{handlers: make(map[string]StubHandler)}
}

// Handle 注册方法处理函数
func (s *StubChannel) Handle(method string, h StubHandler) *StubChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
	return s
}

// Respond 为方法注册固定响应
func (s *StubChannel) Respond(method string, result interface{}) *StubChannel {
	return s.Handle(method, func([]interface{}) (interface{}, error) { return result, nil })
}

// Fail 让方法固定返回错误
func (s *StubChannel) Fail(method string, err error) *StubChannel {
	return s.Handle(method, func([]interface{}) (interface{}, error) { return nil, err })
}

// CallContext 实现Channel
func (s *StubChannel) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	s.mu.Lock()
	s.requests = append(s.requests, StubRequest{Method: method, Args: args})
	h, ok := s.handlers[method]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("the method %s does not exist/is not available", method)
	}

	value, err := h(args)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	// 经过JSON往返，与真实节点响应的解码路径一致
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化模拟响应失败: %w", err)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("解析模拟响应失败: %w", err)
	}
	return nil
}

// Requests 返回所有已记录请求的副本
func (s *StubChannel) Requests() []StubRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StubRequest(nil), s.requests...)
}

// Count 返回某方法的请求次数
func (s *StubChannel) Count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

// Reset 清空请求记录
func (s *StubChannel) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}
