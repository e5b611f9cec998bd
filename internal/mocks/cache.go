package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockCache is an in-memory stand-in for the redis cache. Function fields
// override individual operations when set.
type MockCache struct {
	mu    sync.Mutex
	data  map[string]string
	lists map[string][]string

	GetFunc      func(ctx context.Context, key string) (string, error)
	SetFunc      func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DeleteFunc   func(ctx context.Context, key string) error
	PushListFunc func(ctx context.Context, key string, value interface{}) error
	PopListFunc  func(ctx context.Context, key string, timeout time.Duration) (string, error)
	ListLenFunc  func(ctx context.Context, key string) (int64, error)
	PingFunc     func() error
}

func NewMockCache() *MockCache {
	return &MockCache{
		data:  make(map[string]string),
		lists: make(map[string][]string),
	}
}

func (m *MockCache) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *MockCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, expiration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (m *MockCache) Delete(ctx context.Context, key string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockCache) PushList(ctx context.Context, key string, value interface{}) error {
	if m.PushListFunc != nil {
		return m.PushListFunc(ctx, key, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], fmt.Sprintf("%v", value))
	return nil
}

func (m *MockCache) PopList(ctx context.Context, key string, timeout time.Duration) (string, error) {
	if m.PopListFunc != nil {
		return m.PopListFunc(ctx, key, timeout)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if len(list) == 0 {
		return "", nil
	}
	head := list[0]
	m.lists[key] = list[1:]
	return head, nil
}

func (m *MockCache) ListLen(ctx context.Context, key string) (int64, error) {
	if m.ListLenFunc != nil {
		return m.ListLenFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *MockCache) Ping() error {
	if m.PingFunc != nil {
		return m.PingFunc()
	}
	return nil
}

func (m *MockCache) Close() error { return nil }
