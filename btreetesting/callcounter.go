package btreetesting

import (
	"context"
	"sync"
)

type TestCallCounter struct {
	mu          sync.Mutex
	MethodCalls map[string]int
}

func (r *TestCallCounter) IncMethodCall(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.MethodCalls == nil {
		r.MethodCalls = make(map[string]int)
	}
	r.MethodCalls[name]++
	return r.MethodCalls[name]
}

func (r *TestCallCounter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.MethodCalls = make(map[string]int)
}

func (r *TestCallCounter) MethodCallCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.MethodCalls[name]
}

type objectStore interface {
	Put(ctx context.Context, path string, data []byte, failIfExists bool) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// CountingStore wraps an object store and counts the calls made on it.
type CountingStore struct {
	TestCallCounter
	Store objectStore
}

func (s *CountingStore) Put(ctx context.Context, path string, data []byte, failIfExists bool) error {
	s.IncMethodCall("Put")
	return s.Store.Put(ctx, path, data, failIfExists)
}

func (s *CountingStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.IncMethodCall("Get")
	return s.Store.Get(ctx, path)
}
