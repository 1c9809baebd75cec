package store

import (
	"context"
	"sync"
)

// FakeKV is an in-memory KV for tests.
type FakeKV struct {
	mu   sync.Mutex
	data map[string]string

	// GetError, if set, is returned by Get.
	GetError error

	// SetError, if set, is returned by Set.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeKV creates an empty FakeKV.
func NewFakeKV() *FakeKV {
	return &FakeKV{data: make(map[string]string)}
}

// Get returns the stored value.
func (f *FakeKV) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetError != nil {
		return "", false, f.GetError
	}
	v, ok := f.data[key]
	return v, ok, nil
}

// Set stores the value.
func (f *FakeKV) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.data[key] = value
	return nil
}

// Delete removes the key.
func (f *FakeKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

// Close marks the store as closed.
func (f *FakeKV) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Put stores a value without going through error injection.
func (f *FakeKV) Put(key, value string) {
	f.mu.Lock()
	f.data[key] = value
	f.mu.Unlock()
}

// Value returns the stored value, or "" if absent.
func (f *FakeKV) Value(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key]
}
