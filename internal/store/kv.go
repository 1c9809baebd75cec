// Package store provides the key-value persistence used for recovery
// records and live switch/current state mirrors.
package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// KV is a string key-value store shared by all workers.
// Implementations must be safe for concurrent use.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Well-known keys.
const (
	// KeyIntervalRecords holds the JSON list of interval toggle records.
	KeyIntervalRecords = "interval_automated_switches"
)

// SwitchKey is the mirror key for a device's last commanded switch state.
func SwitchKey(name string) string { return "switch/" + name }

// CurrentKey is the mirror key for a device's last sensed current state.
func CurrentKey(name string) string { return "current/" + name }
