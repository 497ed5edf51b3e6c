package tokenstore

import (
	"context"
)

// Change describes a write made through another store handle
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`

	// Origin of the handle that made the change
	Origin string `json:"origin"`
}

// Store is a durable key-value storage for tokens and profile fields
//
// Several handles may share one backend. Writes are visible to the writing handle as soon as the call returns,
// other handles learn about them through Subscribe. A handle never observes its own changes.
// No validation of stored values happens here, it's up to the caller.
type Store interface {
	// Identity of the handle
	Origin() string

	// Return stored value
	// Must not fail: backend errors are reported as absent value
	Get(ctx context.Context, key string) (string, bool)

	// Write value synchronously
	Set(ctx context.Context, key string, value string) error

	// Remove keys
	Clear(ctx context.Context, keys ...string) error

	// Subscribe to changes of key made by other handles
	// Callbacks are called one at a time in order the changes were observed
	Subscribe(key string, fn func(Change)) (unsubscribe func())

	// Stop change delivery and release resources owned by the handle
	Close() error
}
