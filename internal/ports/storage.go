package ports

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by Storage.Set when the write would exceed the storage quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Storage is the persistent key-value capability behind the lead cache.
// Adapters may be backed by SQLite or memory; values are opaque strings.
type Storage interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
	// SizeEstimate reports the footprint of every stored key and value,
	// counted as UTF-16 code units times two.
	SizeEstimate(ctx context.Context) (int64, error)
}
