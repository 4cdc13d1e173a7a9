package storage

import (
	"context"
	"errors"
	"strings"
	"sync"

	"crmdash/internal/errs"
	"crmdash/internal/ports"
)

// MemoryStorage is an in-process Storage used by tests and ephemeral sessions.
// It also implements ports.UnitOfWork by snapshotting the map.
type MemoryStorage struct {
	mu         sync.Mutex
	txMu       sync.Mutex
	data       map[string]string
	quotaBytes int64
}

var (
	_ ports.Storage    = (*MemoryStorage)(nil)
	_ ports.UnitOfWork = (*MemoryStorage)(nil)
)

func NewMemoryStorage(quotaBytes int64) *MemoryStorage {
	return &MemoryStorage{
		data:       make(map[string]string),
		quotaBytes: quotaBytes,
	}
}

func (s *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[trimmedKey]
	return value, ok, nil
}

func (s *MemoryStorage) Set(ctx context.Context, key string, value string) error {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quotaBytes > 0 {
		var others int64
		for k, v := range s.data {
			if k != trimmedKey {
				others += entryBytes(k, v)
			}
		}
		if others+entryBytes(trimmedKey, value) > s.quotaBytes {
			return errs.Wrapf(ports.ErrQuotaExceeded, "set %q", trimmedKey)
		}
	}

	s.data[trimmedKey] = value
	return nil
}

func (s *MemoryStorage) Remove(ctx context.Context, key string) error {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, trimmedKey)
	return nil
}

func (s *MemoryStorage) SizeEstimate(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for k, v := range s.data {
		total += entryBytes(k, v)
	}
	return total, nil
}

// Keys returns the stored keys; intended for tests and diagnostics.
func (s *MemoryStorage) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// WithTx restores the pre-transaction contents when fn fails.
func (s *MemoryStorage) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := make(map[string]string, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if err := fn(ports.WithTxContext(ctx, s)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func checkKey(ctx context.Context, key string) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(err, "check context")
	}

	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return "", errors.New("key is required")
	}
	return trimmedKey, nil
}
