package leadcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/errs"
	"crmdash/internal/ports"
)

// Store is the namespaced TTL cache in front of persistent storage. It owns
// every entry lifetime: creation, expiry checks and eviction. Storage failures
// never escape a read or write; they degrade to a miss or a dropped write.
type Store struct {
	mu      sync.Mutex
	storage ports.Storage
	work    ports.UnitOfWork
	clock   ports.Clock
	metrics Metrics
	options Options
}

// New wires a store. work may be nil, in which case multi-namespace updates
// fall back to restoring the previous documents on failure.
func New(storage ports.Storage, work ports.UnitOfWork, clock ports.Clock, metrics Metrics, options Options) *Store {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Store{
		storage: storage,
		work:    work,
		clock:   clock,
		metrics: metrics,
		options: options.withDefaults(),
	}
}

func (s *Store) Options() Options { return s.options }

func (s *Store) now() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *Store) expired(writtenAt int64) bool {
	return s.now()-writtenAt > s.options.TTL.Milliseconds()
}

func (s *Store) logCtx(ctx context.Context, ns Namespace) context.Context {
	return logging.WithAttrs(ctx,
		slog.String("component", "leadcache.store"),
		slog.String("namespace", string(ns)),
	)
}

// loadDocument decodes a namespace document into payload. Missing, corrupt
// and version-mismatched documents all report false; the latter two are removed.
func (s *Store) loadDocument(ctx context.Context, ns Namespace, payload any) bool {
	raw, found, err := s.storage.Get(ctx, ns.StorageKey())
	if err != nil {
		logging.Warn(s.logCtx(ctx, ns), "cache storage read failed", slog.Any("err", errs.Loggable(err)))
		return false
	}
	if !found {
		return false
	}

	if _, err := decodeEnvelope(raw, payload); err != nil {
		logging.Warn(s.logCtx(ctx, ns), "dropping unreadable cache document", slog.Any("err", errs.Loggable(err)))
		s.removeKey(ctx, ns)
		return false
	}
	return true
}

func (s *Store) saveDocument(ctx context.Context, ns Namespace, payload any) error {
	raw, err := encodeEnvelope(payload, s.now())
	if err != nil {
		return err
	}
	return s.storage.Set(ctx, ns.StorageKey(), raw)
}

func (s *Store) removeKey(ctx context.Context, ns Namespace) {
	if err := s.storage.Remove(ctx, ns.StorageKey()); err != nil {
		logging.Warn(s.logCtx(ctx, ns), "cache storage remove failed", slog.Any("err", errs.Loggable(err)))
	}
}

func (s *Store) loadEntries(ctx context.Context, ns Namespace) (entries, bool) {
	var items entries
	if !s.loadDocument(ctx, ns, &items) {
		return nil, false
	}
	if items == nil {
		items = entries{}
	}
	return items, true
}

// saveEntries removes the namespace key instead of persisting an empty map.
func (s *Store) saveEntries(ctx context.Context, ns Namespace, items entries) error {
	if len(items) == 0 {
		return s.storage.Remove(ctx, ns.StorageKey())
	}
	return s.saveDocument(ctx, ns, items)
}

// write runs the pre-write cleanup pass and then apply. A quota failure
// clears every namespace and retries apply once; a second failure is logged
// and swallowed. apply must reload whatever it reads so the retry starts clean.
func (s *Store) write(ctx context.Context, ns Namespace, apply func(ctx context.Context) error) {
	logCtx := s.logCtx(ctx, ns)

	s.cleanup(ctx)

	err := apply(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, ports.ErrQuotaExceeded) {
		s.metrics.WriteFailure(ns)
		logging.Warn(logCtx, "cache write failed", slog.Any("err", errs.Loggable(err)))
		return
	}

	logging.Warn(logCtx, "storage quota exceeded, clearing cache and retrying", slog.Any("err", errs.Loggable(err)))
	s.clearAll(ctx, "quota")

	if err := apply(ctx); err != nil {
		s.metrics.WriteFailure(ns)
		logging.Error(logCtx, "cache write dropped after quota retry", slog.Any("err", errs.Loggable(err)))
	}
}

// cleanup enforces the per-namespace bound and clears everything when the
// estimated footprint is above the ceiling.
func (s *Store) cleanup(ctx context.Context) {
	for _, ns := range perLeadNamespaces() {
		s.enforceBound(ctx, ns)
	}

	size, err := s.storage.SizeEstimate(ctx)
	if err != nil {
		logging.Warn(s.logCtx(ctx, NamespaceLeads), "cache size estimate failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	if size > s.options.SizeCeiling {
		logging.Info(s.logCtx(ctx, NamespaceLeads), "cache footprint above ceiling, clearing",
			slog.Int64("bytes", size),
			slog.Int64("ceiling", s.options.SizeCeiling),
		)
		s.clearAll(ctx, "size")
	}
}

func (s *Store) enforceBound(ctx context.Context, ns Namespace) int {
	items, ok := s.loadEntries(ctx, ns)
	if !ok || len(items) <= s.options.MaxEntries {
		return 0
	}

	kept, evicted := trimEntries(items, s.options.MaxEntries, "")
	if err := s.saveEntries(ctx, ns, kept); err != nil {
		logging.Warn(s.logCtx(ctx, ns), "persist trimmed namespace failed", slog.Any("err", errs.Loggable(err)))
		return 0
	}
	s.metrics.Evict(ns, evicted)
	return evicted
}

func (s *Store) clearAll(ctx context.Context, reason string) {
	for _, ns := range Namespaces() {
		s.removeKey(ctx, ns)
	}
	s.metrics.Clear(reason)
	logging.Info(logging.WithAttrs(ctx, slog.String("component", "leadcache.store")), "cache cleared", slog.String("reason", reason))
}

// ClearAll removes every namespace.
func (s *Store) ClearAll(ctx context.Context) {
	if ctx == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearAll(ctx, "explicit")
}

// Invalidate removes one entry. For NamespaceLeads the leadID is ignored and
// the whole collection is dropped.
func (s *Store) Invalidate(ctx context.Context, ns Namespace, leadID string) {
	if ctx == nil || !ns.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ns == NamespaceLeads {
		s.removeKey(ctx, ns)
		return
	}

	items, ok := s.loadEntries(ctx, ns)
	if !ok {
		return
	}
	if _, exists := items[leadID]; !exists {
		return
	}
	delete(items, leadID)
	if err := s.saveEntries(ctx, ns, items); err != nil {
		logging.Warn(s.logCtx(ctx, ns), "invalidate entry failed", slog.Any("err", errs.Loggable(err)))
	}
}

// InvalidateLeads drops the lead collection regardless of its identity.
func (s *Store) InvalidateLeads(ctx context.Context) {
	s.Invalidate(ctx, NamespaceLeads, "")
}

// readEntry is shared by the per-lead namespaces. Expired or unreadable
// records are dropped from the namespace before reporting a miss.
func readEntry[R any](ctx context.Context, s *Store, ns Namespace, leadID string) (R, bool) {
	var zero R
	if ctx == nil || leadID == "" {
		return zero, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, ok := s.loadEntries(ctx, ns)
	if !ok {
		s.metrics.Miss(ns)
		return zero, false
	}
	raw, ok := items[leadID]
	if !ok {
		s.metrics.Miss(ns)
		return zero, false
	}

	var record R
	ts, stamped := recordTimestamp(raw)
	decodeErr := json.Unmarshal(raw, &record)
	if !stamped || decodeErr != nil || s.expired(ts) {
		if stamped && decodeErr == nil {
			s.metrics.Expire(ns)
		}
		delete(items, leadID)
		if err := s.saveEntries(ctx, ns, items); err != nil {
			logging.Warn(s.logCtx(ctx, ns), "drop stale entry failed", slog.Any("err", errs.Loggable(err)))
		}
		s.metrics.Miss(ns)
		return zero, false
	}

	s.metrics.Hit(ns)
	return record, true
}

func writeEntry(ctx context.Context, s *Store, ns Namespace, leadID string, record any) {
	if ctx == nil || leadID == "" {
		return
	}
	raw, err := json.Marshal(record)
	if err != nil {
		logging.Warn(s.logCtx(ctx, ns), "encode cache record failed", slog.Any("err", errs.Loggable(err)))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.write(ctx, ns, func(ctx context.Context) error {
		items, ok := s.loadEntries(ctx, ns)
		if !ok {
			items = entries{}
		}
		items[leadID] = raw

		kept, evicted := trimEntries(items, s.options.MaxEntries, leadID)
		if err := s.saveEntries(ctx, ns, kept); err != nil {
			return err
		}
		s.metrics.Evict(ns, evicted)
		return nil
	})
}

func (s *Store) age(writtenAt int64) time.Duration {
	return time.Duration(s.now()-writtenAt) * time.Millisecond
}
