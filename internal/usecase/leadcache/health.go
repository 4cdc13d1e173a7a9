package leadcache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/errs"
)

const DefaultHealthCheckInterval = time.Hour

type HealthReport struct {
	Expired int
	Evicted int
	Cleared bool
	Bytes   int64
}

// HealthCheck drops expired entries in every namespace, enforces the entry
// bound and clears the cache if the footprint is still above the ceiling.
func (s *Store) HealthCheck(ctx context.Context) HealthReport {
	var report HealthReport
	if ctx == nil {
		return report
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var payload collectionPayload
	if s.loadDocument(ctx, NamespaceLeads, &payload) && s.expired(payload.Timestamp) {
		s.removeKey(ctx, NamespaceLeads)
		s.metrics.Expire(NamespaceLeads)
		report.Expired++
	}

	for _, ns := range perLeadNamespaces() {
		items, ok := s.loadEntries(ctx, ns)
		if !ok {
			continue
		}
		dropped := 0
		for id, raw := range items {
			ts, stamped := recordTimestamp(raw)
			if !stamped || s.expired(ts) {
				delete(items, id)
				dropped++
			}
		}
		kept, evicted := trimEntries(items, s.options.MaxEntries, "")
		if dropped == 0 && evicted == 0 {
			continue
		}
		if err := s.saveEntries(ctx, ns, kept); err != nil {
			logging.Warn(s.logCtx(ctx, ns), "persist health check result failed", slog.Any("err", errs.Loggable(err)))
			continue
		}
		for i := 0; i < dropped; i++ {
			s.metrics.Expire(ns)
		}
		s.metrics.Evict(ns, evicted)
		report.Expired += dropped
		report.Evicted += evicted
	}

	size, err := s.storage.SizeEstimate(ctx)
	if err != nil {
		logging.Warn(s.logCtx(ctx, NamespaceLeads), "cache size estimate failed", slog.Any("err", errs.Loggable(err)))
		return report
	}
	if size > s.options.SizeCeiling {
		s.clearAll(ctx, "health")
		report.Cleared = true
		size = 0
	}
	report.Bytes = size
	return report
}

type NamespaceStats struct {
	Namespace Namespace
	Entries   int
	// Owner is the identity of the cached collection; empty for other namespaces.
	Owner string
}

type Stats struct {
	Namespaces []NamespaceStats
	Bytes      int64
}

func (st Stats) Entries(ns Namespace) int {
	for _, item := range st.Namespaces {
		if item.Namespace == ns {
			return item.Entries
		}
	}
	return 0
}

// Stats reports entry counts without expiring anything.
func (s *Store) Stats(ctx context.Context) Stats {
	var stats Stats
	if ctx == nil {
		return stats
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	collection := NamespaceStats{Namespace: NamespaceLeads}
	var payload collectionPayload
	if s.loadDocument(ctx, NamespaceLeads, &payload) {
		collection.Entries = len(payload.Leads)
		collection.Owner = payload.EmployeeID + "/" + payload.Email
	}
	stats.Namespaces = append(stats.Namespaces, collection)

	for _, ns := range perLeadNamespaces() {
		item := NamespaceStats{Namespace: ns}
		if items, ok := s.loadEntries(ctx, ns); ok {
			item.Entries = len(items)
		}
		stats.Namespaces = append(stats.Namespaces, item)
	}

	if size, err := s.storage.SizeEstimate(ctx); err == nil {
		stats.Bytes = size
	}
	return stats
}

// Monitor runs the periodic health check and reacts to visibility changes.
type Monitor struct {
	store    *Store
	interval time.Duration

	mu     sync.Mutex
	hidden bool
}

func NewMonitor(store *Store, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	return &Monitor{store: store, interval: interval}
}

// SetVisible records a visibility change. Becoming visible after being
// hidden runs a health check, whose report is returned with true.
func (m *Monitor) SetVisible(ctx context.Context, visible bool) (HealthReport, bool) {
	m.mu.Lock()
	wasHidden := m.hidden
	m.hidden = !visible
	m.mu.Unlock()

	if !visible || !wasHidden {
		return HealthReport{}, false
	}

	report := m.store.HealthCheck(ctx)
	logging.Info(logging.WithAttrs(ctx, slog.String("component", "leadcache.monitor")), "health check on visibility",
		slog.Int("expired", report.Expired),
		slog.Int("evicted", report.Evicted),
		slog.Bool("cleared", report.Cleared),
	)
	return report, true
}

// Run blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "leadcache.monitor"))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errs.Wrap(ctx.Err(), "cache monitor stopped")
		case <-ticker.C:
			report := m.store.HealthCheck(ctx)
			logging.Info(logCtx, "periodic cache health check",
				slog.Int("expired", report.Expired),
				slog.Int("evicted", report.Evicted),
				slog.Bool("cleared", report.Cleared),
				slog.Int64("bytes", report.Bytes),
			)
		}
	}
}
