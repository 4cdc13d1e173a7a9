package leadcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/domain/lead"
	"crmdash/internal/errs"
	"crmdash/internal/ports"
)

type StatusUpdate struct {
	CollectionUpdated bool
	DetailUpdated     bool
}

// UpdateStatus rewrites status and activity marker of leadID in the
// collection and detail namespaces as one unit: on any failure neither
// namespace changes. Absent entries are not created and TTLs are not extended.
func (s *Store) UpdateStatus(ctx context.Context, leadID string, status lead.Status, at time.Time) (StatusUpdate, error) {
	if ctx == nil {
		return StatusUpdate{}, errors.New("context is required")
	}
	if leadID == "" {
		return StatusUpdate{}, lead.ErrLeadIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result StatusUpdate
	err := s.atomically(ctx, func(ctx context.Context) error {
		result = StatusUpdate{}

		var payload collectionPayload
		if s.loadDocument(ctx, NamespaceLeads, &payload) && !s.expired(payload.Timestamp) {
			for i := range payload.Leads {
				if payload.Leads[i].ID == leadID {
					payload.Leads[i] = payload.Leads[i].WithStatus(status, at)
					result.CollectionUpdated = true
				}
			}
			if result.CollectionUpdated {
				if err := s.saveDocument(ctx, NamespaceLeads, payload); err != nil {
					return errs.Wrap(err, "update collection entry")
				}
			}
		}

		items, ok := s.loadEntries(ctx, NamespaceDetails)
		if !ok {
			return nil
		}
		raw, exists := items[leadID]
		if !exists {
			return nil
		}
		var record detailRecord
		if err := json.Unmarshal(raw, &record); err != nil || s.expired(record.Timestamp) {
			return nil
		}
		record.Lead = record.Lead.WithStatus(status, at)
		updated, err := json.Marshal(record)
		if err != nil {
			return errs.Wrap(err, "encode detail entry")
		}
		items[leadID] = updated
		if err := s.saveEntries(ctx, NamespaceDetails, items); err != nil {
			return errs.Wrap(err, "update detail entry")
		}
		result.DetailUpdated = true
		return nil
	})
	if err != nil {
		logCtx := s.logCtx(ctx, NamespaceDetails)
		logging.Warn(logCtx, "local status update rolled back", slog.String("lead_id", leadID), slog.Any("err", errs.Loggable(err)))
		if errors.Is(err, ports.ErrQuotaExceeded) {
			s.clearAll(ctx, "quota")
		}
		return StatusUpdate{}, err
	}
	return result, nil
}

// atomically runs fn in a storage unit of work. Without one it snapshots the
// collection and detail documents and writes them back if fn fails.
func (s *Store) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.work != nil {
		return s.work.WithTx(ctx, fn)
	}

	type snapshot struct {
		raw   string
		found bool
	}
	touched := []Namespace{NamespaceLeads, NamespaceDetails}
	before := make(map[Namespace]snapshot, len(touched))
	for _, ns := range touched {
		raw, found, err := s.storage.Get(ctx, ns.StorageKey())
		if err != nil {
			return errs.Wrap(err, "snapshot before update")
		}
		before[ns] = snapshot{raw: raw, found: found}
	}

	fnErr := fn(ctx)
	if fnErr == nil {
		return nil
	}

	restoreErrs := []error{fnErr}
	for _, ns := range touched {
		prev := before[ns]
		var err error
		if prev.found {
			err = s.storage.Set(ctx, ns.StorageKey(), prev.raw)
		} else {
			err = s.storage.Remove(ctx, ns.StorageKey())
		}
		if err != nil {
			restoreErrs = append(restoreErrs, errs.Wrapf(err, "restore %s", ns))
		}
	}
	return errors.Join(restoreErrs...)
}
