package leadcache

import (
	"context"
	"log/slog"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/domain/lead"
)

// ReadLeads returns the cached collection for identity. An expired collection
// is removed whoever reads it; a live one stored for a different
// (employeeId, email) pair is a miss and is left in place.
func (s *Store) ReadLeads(ctx context.Context, identity lead.Identity) ([]lead.Lead, bool) {
	if ctx == nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var payload collectionPayload
	if !s.loadDocument(ctx, NamespaceLeads, &payload) {
		s.metrics.Miss(NamespaceLeads)
		return nil, false
	}

	if s.expired(payload.Timestamp) {
		logging.Debug(s.logCtx(ctx, NamespaceLeads), "cached collection expired",
			slog.Duration("age", s.age(payload.Timestamp)),
		)
		s.removeKey(ctx, NamespaceLeads)
		s.metrics.Expire(NamespaceLeads)
		s.metrics.Miss(NamespaceLeads)
		return nil, false
	}

	if !identity.SameTuple(payload.EmployeeID, payload.Email) {
		logging.Debug(s.logCtx(ctx, NamespaceLeads), "cached collection belongs to another identity",
			slog.String("identity", identity.String()),
		)
		s.metrics.Miss(NamespaceLeads)
		return nil, false
	}

	s.metrics.Hit(NamespaceLeads)
	out := make([]lead.Lead, len(payload.Leads))
	copy(out, payload.Leads)
	return out, true
}

// WriteLeads replaces the collection with leads for identity. It never
// touches the detail namespace.
func (s *Store) WriteLeads(ctx context.Context, identity lead.Identity, leads []lead.Lead) {
	if ctx == nil {
		return
	}
	if leads == nil {
		leads = []lead.Lead{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.write(ctx, NamespaceLeads, func(ctx context.Context) error {
		return s.saveDocument(ctx, NamespaceLeads, collectionPayload{
			Leads:      leads,
			Timestamp:  s.now(),
			EmployeeID: identity.EmployeeID,
			Email:      identity.Email,
		})
	})
}

func (s *Store) ReadLead(ctx context.Context, leadID string) (lead.Lead, bool) {
	record, ok := readEntry[detailRecord](ctx, s, NamespaceDetails, leadID)
	if !ok {
		return lead.Lead{}, false
	}
	return record.Lead, true
}

func (s *Store) WriteLead(ctx context.Context, item lead.Lead) {
	writeEntry(ctx, s, NamespaceDetails, item.ID, detailRecord{Lead: item, Timestamp: s.now()})
}

func (s *Store) ReadComments(ctx context.Context, leadID string) ([]lead.Comment, bool) {
	record, ok := readEntry[commentsRecord](ctx, s, NamespaceComments, leadID)
	if !ok {
		return nil, false
	}
	if record.Comments == nil {
		record.Comments = []lead.Comment{}
	}
	return record.Comments, true
}

func (s *Store) WriteComments(ctx context.Context, leadID string, comments []lead.Comment) {
	if comments == nil {
		comments = []lead.Comment{}
	}
	writeEntry(ctx, s, NamespaceComments, leadID, commentsRecord{Comments: comments, Timestamp: s.now()})
}

func (s *Store) ReadTasks(ctx context.Context, leadID string) ([]lead.Task, bool) {
	record, ok := readEntry[tasksRecord](ctx, s, NamespaceTasks, leadID)
	if !ok {
		return nil, false
	}
	if record.Tasks == nil {
		record.Tasks = []lead.Task{}
	}
	return record.Tasks, true
}

func (s *Store) WriteTasks(ctx context.Context, leadID string, tasks []lead.Task) {
	if tasks == nil {
		tasks = []lead.Task{}
	}
	writeEntry(ctx, s, NamespaceTasks, leadID, tasksRecord{Tasks: tasks, Timestamp: s.now()})
}
