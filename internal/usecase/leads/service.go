package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/domain/lead"
	"crmdash/internal/errs"
	"crmdash/internal/ports"
	"crmdash/internal/usecase/leadcache"
)

// ErrFetchFailed marks transport failures from a data source. They are never
// retried here and never replaced by a fabricated value.
var ErrFetchFailed = errors.New("lead fetch failed")

// DefaultFetchTimeout bounds one shared data-source call.
const DefaultFetchTimeout = 30 * time.Second

type Service struct {
	cache    *leadcache.Store
	source   ports.LeadSource
	comments ports.CommentSource
	tasks    ports.TaskSource
	clock    ports.Clock

	fetchTimeout time.Duration

	// group coalesces concurrent cache-miss fetches for one identity.
	group singleflight.Group

	seqMu       sync.Mutex
	issuedSeq   uint64
	writtenSeq  uint64
	discardHook func(seq uint64)
}

type Option func(*Service)

func WithCommentSource(source ports.CommentSource) Option {
	return func(s *Service) { s.comments = source }
}

func WithTaskSource(source ports.TaskSource) Option {
	return func(s *Service) { s.tasks = source }
}

func WithFetchTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.fetchTimeout = timeout
		}
	}
}

// NewService wires the cache-first lead lookups.
func NewService(cache *leadcache.Store, source ports.LeadSource, clock ports.Clock, options ...Option) *Service {
	s := &Service{
		cache:        cache,
		source:       source,
		clock:        clock,
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func checkRequest(ctx context.Context, identity lead.Identity) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	return identity.Validate()
}

func (s *Service) logCtx(ctx context.Context) context.Context {
	return logging.WithAttrs(ctx, slog.String("component", "leads.service"))
}

// GetLeads serves the collection from cache or, on a miss, from the data source.
func (s *Service) GetLeads(ctx context.Context, identity lead.Identity) ([]lead.Lead, error) {
	if err := checkRequest(ctx, identity); err != nil {
		return nil, err
	}

	if cached, ok := s.cache.ReadLeads(ctx, identity); ok {
		logging.Debug(s.logCtx(ctx), "leads served from cache", slog.Int("count", len(cached)))
		return cached, nil
	}
	return s.fetch(ctx, identity)
}

// Refresh clears every cache namespace and re-fetches the collection. It never
// joins a fetch that started before the clear.
func (s *Service) Refresh(ctx context.Context, identity lead.Identity) ([]lead.Lead, error) {
	if err := checkRequest(ctx, identity); err != nil {
		return nil, err
	}

	s.cache.ClearAll(ctx)
	s.group.Forget(identity.String())
	logging.Info(s.logCtx(ctx), "cache cleared for refresh", slog.String("identity", identity.String()))
	return s.fetch(ctx, identity)
}

// fetch shares one data-source call per identity. The call runs detached from
// every caller's cancellation, bounded by fetchTimeout; a caller that gives up
// returns its own context error while the others keep waiting.
func (s *Service) fetch(ctx context.Context, identity lead.Identity) ([]lead.Lead, error) {
	if s.source == nil {
		return nil, errors.New("lead source is required")
	}

	results := s.group.DoChan(identity.String(), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()

		seq := s.nextSeq()
		raws, err := s.source.FetchLeads(fetchCtx, identity)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}

		leads := lead.NormalizeAll(raws)
		s.storeIfLatest(fetchCtx, identity, seq, leads)
		logging.Info(s.logCtx(fetchCtx), "leads fetched",
			slog.String("identity", identity.String()),
			slog.Int("count", len(leads)),
			slog.Uint64("seq", seq),
		)
		return leads, nil
	})

	var result singleflight.Result
	select {
	case result = <-results:
	case <-ctx.Done():
		return nil, errs.Wrap(ctx.Err(), "wait for lead fetch")
	}
	if result.Err != nil {
		logging.Warn(s.logCtx(ctx), "lead fetch failed", slog.Any("err", errs.Loggable(result.Err)))
		return nil, result.Err
	}
	if result.Shared {
		logging.Debug(s.logCtx(ctx), "lead fetch coalesced", slog.String("identity", identity.String()))
	}

	leads := result.Val.([]lead.Lead)
	out := make([]lead.Lead, len(leads))
	copy(out, leads)
	return out, nil
}

func (s *Service) nextSeq() uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.issuedSeq++
	return s.issuedSeq
}

// storeIfLatest drops responses older than the last one written to the
// collection cache. The caller still receives its own response.
func (s *Service) storeIfLatest(ctx context.Context, identity lead.Identity, seq uint64, leads []lead.Lead) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if seq < s.writtenSeq {
		logging.Info(s.logCtx(ctx), "discarding stale lead response",
			slog.Uint64("seq", seq),
			slog.Uint64("written_seq", s.writtenSeq),
		)
		if s.discardHook != nil {
			s.discardHook(seq)
		}
		return
	}
	s.writtenSeq = seq
	s.cache.WriteLeads(ctx, identity, leads)
}

// GetLeadByID checks the detail cache, then scans the collection. A missing
// lead is reported with ok=false and a nil error.
func (s *Service) GetLeadByID(ctx context.Context, id string, identity lead.Identity) (lead.Lead, bool, error) {
	leadID := strings.TrimSpace(id)
	if leadID == "" {
		return lead.Lead{}, false, lead.ErrLeadIDRequired
	}
	if err := checkRequest(ctx, identity); err != nil {
		return lead.Lead{}, false, err
	}

	if cached, ok := s.cache.ReadLead(ctx, leadID); ok {
		return cached, true, nil
	}

	leads, err := s.GetLeads(ctx, identity)
	if err != nil {
		return lead.Lead{}, false, err
	}
	for _, item := range leads {
		if item.ID == leadID {
			s.cache.WriteLead(ctx, item)
			return item, true, nil
		}
	}
	return lead.Lead{}, false, nil
}

// UpdateLocalStatus applies an optimistic status change to the cached copies
// of a lead without contacting the data source. Storage failures leave both
// namespaces untouched and are not reported; only invalid input is.
func (s *Service) UpdateLocalStatus(ctx context.Context, id string, status lead.Status) (leadcache.StatusUpdate, error) {
	if ctx == nil {
		return leadcache.StatusUpdate{}, errors.New("context is required")
	}
	leadID := strings.TrimSpace(id)
	if leadID == "" {
		return leadcache.StatusUpdate{}, lead.ErrLeadIDRequired
	}
	parsed, err := lead.ParseStatus(string(status))
	if err != nil {
		return leadcache.StatusUpdate{}, err
	}

	result, err := s.cache.UpdateStatus(ctx, leadID, parsed, s.clock.Now())
	if err != nil {
		logging.Warn(s.logCtx(ctx), "local status update skipped",
			slog.String("lead_id", leadID),
			slog.Any("err", errs.Loggable(err)),
		)
		return leadcache.StatusUpdate{}, nil
	}
	return result, nil
}

// GetComments is cache first; without a comment source a miss yields an empty list.
func (s *Service) GetComments(ctx context.Context, id string) ([]lead.Comment, error) {
	leadID, err := checkLeadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.cache.ReadComments(ctx, leadID); ok {
		return cached, nil
	}
	if s.comments == nil {
		return []lead.Comment{}, nil
	}

	comments, err := s.comments.FetchComments(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if comments == nil {
		comments = []lead.Comment{}
	}
	s.cache.WriteComments(ctx, leadID, comments)
	return comments, nil
}

// GetTasks mirrors GetComments for the task namespace.
func (s *Service) GetTasks(ctx context.Context, id string) ([]lead.Task, error) {
	leadID, err := checkLeadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.cache.ReadTasks(ctx, leadID); ok {
		return cached, nil
	}
	if s.tasks == nil {
		return []lead.Task{}, nil
	}

	tasks, err := s.tasks.FetchTasks(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if tasks == nil {
		tasks = []lead.Task{}
	}
	s.cache.WriteTasks(ctx, leadID, tasks)
	return tasks, nil
}

func checkLeadRequest(ctx context.Context, id string) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(err, "check context")
	}
	leadID := strings.TrimSpace(id)
	if leadID == "" {
		return "", lead.ErrLeadIDRequired
	}
	return leadID, nil
}
