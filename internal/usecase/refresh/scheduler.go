package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/domain/lead"
	"crmdash/internal/errs"
	sysclock "crmdash/internal/infrastructure/clock"
	"crmdash/internal/ports"
)

const (
	DefaultInterval = 5 * time.Minute
	Cooldown        = 5 * time.Second
	tickEvery       = time.Second
)

var ErrUnsupportedInterval = errors.New("unsupported refresh interval")

var supportedIntervals = []time.Duration{
	time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	15 * time.Minute,
}

// SupportedIntervals lists the auto-refresh intervals in ascending order.
func SupportedIntervals() []time.Duration {
	out := make([]time.Duration, len(supportedIntervals))
	copy(out, supportedIntervals)
	return out
}

func ValidateInterval(d time.Duration) error {
	for _, allowed := range supportedIntervals {
		if d == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedInterval, d)
}

// Refresher is the forced re-fetch the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context, identity lead.Identity) ([]lead.Lead, error)
}

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseCoolingDown Phase = "cooling_down"
)

type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

type Options struct {
	AutoRefresh bool
	Interval    time.Duration
	Clock       ports.Clock
}

// Result reports one refresh request. Accepted=false means the request was
// rejected by the cooldown or was not due; it carries no error.
type Result struct {
	Accepted bool
	Trigger  Trigger
	Leads    []lead.Lead
	Err      error
}

type State struct {
	Phase                    Phase `json:"phase"`
	CanRefresh               bool  `json:"canRefresh"`
	CooldownRemainingSeconds int   `json:"cooldownRemainingSeconds"`
	AutoRefreshEnabled       bool  `json:"autoRefreshEnabled"`
	IntervalMs               int64 `json:"intervalMs"`
}

// Scheduler is a two-state machine (idle, cooling down) deciding when the
// refresher may run. The refresh itself runs outside the lock.
type Scheduler struct {
	refresher Refresher
	identity  lead.Identity
	clock     ports.Clock
	tickEvery time.Duration

	mu            sync.Mutex
	autoRefresh   bool
	interval      time.Duration
	scheduledFrom time.Time
	inFlight      bool
	cooldownUntil time.Time
}

func New(refresher Refresher, identity lead.Identity, opts Options) *Scheduler {
	interval := opts.Interval
	if ValidateInterval(interval) != nil {
		interval = DefaultInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = sysclock.System{}
	}
	return &Scheduler{
		refresher:     refresher,
		identity:      identity,
		clock:         clock,
		tickEvery:     tickEvery,
		autoRefresh:   opts.AutoRefresh,
		interval:      interval,
		scheduledFrom: clock.Now(),
	}
}


func (s *Scheduler) logCtx(ctx context.Context, trigger Trigger) context.Context {
	return logging.WithAttrs(ctx,
		slog.String("component", "refresh.scheduler"),
		slog.String("trigger", string(trigger)),
	)
}

// phaseLocked moves to idle once the cooldown has run out.
func (s *Scheduler) phaseLocked(now time.Time) Phase {
	if s.inFlight || now.Before(s.cooldownUntil) {
		return PhaseCoolingDown
	}
	return PhaseIdle
}

// Manual runs a user-requested refresh unless the scheduler is cooling down.
func (s *Scheduler) Manual(ctx context.Context) Result {
	if ctx == nil {
		return Result{Trigger: TriggerManual, Err: errors.New("context is required")}
	}

	s.mu.Lock()
	if s.phaseLocked(s.clock.Now()) != PhaseIdle {
		s.mu.Unlock()
		logging.Debug(s.logCtx(ctx, TriggerManual), "manual refresh rejected during cooldown")
		return Result{Trigger: TriggerManual}
	}
	s.inFlight = true
	s.mu.Unlock()

	return s.run(ctx, TriggerManual)
}

// Tick fires an automatic refresh when one is due and permitted.
func (s *Scheduler) Tick(ctx context.Context) Result {
	if ctx == nil {
		return Result{Trigger: TriggerAuto, Err: errors.New("context is required")}
	}

	s.mu.Lock()
	now := s.clock.Now()
	due := s.autoRefresh && now.Sub(s.scheduledFrom) >= s.interval
	if !due || s.phaseLocked(now) != PhaseIdle {
		s.mu.Unlock()
		return Result{Trigger: TriggerAuto}
	}
	s.scheduledFrom = now
	s.inFlight = true
	s.mu.Unlock()

	return s.run(ctx, TriggerAuto)
}

func (s *Scheduler) run(ctx context.Context, trigger Trigger) Result {
	logCtx := s.logCtx(ctx, trigger)
	logging.Info(logCtx, "refresh started", slog.String("identity", s.identity.String()))

	leads, err := s.refresher.Refresh(ctx, s.identity)

	s.mu.Lock()
	s.inFlight = false
	s.cooldownUntil = s.clock.Now().Add(Cooldown)
	s.mu.Unlock()

	if err != nil {
		logging.Warn(logCtx, "refresh failed", slog.Any("err", errs.Loggable(err)))
		return Result{Accepted: true, Trigger: trigger, Err: err}
	}
	logging.Info(logCtx, "refresh completed", slog.Int("count", len(leads)))
	return Result{Accepted: true, Trigger: trigger, Leads: leads}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	phase := s.phaseLocked(now)
	remaining := 0
	switch {
	case s.inFlight:
		remaining = int(Cooldown / time.Second)
	case phase == PhaseCoolingDown:
		remaining = int(math.Ceil(s.cooldownUntil.Sub(now).Seconds()))
	}
	return State{
		Phase:                    phase,
		CanRefresh:               phase == PhaseIdle,
		CooldownRemainingSeconds: remaining,
		AutoRefreshEnabled:       s.autoRefresh,
		IntervalMs:               s.interval.Milliseconds(),
	}
}

// SetAutoRefresh toggles the auto loop and restarts the schedule.
func (s *Scheduler) SetAutoRefresh(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoRefresh = enabled
	s.scheduledFrom = s.clock.Now()
}

// SetInterval replaces the auto-refresh interval and restarts the schedule so
// the previous interval never fires.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if err := ValidateInterval(d); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	s.scheduledFrom = s.clock.Now()
	return nil
}

// Run evaluates Tick once per tick interval until ctx is done. Accepted
// results are passed to sink.
func (s *Scheduler) Run(ctx context.Context, sink func(Result)) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result := s.Tick(ctx)
			if result.Accepted && sink != nil {
				sink(result)
			}
		}
	}
}
