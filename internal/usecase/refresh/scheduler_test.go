package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crmdash/internal/domain/lead"
	"crmdash/internal/infrastructure/clock"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
	gate  chan struct{}
}

func (r *countingRefresher) Refresh(ctx context.Context, _ lead.Identity) ([]lead.Lead, error) {
	r.calls.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}
	return []lead.Lead{{ID: "L1", Status: lead.StatusNew}}, nil
}

func setupScheduler(t *testing.T, opts Options) (*Scheduler, *countingRefresher, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC))
	opts.Clock = fake
	refresher := &countingRefresher{}
	return New(refresher, lead.Identity{EmployeeID: "emp1", Email: "a@x.com"}, opts), refresher, fake
}

func TestManualRefreshCooldown(t *testing.T) {
	s, refresher, fake := setupScheduler(t, Options{})
	ctx := context.Background()

	first := s.Manual(ctx)
	if !first.Accepted || first.Err != nil || len(first.Leads) != 1 {
		t.Fatalf("first Manual() = %+v", first)
	}

	fake.Advance(2 * time.Second)
	second := s.Manual(ctx)
	if second.Accepted || second.Err != nil {
		t.Fatalf("second Manual() = %+v, want rejected without error", second)
	}
	if state := s.State(); state.CanRefresh || state.CooldownRemainingSeconds != 3 {
		t.Fatalf("State() during cooldown = %+v", state)
	}

	fake.Advance(3 * time.Second)
	if state := s.State(); state.Phase != PhaseIdle || !state.CanRefresh || state.CooldownRemainingSeconds != 0 {
		t.Fatalf("State() after cooldown = %+v", state)
	}
	third := s.Manual(ctx)
	if !third.Accepted {
		t.Fatalf("third Manual() = %+v, want accepted", third)
	}
	if got := refresher.calls.Load(); got != 2 {
		t.Fatalf("refresh calls = %d, want 2", got)
	}
}

func TestCooldownRemainingRoundsUp(t *testing.T) {
	s, _, fake := setupScheduler(t, Options{})

	s.Manual(context.Background())
	fake.Advance(1500 * time.Millisecond)
	if got := s.State().CooldownRemainingSeconds; got != 4 {
		t.Fatalf("CooldownRemainingSeconds = %d, want 4", got)
	}
}

func TestFailedRefreshStillEngagesCooldown(t *testing.T) {
	s, refresher, _ := setupScheduler(t, Options{})
	refresher.err = errors.New("network down")

	result := s.Manual(context.Background())
	if !result.Accepted || result.Err == nil {
		t.Fatalf("Manual() = %+v, want accepted with error", result)
	}
	if s.State().CanRefresh {
		t.Fatalf("cooldown should be engaged after a failed refresh")
	}
}

func TestManualRejectedWhileInFlight(t *testing.T) {
	s, refresher, _ := setupScheduler(t, Options{})
	refresher.gate = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Manual(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for refresher.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	state := s.State()
	if state.Phase != PhaseCoolingDown || state.CooldownRemainingSeconds != 5 {
		t.Fatalf("State() in flight = %+v", state)
	}
	if result := s.Manual(context.Background()); result.Accepted {
		t.Fatalf("Manual() while in flight should be rejected")
	}
	close(refresher.gate)
	wg.Wait()

	if got := refresher.calls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestTickFiresWhenIntervalElapsed(t *testing.T) {
	s, refresher, fake := setupScheduler(t, Options{AutoRefresh: true, Interval: time.Minute})
	ctx := context.Background()

	fake.Advance(59 * time.Second)
	if result := s.Tick(ctx); result.Accepted {
		t.Fatalf("Tick() before interval = %+v", result)
	}

	fake.Advance(time.Second)
	result := s.Tick(ctx)
	if !result.Accepted || result.Trigger != TriggerAuto {
		t.Fatalf("Tick() at interval = %+v", result)
	}

	fake.Advance(time.Second)
	if result := s.Tick(ctx); result.Accepted {
		t.Fatalf("Tick() right after firing = %+v", result)
	}
	if got := refresher.calls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestTickWaitsForCooldown(t *testing.T) {
	s, refresher, fake := setupScheduler(t, Options{AutoRefresh: true, Interval: time.Minute})
	ctx := context.Background()

	fake.Advance(58 * time.Second)
	s.Manual(ctx)
	fake.Advance(2 * time.Second)
	if result := s.Tick(ctx); result.Accepted {
		t.Fatalf("Tick() during cooldown should not fire")
	}

	fake.Advance(3 * time.Second)
	if result := s.Tick(ctx); !result.Accepted {
		t.Fatalf("Tick() after cooldown should fire the overdue refresh")
	}
	if got := refresher.calls.Load(); got != 2 {
		t.Fatalf("refresh calls = %d, want 2", got)
	}
}

func TestTickDisabled(t *testing.T) {
	s, refresher, fake := setupScheduler(t, Options{AutoRefresh: false, Interval: time.Minute})

	fake.Advance(time.Hour)
	if result := s.Tick(context.Background()); result.Accepted {
		t.Fatalf("Tick() with auto refresh disabled = %+v", result)
	}
	if refresher.calls.Load() != 0 {
		t.Fatalf("disabled auto refresh must not call refresher")
	}
}

func TestSetIntervalReschedules(t *testing.T) {
	s, refresher, fake := setupScheduler(t, Options{AutoRefresh: true, Interval: 5 * time.Minute})
	ctx := context.Background()

	fake.Advance(4 * time.Minute)
	if err := s.SetInterval(time.Minute); err != nil {
		t.Fatalf("SetInterval() error = %v", err)
	}
	fake.Advance(59 * time.Second)
	if result := s.Tick(ctx); result.Accepted {
		t.Fatalf("Tick() should measure from the reschedule point")
	}
	fake.Advance(time.Second)
	if result := s.Tick(ctx); !result.Accepted {
		t.Fatalf("Tick() should fire one minute after the reschedule")
	}
	if got := s.State().IntervalMs; got != 60000 {
		t.Fatalf("IntervalMs = %d, want 60000", got)
	}
	if refresher.calls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", refresher.calls.Load())
	}
}

func TestSetAutoRefreshReschedules(t *testing.T) {
	s, _, fake := setupScheduler(t, Options{AutoRefresh: false, Interval: time.Minute})

	fake.Advance(10 * time.Minute)
	s.SetAutoRefresh(true)
	if result := s.Tick(context.Background()); result.Accepted {
		t.Fatalf("enabling auto refresh must not fire a stale interval")
	}
	if !s.State().AutoRefreshEnabled {
		t.Fatalf("AutoRefreshEnabled should be true")
	}
}

func TestSetIntervalRejectsUnsupportedValues(t *testing.T) {
	s, _, _ := setupScheduler(t, Options{})

	tests := []time.Duration{0, 30 * time.Second, 2 * time.Minute, time.Hour}
	for _, d := range tests {
		if err := s.SetInterval(d); !errors.Is(err, ErrUnsupportedInterval) {
			t.Fatalf("SetInterval(%s) error = %v, want ErrUnsupportedInterval", d, err)
		}
	}
	if got := s.State().IntervalMs; got != DefaultInterval.Milliseconds() {
		t.Fatalf("IntervalMs = %d, want default", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s, _, _ := setupScheduler(t, Options{})
	s.tickEvery = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, nil) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not stop after cancel")
	}
}

func TestRunDeliversAcceptedResults(t *testing.T) {
	s, _, fake := setupScheduler(t, Options{AutoRefresh: true, Interval: time.Minute})
	s.tickEvery = time.Millisecond
	fake.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := make(chan Result, 1)
	go func() {
		_ = s.Run(ctx, func(result Result) {
			select {
			case results <- result:
			default:
			}
		})
	}()

	select {
	case result := <-results:
		if !result.Accepted || result.Trigger != TriggerAuto {
			t.Fatalf("Run() sink result = %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() never delivered an auto refresh")
	}
}

func TestNewDefaultsToSystemClock(t *testing.T) {
	s := New(&countingRefresher{}, lead.Identity{EmployeeID: "emp1", Email: "a@x.com"}, Options{AutoRefresh: true, Interval: 3 * time.Minute})

	state := s.State()
	if state.Phase != PhaseIdle || !state.CanRefresh {
		t.Fatalf("State() = %+v, want idle and refreshable", state)
	}
	if state.IntervalMs != DefaultInterval.Milliseconds() {
		t.Fatalf("IntervalMs = %d, want the default for an unsupported interval", state.IntervalMs)
	}
	if result := s.Tick(context.Background()); result.Accepted {
		t.Fatalf("Tick() right after New should not be due")
	}
}
