package dashboard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"crmdash/internal/domain/lead"
	"crmdash/internal/usecase/leadcache"
	"crmdash/internal/usecase/refresh"
)

type stubService struct {
	leads         []lead.Lead
	err           error
	statusUpdates []string
}

func (s *stubService) GetLeads(context.Context, lead.Identity) ([]lead.Lead, error) {
	return s.leads, s.err
}

func (s *stubService) GetLeadByID(_ context.Context, id string, _ lead.Identity) (lead.Lead, bool, error) {
	for _, item := range s.leads {
		if item.ID == id {
			return item, true, nil
		}
	}
	return lead.Lead{}, false, nil
}

func (s *stubService) UpdateLocalStatus(_ context.Context, id string, status lead.Status) (leadcache.StatusUpdate, error) {
	s.statusUpdates = append(s.statusUpdates, id+"="+string(status))
	return leadcache.StatusUpdate{CollectionUpdated: true}, nil
}

func (s *stubService) GetComments(_ context.Context, id string) ([]lead.Comment, error) {
	return []lead.Comment{{ID: "C1", LeadID: id, Author: "ana", Body: "called back\nsecond line"}}, nil
}

func (s *stubService) GetTasks(_ context.Context, id string) ([]lead.Task, error) {
	return []lead.Task{{ID: "T1", LeadID: id, Title: "send quote", Done: true}}, nil
}

type stubScheduler struct {
	state        refresh.State
	manualResult refresh.Result
	manualCalls  int
	tickCalls    int
	intervals    []time.Duration
}

func (s *stubScheduler) Manual(context.Context) refresh.Result {
	s.manualCalls++
	return s.manualResult
}

func (s *stubScheduler) Tick(context.Context) refresh.Result {
	s.tickCalls++
	return refresh.Result{Trigger: refresh.TriggerAuto}
}

func (s *stubScheduler) State() refresh.State { return s.state }

func (s *stubScheduler) SetAutoRefresh(enabled bool) { s.state.AutoRefreshEnabled = enabled }

func (s *stubScheduler) SetInterval(d time.Duration) error {
	s.intervals = append(s.intervals, d)
	s.state.IntervalMs = d.Milliseconds()
	return nil
}

type stubVisibility struct {
	calls []bool
}

func (v *stubVisibility) SetVisible(_ context.Context, visible bool) (leadcache.HealthReport, bool) {
	v.calls = append(v.calls, visible)
	return leadcache.HealthReport{Expired: 2}, visible
}

func newTestModel(t *testing.T) (*Model, *stubService, *stubScheduler) {
	t.Helper()
	svc := &stubService{leads: []lead.Lead{
		{ID: "L1", Name: "Ada", Status: lead.StatusNew},
		{ID: "L2", Name: "Grace", Status: lead.StatusLost},
	}}
	scheduler := &stubScheduler{state: refresh.State{
		Phase:              refresh.PhaseIdle,
		CanRefresh:         true,
		AutoRefreshEnabled: true,
		IntervalMs:         (5 * time.Minute).Milliseconds(),
	}}
	model := New(context.Background(), Options{
		Identity:  lead.Identity{EmployeeID: "emp1", Email: "a@x.com"},
		Service:   svc,
		Scheduler: scheduler,
	})
	return model, svc, scheduler
}

func runCmd(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	return cmd()
}

func load(t *testing.T, model *Model) {
	t.Helper()
	_, cmd := model.Update(runCmd(t, model.loadLeadsCmd()))
	model.Update(runCmd(t, cmd))
}

func TestLeadsLoadedSelectsFirstLeadAndLoadsDetail(t *testing.T) {
	model, _, _ := newTestModel(t)
	load(t, model)

	if len(model.leads) != 2 || model.selectedIndex != 0 {
		t.Fatalf("leads = %+v, selected = %d", model.leads, model.selectedIndex)
	}
	if !model.hasDetail || model.detail.ID != "L1" || len(model.comments) != 1 || len(model.tasks) != 1 {
		t.Fatalf("detail = %+v comments = %+v tasks = %+v", model.detail, model.comments, model.tasks)
	}

	view := model.View()
	for _, want := range []string{"CRM Leads", "Ada", "called back", "[x] send quote", "refresh ready"} {
		if !strings.Contains(view, want) {
			t.Fatalf("View() missing %q:\n%s", want, view)
		}
	}
}

func TestLoadFailureKeepsPreviousLeads(t *testing.T) {
	model, svc, _ := newTestModel(t)
	load(t, model)

	svc.err = errors.New("lead fetch failed: 503")
	model.Update(runCmd(t, model.loadLeadsCmd()))
	if len(model.leads) != 2 || !strings.Contains(model.status, "load failed") {
		t.Fatalf("leads = %d status = %q", len(model.leads), model.status)
	}
}

func TestManualRefreshDuringCooldownIsRejected(t *testing.T) {
	model, _, scheduler := newTestModel(t)
	scheduler.state.CanRefresh = false
	scheduler.state.CooldownRemainingSeconds = 3
	model.Update(tickMsg{})

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd != nil {
		t.Fatalf("refresh during cooldown should not schedule a command")
	}
	if scheduler.manualCalls != 0 || !strings.Contains(model.status, "3s") {
		t.Fatalf("manual calls = %d status = %q", scheduler.manualCalls, model.status)
	}
	if !strings.Contains(model.View(), "refresh available in 3s") {
		t.Fatalf("View() should show the countdown")
	}
}

func TestManualRefreshAppliesResult(t *testing.T) {
	model, _, scheduler := newTestModel(t)
	load(t, model)
	scheduler.manualResult = refresh.Result{
		Accepted: true,
		Trigger:  refresh.TriggerManual,
		Leads:    []lead.Lead{{ID: "L2", Name: "Grace", Status: lead.StatusWon}},
	}
	model.selectedIndex = 1

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if !model.refreshing {
		t.Fatalf("model should show refreshing")
	}
	model.Update(runCmd(t, cmd))

	if model.refreshing || scheduler.manualCalls != 1 {
		t.Fatalf("refreshing = %t manual calls = %d", model.refreshing, scheduler.manualCalls)
	}
	if len(model.leads) != 1 || model.selectedIndex != 0 || model.leads[0].Status != lead.StatusWon {
		t.Fatalf("leads = %+v selected = %d", model.leads, model.selectedIndex)
	}
}

func TestManualRefreshLosingRaceShowsNoError(t *testing.T) {
	model, _, scheduler := newTestModel(t)
	load(t, model)
	scheduler.manualResult = refresh.Result{Trigger: refresh.TriggerManual}

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	scheduler.state.CanRefresh = false
	scheduler.state.CooldownRemainingSeconds = 5
	model.Update(runCmd(t, cmd))

	if model.refreshing {
		t.Fatalf("rejected manual refresh should clear refreshing")
	}
	if strings.Contains(model.status, "failed") {
		t.Fatalf("rejected manual refresh should not report an error, status = %q", model.status)
	}
	if len(model.leads) != 2 {
		t.Fatalf("leads = %+v, want the previous collection", model.leads)
	}
	if !strings.Contains(model.View(), "refresh available in 5s") {
		t.Fatalf("View() should show the countdown after a rejected refresh")
	}
}

func TestTickRunsAutoRefreshOnlyWhenPermitted(t *testing.T) {
	model, _, scheduler := newTestModel(t)

	_, cmd := model.Update(tickMsg{})
	if cmd == nil {
		t.Fatalf("tick should schedule commands")
	}
	if msg := runCmd(t, model.autoRefreshCmd()); msg == nil {
		t.Fatalf("auto refresh command should produce a message")
	}
	if scheduler.tickCalls != 1 {
		t.Fatalf("tick calls = %d, want 1", scheduler.tickCalls)
	}

	scheduler.state.AutoRefreshEnabled = false
	model.Update(tickMsg{})
	if model.autoRefreshCmd() != nil {
		t.Fatalf("auto refresh disabled should not tick the scheduler")
	}
}

func TestStatusKeyAdvancesSelectedLead(t *testing.T) {
	model, svc, _ := newTestModel(t)
	load(t, model)
	model.selectedIndex = 1

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	model.Update(runCmd(t, cmd))

	if len(svc.statusUpdates) != 1 || svc.statusUpdates[0] != "L2=new" {
		t.Fatalf("status updates = %v, want wrap from lost to new", svc.statusUpdates)
	}
	if !strings.Contains(model.status, "L2 -> new") {
		t.Fatalf("status = %q", model.status)
	}
}

func TestAutoAndIntervalKeys(t *testing.T) {
	model, _, scheduler := newTestModel(t)

	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	if scheduler.state.AutoRefreshEnabled || model.refreshState.AutoRefreshEnabled {
		t.Fatalf("auto refresh should be toggled off")
	}

	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("i")})
	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("i")})
	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("i")})
	want := []time.Duration{10 * time.Minute, 15 * time.Minute, time.Minute}
	if len(scheduler.intervals) != len(want) {
		t.Fatalf("intervals = %v, want %v", scheduler.intervals, want)
	}
	for i := range want {
		if scheduler.intervals[i] != want[i] {
			t.Fatalf("intervals = %v, want %v", scheduler.intervals, want)
		}
	}
}

func TestFocusRunsHealthCheck(t *testing.T) {
	model, _, _ := newTestModel(t)
	visibility := &stubVisibility{}
	model.visibility = visibility

	_, cmd := model.Update(tea.BlurMsg{})
	if msg := runCmd(t, cmd); msg != nil {
		t.Fatalf("blur should not report a health check, got %#v", msg)
	}
	_, cmd = model.Update(tea.FocusMsg{})
	model.Update(runCmd(t, cmd))

	if len(visibility.calls) != 2 || visibility.calls[0] || !visibility.calls[1] {
		t.Fatalf("visibility calls = %v", visibility.calls)
	}
	if !strings.Contains(model.status, "expired=2") {
		t.Fatalf("status = %q", model.status)
	}
}

func TestStaleDetailIsIgnored(t *testing.T) {
	model, _, _ := newTestModel(t)
	load(t, model)

	model.Update(detailLoadedMsg{leadID: "L2", detail: lead.Lead{ID: "L2"}, found: true})
	if model.detail.ID != "L1" {
		t.Fatalf("detail for an unselected lead must be ignored, got %+v", model.detail)
	}
}

func TestNextStatusAndInterval(t *testing.T) {
	if got := nextStatus(lead.StatusNew); got != lead.StatusContacted {
		t.Fatalf("nextStatus(new) = %s", got)
	}
	if got := nextStatus(lead.Status("bogus")); got != lead.StatusNew {
		t.Fatalf("nextStatus(bogus) = %s", got)
	}
	if got := nextInterval(15 * time.Minute); got != time.Minute {
		t.Fatalf("nextInterval(15m) = %s", got)
	}
}
