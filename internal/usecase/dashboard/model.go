package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/domain/lead"
	"crmdash/internal/errs"
	"crmdash/internal/usecase/leadcache"
	"crmdash/internal/usecase/refresh"
)

const (
	maxShownComments = 4
	maxShownTasks    = 4
	tickInterval     = time.Second
)

type LeadService interface {
	GetLeads(ctx context.Context, identity lead.Identity) ([]lead.Lead, error)
	GetLeadByID(ctx context.Context, id string, identity lead.Identity) (lead.Lead, bool, error)
	UpdateLocalStatus(ctx context.Context, id string, status lead.Status) (leadcache.StatusUpdate, error)
	GetComments(ctx context.Context, id string) ([]lead.Comment, error)
	GetTasks(ctx context.Context, id string) ([]lead.Task, error)
}

type Scheduler interface {
	Manual(ctx context.Context) refresh.Result
	Tick(ctx context.Context) refresh.Result
	State() refresh.State
	SetAutoRefresh(enabled bool)
	SetInterval(d time.Duration) error
}

// Visibility receives focus changes; becoming visible may run a health check.
type Visibility interface {
	SetVisible(ctx context.Context, visible bool) (leadcache.HealthReport, bool)
}

// Counters is optional; it feeds the cache footer.
type Counters interface {
	Total(name string) float64
}

type Options struct {
	Identity   lead.Identity
	Service    LeadService
	Scheduler  Scheduler
	Visibility Visibility
	Counters   Counters
}

type Model struct {
	ctx        context.Context
	identity   lead.Identity
	service    LeadService
	scheduler  Scheduler
	visibility Visibility
	counters   Counters

	keys keyMap
	help help.Model

	leads         []lead.Lead
	selectedIndex int
	detail        lead.Lead
	hasDetail     bool
	comments      []lead.Comment
	tasks         []lead.Task
	refreshState  refresh.State
	refreshing    bool
	status        string
}

type tickMsg struct{}

type leadsLoadedMsg struct {
	items []lead.Lead
	err   error
}

type refreshDoneMsg struct {
	result refresh.Result
	manual bool
}

type detailLoadedMsg struct {
	leadID   string
	detail   lead.Lead
	found    bool
	comments []lead.Comment
	tasks    []lead.Task
	err      error
}

type statusUpdatedMsg struct {
	leadID string
	status lead.Status
	result leadcache.StatusUpdate
	err    error
}

func New(ctx context.Context, options Options) *Model {
	return &Model{
		ctx:          logging.WithAttrs(ctx, slog.String("component", "dashboard")),
		identity:     options.Identity,
		service:      options.Service,
		scheduler:    options.Scheduler,
		visibility:   options.Visibility,
		counters:     options.Counters,
		keys:         defaultKeyMap(),
		help:         help.New(),
		refreshState: options.Scheduler.State(),
		status:       "loading leads",
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadLeadsCmd(), m.tickCmd())
}

func (m *Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil
	case tickMsg:
		m.refreshState = m.scheduler.State()
		return m, tea.Batch(m.autoRefreshCmd(), m.tickCmd())
	case leadsLoadedMsg:
		if msg.err != nil {
			m.status = "load failed: " + msg.err.Error()
			return m, nil
		}
		return m, m.applyLeads(msg.items, fmt.Sprintf("%d lead(s)", len(msg.items)))
	case refreshDoneMsg:
		if msg.manual {
			m.refreshing = false
		}
		if !msg.result.Accepted {
			if msg.manual {
				// Lost the race with an auto refresh; the countdown shows why.
				m.refreshState = m.scheduler.State()
				m.status = ""
			}
			return m, nil
		}
		m.refreshing = false
		m.refreshState = m.scheduler.State()
		if msg.result.Err != nil {
			m.status = fmt.Sprintf("%s refresh failed: %v", msg.result.Trigger, msg.result.Err)
			return m, nil
		}
		return m, m.applyLeads(msg.result.Leads, fmt.Sprintf("%s refresh: %d lead(s)", msg.result.Trigger, len(msg.result.Leads)))
	case detailLoadedMsg:
		if !m.isSelected(msg.leadID) {
			return m, nil
		}
		if msg.err != nil {
			m.hasDetail = false
			m.status = "detail failed: " + msg.err.Error()
			return m, nil
		}
		m.detail = msg.detail
		m.hasDetail = msg.found
		m.comments = msg.comments
		m.tasks = msg.tasks
		return m, nil
	case statusUpdatedMsg:
		if msg.err != nil {
			m.status = "status change failed: " + msg.err.Error()
			return m, nil
		}
		m.status = fmt.Sprintf("%s -> %s (collection=%t detail=%t)", msg.leadID, msg.status, msg.result.CollectionUpdated, msg.result.DetailUpdated)
		return m, m.loadLeadsCmd()
	case tea.FocusMsg:
		return m, m.visibilityCmd(true)
	case tea.BlurMsg:
		return m, m.visibilityCmd(false)
	case healthCheckedMsg:
		m.status = fmt.Sprintf("health check: expired=%d evicted=%d cleared=%t", msg.report.Expired, msg.report.Evicted, msg.report.Cleared)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.selectedIndex > 0 {
			m.selectedIndex--
			return m, m.loadDetailCmd()
		}
	case key.Matches(msg, m.keys.Down):
		if m.selectedIndex < len(m.leads)-1 {
			m.selectedIndex++
			return m, m.loadDetailCmd()
		}
	case key.Matches(msg, m.keys.Refresh):
		return m, m.manualRefreshCmd()
	case key.Matches(msg, m.keys.Status):
		return m, m.nextStatusCmd()
	case key.Matches(msg, m.keys.Auto):
		enabled := !m.refreshState.AutoRefreshEnabled
		m.scheduler.SetAutoRefresh(enabled)
		m.refreshState = m.scheduler.State()
		m.status = fmt.Sprintf("auto refresh %s", onOff(enabled))
	case key.Matches(msg, m.keys.Interval):
		next := nextInterval(time.Duration(m.refreshState.IntervalMs) * time.Millisecond)
		if err := m.scheduler.SetInterval(next); err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.refreshState = m.scheduler.State()
		m.status = fmt.Sprintf("refresh interval %s", next)
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// applyLeads keeps the selection on the same lead id when it is still present.
func (m *Model) applyLeads(items []lead.Lead, status string) tea.Cmd {
	selectedID := ""
	if current, ok := m.selectedLead(); ok {
		selectedID = current.ID
	}

	m.leads = items
	m.status = status
	if len(items) == 0 {
		m.selectedIndex = 0
		m.hasDetail = false
		m.comments = nil
		m.tasks = nil
		m.status = "no leads"
		return nil
	}

	m.selectedIndex = min(max(m.selectedIndex, 0), len(items)-1)
	for index, item := range items {
		if item.ID == selectedID {
			m.selectedIndex = index
			break
		}
	}
	return m.loadDetailCmd()
}

func (m *Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	var builder strings.Builder
	builder.WriteString(titleStyle.Render("CRM Leads"))
	builder.WriteString("\n")
	builder.WriteString(dimStyle.Render(fmt.Sprintf(
		"identity=%s team=%s auto=%s interval=%s",
		m.identity.String(),
		firstNonEmpty(m.identity.Team, "-"),
		onOff(m.refreshState.AutoRefreshEnabled),
		time.Duration(m.refreshState.IntervalMs)*time.Millisecond,
	)))
	builder.WriteString("\n")
	builder.WriteString(m.refreshLine(warnStyle, dimStyle))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Leads"))
	builder.WriteString("\n")
	if len(m.leads) == 0 {
		builder.WriteString(dimStyle.Render("- no leads"))
		builder.WriteString("\n")
	}
	for index, item := range m.leads {
		line := fmt.Sprintf("%-14s %-12s %-24s %s", item.ID, item.Status, truncate(item.Name, 24), item.Company)
		if index == m.selectedIndex {
			builder.WriteString(selectedStyle.Render("> " + line))
		} else {
			builder.WriteString("  " + line)
		}
		builder.WriteString("\n")
	}
	builder.WriteString("\n")

	builder.WriteString(sectionStyle.Render("Detail"))
	builder.WriteString("\n")
	if !m.hasDetail {
		builder.WriteString(dimStyle.Render("- no detail"))
		builder.WriteString("\n\n")
	} else {
		builder.WriteString(fmt.Sprintf("Lead: %s (%s)\n", m.detail.Name, m.detail.ID))
		builder.WriteString(fmt.Sprintf("Company: %s\n", firstNonEmpty(m.detail.Company, "-")))
		builder.WriteString(fmt.Sprintf("Contact: %s %s\n", firstNonEmpty(m.detail.Email, "-"), m.detail.Phone))
		builder.WriteString(fmt.Sprintf("Status: %s  Owner: %s\n", m.detail.Status, firstNonEmpty(m.detail.AssignedTo, "-")))
		builder.WriteString(fmt.Sprintf("Last activity: %s\n", firstNonEmpty(m.detail.LastActivity, "-")))

		builder.WriteString("\nComments:\n")
		if len(m.comments) == 0 {
			builder.WriteString("- none\n")
		}
		for _, comment := range lastN(m.comments, maxShownComments) {
			builder.WriteString(fmt.Sprintf("- %s %s: %s\n", comment.CreatedAt, comment.Author, firstLine(comment.Body)))
		}
		builder.WriteString("Tasks:\n")
		if len(m.tasks) == 0 {
			builder.WriteString("- none\n")
		}
		for _, task := range lastN(m.tasks, maxShownTasks) {
			mark := " "
			if task.Done {
				mark = "x"
			}
			builder.WriteString(fmt.Sprintf("- [%s] %s %s\n", mark, task.Title, task.DueDate))
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Status"))
	builder.WriteString("\n")
	builder.WriteString("- " + firstNonEmpty(m.status, "ready"))
	builder.WriteString("\n")
	if footer := m.cacheFooter(); footer != "" {
		builder.WriteString(dimStyle.Render(footer))
		builder.WriteString("\n")
	}
	builder.WriteString("\n")

	builder.WriteString(m.help.View(m.keys))
	return builder.String()
}

func (m *Model) refreshLine(warnStyle lipgloss.Style, dimStyle lipgloss.Style) string {
	switch {
	case m.refreshing:
		return warnStyle.Render("refreshing...")
	case !m.refreshState.CanRefresh:
		return warnStyle.Render(fmt.Sprintf("refresh available in %ds", m.refreshState.CooldownRemainingSeconds))
	default:
		return dimStyle.Render("refresh ready")
	}
}

func (m *Model) cacheFooter() string {
	if m.counters == nil {
		return ""
	}
	return fmt.Sprintf("cache hits=%.0f misses=%.0f expired=%.0f evicted=%.0f clears=%.0f",
		m.counters.Total("crm_cache_hits_total"),
		m.counters.Total("crm_cache_misses_total"),
		m.counters.Total("crm_cache_expirations_total"),
		m.counters.Total("crm_cache_evictions_total"),
		m.counters.Total("crm_cache_clears_total"),
	)
}

func (m *Model) tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *Model) loadLeadsCmd() tea.Cmd {
	return func() tea.Msg {
		items, err := m.service.GetLeads(m.ctx, m.identity)
		return leadsLoadedMsg{items: items, err: err}
	}
}

// autoRefreshCmd lets the scheduler decide whether an auto refresh is due.
func (m *Model) autoRefreshCmd() tea.Cmd {
	if m.refreshing || !m.refreshState.AutoRefreshEnabled || !m.refreshState.CanRefresh {
		return nil
	}
	return func() tea.Msg {
		return refreshDoneMsg{result: m.scheduler.Tick(m.ctx)}
	}
}

func (m *Model) manualRefreshCmd() tea.Cmd {
	if m.refreshing || !m.refreshState.CanRefresh {
		m.status = fmt.Sprintf("refresh cooling down (%ds)", m.refreshState.CooldownRemainingSeconds)
		return nil
	}
	m.refreshing = true
	m.status = "manual refresh"
	return func() tea.Msg {
		return refreshDoneMsg{result: m.scheduler.Manual(m.ctx), manual: true}
	}
}

func (m *Model) loadDetailCmd() tea.Cmd {
	selected, ok := m.selectedLead()
	if !ok {
		return nil
	}
	leadID := selected.ID
	return func() tea.Msg {
		detail, found, err := m.service.GetLeadByID(m.ctx, leadID, m.identity)
		if err != nil {
			return detailLoadedMsg{leadID: leadID, err: err}
		}
		comments, err := m.service.GetComments(m.ctx, leadID)
		if err != nil {
			logging.Warn(m.ctx, "load comments failed", slog.String("lead_id", leadID), slog.Any("err", errs.Loggable(err)))
		}
		tasks, err := m.service.GetTasks(m.ctx, leadID)
		if err != nil {
			logging.Warn(m.ctx, "load tasks failed", slog.String("lead_id", leadID), slog.Any("err", errs.Loggable(err)))
		}
		return detailLoadedMsg{leadID: leadID, detail: detail, found: found, comments: comments, tasks: tasks}
	}
}

func (m *Model) nextStatusCmd() tea.Cmd {
	selected, ok := m.selectedLead()
	if !ok {
		m.status = "no lead selected"
		return nil
	}
	leadID := selected.ID
	next := nextStatus(selected.Status)
	m.status = fmt.Sprintf("updating %s to %s", leadID, next)
	return func() tea.Msg {
		result, err := m.service.UpdateLocalStatus(m.ctx, leadID, next)
		logging.Info(m.ctx, "local status change",
			slog.String("lead_id", leadID),
			slog.String("status", string(next)),
			slog.Bool("collection_updated", result.CollectionUpdated),
			slog.Bool("detail_updated", result.DetailUpdated),
		)
		return statusUpdatedMsg{leadID: leadID, status: next, result: result, err: err}
	}
}

type healthCheckedMsg struct {
	report leadcache.HealthReport
}

func (m *Model) visibilityCmd(visible bool) tea.Cmd {
	if m.visibility == nil {
		return nil
	}
	return func() tea.Msg {
		report, ran := m.visibility.SetVisible(m.ctx, visible)
		if !ran {
			return nil
		}
		return healthCheckedMsg{report: report}
	}
}

func (m *Model) selectedLead() (lead.Lead, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.leads) {
		return lead.Lead{}, false
	}
	return m.leads[m.selectedIndex], true
}

func (m *Model) isSelected(leadID string) bool {
	selected, ok := m.selectedLead()
	return ok && selected.ID == leadID
}

// nextStatus walks the pipeline order and wraps around after the last status.
func nextStatus(current lead.Status) lead.Status {
	statuses := lead.Statuses()
	for index, status := range statuses {
		if status == current {
			return statuses[(index+1)%len(statuses)]
		}
	}
	return statuses[0]
}

func nextInterval(current time.Duration) time.Duration {
	intervals := refresh.SupportedIntervals()
	for index, interval := range intervals {
		if interval == current {
			return intervals[(index+1)%len(intervals)]
		}
	}
	return intervals[0]
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func truncate(value string, width int) string {
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-1]) + "…"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if normalized != "" {
			return normalized
		}
	}
	return ""
}

func firstLine(body string) string {
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line != "" {
			return line
		}
	}
	return "empty"
}
