package datasource

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/domain/lead"
)

const (
	LeadsPath    = "/api/method/crm.api.leads.get_leads"
	CommentsPath = "/api/method/crm.api.leads.get_comments"
	TasksPath    = "/api/method/crm.api.leads.get_tasks"

	defaultMockLeads = 12
)

var mockRemoteStatuses = []string{"Lead", "Open", "Replied", "Interested", "Opportunity", "Quotation", "Converted", "Lost Quotation"}

var mockBase = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type MockOptions struct {
	Leads int
	// FailStatus makes every lead request answer with that status when set.
	FailStatus int
}

// MockServer is a deterministic stand-in for the remote lead API.
type MockServer struct {
	options  MockOptions
	requests atomic.Int64
}

type mockResponse struct {
	Message mockMessage `json:"message"`
}

type mockMessage struct {
	Data any `json:"data"`
}

type mockErrorResponse struct {
	Error string `json:"error"`
}

func NewMockServer(options MockOptions) *MockServer {
	if options.Leads <= 0 {
		options.Leads = defaultMockLeads
	}
	return &MockServer{options: options}
}

// Requests reports how many API calls the server has answered.
func (m *MockServer) Requests() int64 { return m.requests.Load() }

func (m *MockServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(echoRequestID)
	r.Use(m.count)

	r.Post(LeadsPath, m.handleLeads)
	r.Post(CommentsPath, m.handleComments)
	r.Post(TasksPath, m.handleTasks)
	return r
}

func (m *MockServer) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)
		logging.Debug(logging.WithAttrs(r.Context(), slog.String("component", "datasource.mock")),
			"mock api request",
			slog.String("path", r.URL.Path),
			slog.String("request_id", r.Header.Get(requestIDHeader)),
		)
		next.ServeHTTP(w, r)
	})
}

func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(requestIDHeader)); id != "" {
			w.Header().Set(requestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func (m *MockServer) handleLeads(w http.ResponseWriter, r *http.Request) {
	if m.options.FailStatus != 0 {
		writeMockError(w, m.options.FailStatus, http.StatusText(m.options.FailStatus))
		return
	}

	var req leadsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMockError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.EmployeeID) == "" || strings.TrimSpace(req.Email) == "" {
		writeMockError(w, http.StatusBadRequest, "employeeId and email are required")
		return
	}

	writeMockJSON(w, http.StatusOK, mockResponse{Message: mockMessage{Data: MockLeads(req.EmployeeID, m.options.Leads)}})
}

func (m *MockServer) handleComments(w http.ResponseWriter, r *http.Request) {
	leadID, ok := decodeLeadScoped(w, r)
	if !ok {
		return
	}
	comments := []lead.Comment{
		{ID: leadID + "-C1", LeadID: leadID, Author: "system", Body: "Lead created", CreatedAt: mockBase.Format(time.RFC3339)},
		{ID: leadID + "-C2", LeadID: leadID, Author: "owner", Body: "Intro call scheduled", CreatedAt: mockBase.Add(24 * time.Hour).Format(time.RFC3339)},
	}
	writeMockJSON(w, http.StatusOK, mockResponse{Message: mockMessage{Data: comments}})
}

func (m *MockServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	leadID, ok := decodeLeadScoped(w, r)
	if !ok {
		return
	}
	tasks := []lead.Task{
		{ID: leadID + "-T1", LeadID: leadID, Title: "Send proposal", DueDate: mockBase.Add(72 * time.Hour).Format("2006-01-02"), Assignee: "owner"},
	}
	writeMockJSON(w, http.StatusOK, mockResponse{Message: mockMessage{Data: tasks}})
}

func decodeLeadScoped(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req leadScopedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMockError(w, http.StatusBadRequest, "invalid json body")
		return "", false
	}
	leadID := strings.TrimSpace(req.LeadID)
	if leadID == "" {
		writeMockError(w, http.StatusBadRequest, "leadId is required")
		return "", false
	}
	return leadID, true
}

// MockLeads builds the same records for the same owner on every call.
func MockLeads(employeeID string, count int) []lead.RawLead {
	owner := strings.TrimSpace(employeeID)
	out := make([]lead.RawLead, 0, count)
	for i := 1; i <= count; i++ {
		created := mockBase.Add(time.Duration(i) * time.Hour)
		out = append(out, lead.RawLead{
			Name:        fmt.Sprintf("CRM-LEAD-%04d", i),
			LeadName:    fmt.Sprintf("Prospect %d", i),
			EmailID:     fmt.Sprintf("prospect%d@example.com", i),
			MobileNo:    fmt.Sprintf("+1-555-01%02d", i),
			CompanyName: fmt.Sprintf("Company %c", rune('A'+(i-1)%26)),
			Status:      mockRemoteStatuses[(i-1)%len(mockRemoteStatuses)],
			Source:      "Website",
			LeadOwner:   owner,
			Creation:    created.Format(time.RFC3339),
			Modified:    created.Add(30 * time.Minute).Format(time.RFC3339),
		})
	}
	return out
}

func writeMockError(w http.ResponseWriter, status int, message string) {
	writeMockJSON(w, status, mockErrorResponse{Error: message})
}

func writeMockJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
