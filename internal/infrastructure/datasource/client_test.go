package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"crmdash/internal/domain/lead"
)

var testIdentity = lead.Identity{EmployeeID: "emp1", Email: "a@x.com", Team: "sales"}

func newMockClient(t *testing.T, options MockOptions) (*Client, *MockServer) {
	t.Helper()

	mock := NewMockServer(options)
	server := httptest.NewServer(mock.Handler())
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		Endpoint:         server.URL + LeadsPath,
		CommentsEndpoint: server.URL + CommentsPath,
		TasksEndpoint:    server.URL + TasksPath,
	}, server.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, mock
}

func TestFetchLeadsAgainstMockServer(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t, MockOptions{Leads: 3})
	raws, err := client.FetchLeads(context.Background(), testIdentity)
	if err != nil {
		t.Fatalf("FetchLeads() error = %v", err)
	}
	if len(raws) != 3 {
		t.Fatalf("FetchLeads() len = %d, want 3", len(raws))
	}
	if raws[0].Name != "CRM-LEAD-0001" || raws[0].LeadOwner != "emp1" {
		t.Fatalf("FetchLeads()[0] = %+v", raws[0])
	}
	if mock.Requests() != 1 {
		t.Fatalf("mock requests = %d, want 1", mock.Requests())
	}

	again, err := client.FetchLeads(context.Background(), testIdentity)
	if err != nil || len(again) != 3 || again[2] != raws[2] {
		t.Fatalf("mock should be deterministic, got %+v, %v", again, err)
	}
}

func TestFetchLeadsSendsRequestContract(t *testing.T) {
	t.Parallel()

	var gotBody map[string]string
	var gotRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotRequestID = r.Header.Get("X-Request-ID")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"message":{"data":[{"name":"L1","status":"Open"}]}}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Options{Endpoint: server.URL}, server.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	raws, err := client.FetchLeads(context.Background(), testIdentity)
	if err != nil || len(raws) != 1 || raws[0].Name != "L1" {
		t.Fatalf("FetchLeads() = %+v, %v", raws, err)
	}

	want := map[string]string{"source": DefaultSource, "employeeId": "emp1", "email": "a@x.com", "team": "sales"}
	for key, value := range want {
		if gotBody[key] != value {
			t.Fatalf("body[%s] = %q, want %q", key, gotBody[key], value)
		}
	}
	if _, err := uuid.Parse(gotRequestID); err != nil {
		t.Fatalf("X-Request-ID = %q is not a uuid: %v", gotRequestID, err)
	}
}

func TestFetchLeadsFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{
			name:   "non 2xx",
			status: http.StatusServiceUnavailable,
			body:   `{"error":"down"}`,
			check: func(err error) bool {
				var statusErr *StatusError
				return errors.As(err, &statusErr) && statusErr.Code == http.StatusServiceUnavailable
			},
		},
		{
			name:   "missing message",
			status: http.StatusOK,
			body:   `{}`,
			check:  func(err error) bool { return errors.Is(err, ErrMissingData) },
		},
		{
			name:   "null data",
			status: http.StatusOK,
			body:   `{"message":{"data":null}}`,
			check:  func(err error) bool { return errors.Is(err, ErrMissingData) },
		},
		{
			name:   "malformed json",
			status: http.StatusOK,
			body:   `{"message":`,
			check:  func(err error) bool { return err != nil && strings.Contains(err.Error(), "decode response") },
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(server.Close)

			client, err := NewClient(Options{Endpoint: server.URL}, server.Client())
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			raws, err := client.FetchLeads(context.Background(), testIdentity)
			if !tc.check(err) {
				t.Fatalf("FetchLeads() error = %v", err)
			}
			if raws != nil {
				t.Fatalf("FetchLeads() = %+v, want nil on failure", raws)
			}
		})
	}
}

func TestMockServerFailStatus(t *testing.T) {
	t.Parallel()

	client, _ := newMockClient(t, MockOptions{FailStatus: http.StatusBadGateway})
	_, err := client.FetchLeads(context.Background(), testIdentity)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadGateway {
		t.Fatalf("FetchLeads() error = %v, want 502 StatusError", err)
	}
}

func TestFetchCommentsAndTasks(t *testing.T) {
	t.Parallel()

	client, _ := newMockClient(t, MockOptions{})
	comments, err := client.FetchComments(context.Background(), "CRM-LEAD-0001")
	if err != nil || len(comments) != 2 || comments[0].LeadID != "CRM-LEAD-0001" {
		t.Fatalf("FetchComments() = %+v, %v", comments, err)
	}
	tasks, err := client.FetchTasks(context.Background(), "CRM-LEAD-0001")
	if err != nil || len(tasks) != 1 || tasks[0].Title != "Send proposal" {
		t.Fatalf("FetchTasks() = %+v, %v", tasks, err)
	}
}

func TestOptionalEndpointsDisabled(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Options{Endpoint: "http://127.0.0.1:1/leads"}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.HasComments() || client.HasTasks() {
		t.Fatalf("optional endpoints should be disabled")
	}
	comments, err := client.FetchComments(context.Background(), "L1")
	if err != nil || comments == nil || len(comments) != 0 {
		t.Fatalf("FetchComments() = %#v, %v", comments, err)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Options{Endpoint: "  "}, nil); err == nil {
		t.Fatalf("NewClient() with blank endpoint should fail")
	}
}

func TestMockServerRejectsBadRequests(t *testing.T) {
	t.Parallel()

	handler := NewMockServer(MockOptions{}).Handler()
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "leads without identity", path: LeadsPath, body: `{"source":"x"}`},
		{name: "comments without lead", path: CommentsPath, body: `{"source":"x"}`},
		{name: "tasks bad json", path: TasksPath, body: `nope`},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, resp.Code)
		}
	}
}

func TestMockServerEchoesRequestID(t *testing.T) {
	t.Parallel()

	handler := NewMockServer(MockOptions{}).Handler()
	req := httptest.NewRequest(http.MethodPost, LeadsPath, strings.NewReader(`{"employeeId":"e","email":"e@x"}`))
	req.Header.Set("X-Request-ID", "req-1")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || resp.Header().Get("X-Request-ID") != "req-1" {
		t.Fatalf("status = %d, X-Request-ID = %q", resp.Code, resp.Header().Get("X-Request-ID"))
	}
}
