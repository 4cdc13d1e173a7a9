package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/domain/lead"
	"crmdash/internal/errs"
	"crmdash/internal/ports"
)

const (
	DefaultSource  = "crm-dashboard"
	DefaultTimeout = 15 * time.Second

	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 512
)

var ErrMissingData = errors.New("response has no message.data")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("POST %s: status %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("POST %s: status %d: %s", e.Endpoint, e.Code, e.Body)
}

type Options struct {
	Endpoint         string
	CommentsEndpoint string
	TasksEndpoint    string
	Source           string
	Timeout          time.Duration
}

// Client talks to the remote lead API. Comments and tasks are served only
// when their endpoints are configured.
type Client struct {
	http    *http.Client
	options Options
}

var (
	_ ports.LeadSource    = (*Client)(nil)
	_ ports.CommentSource = (*Client)(nil)
	_ ports.TaskSource    = (*Client)(nil)
)

func NewClient(options Options, httpClient *http.Client) (*Client, error) {
	options.Endpoint = strings.TrimSpace(options.Endpoint)
	if options.Endpoint == "" {
		return nil, errors.New("datasource endpoint is required")
	}
	if strings.TrimSpace(options.Source) == "" {
		options.Source = DefaultSource
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: options.Timeout}
	}
	return &Client{http: httpClient, options: options}, nil
}

func (c *Client) HasComments() bool { return strings.TrimSpace(c.options.CommentsEndpoint) != "" }

func (c *Client) HasTasks() bool { return strings.TrimSpace(c.options.TasksEndpoint) != "" }

type leadsRequest struct {
	Source     string `json:"source"`
	EmployeeID string `json:"employeeId"`
	Email      string `json:"email"`
	Team       string `json:"team"`
}

type leadScopedRequest struct {
	Source string `json:"source"`
	LeadID string `json:"leadId"`
}

type envelope struct {
	Message *struct {
		Data json.RawMessage `json:"data"`
	} `json:"message"`
}

func (c *Client) FetchLeads(ctx context.Context, identity lead.Identity) ([]lead.RawLead, error) {
	return post[[]lead.RawLead](ctx, c, c.options.Endpoint, leadsRequest{
		Source:     c.options.Source,
		EmployeeID: identity.EmployeeID,
		Email:      identity.Email,
		Team:       identity.Team,
	})
}

func (c *Client) FetchComments(ctx context.Context, leadID string) ([]lead.Comment, error) {
	if !c.HasComments() {
		return []lead.Comment{}, nil
	}
	return post[[]lead.Comment](ctx, c, c.options.CommentsEndpoint, leadScopedRequest{Source: c.options.Source, LeadID: leadID})
}

func (c *Client) FetchTasks(ctx context.Context, leadID string) ([]lead.Task, error) {
	if !c.HasTasks() {
		return []lead.Task{}, nil
	}
	return post[[]lead.Task](ctx, c, c.options.TasksEndpoint, leadScopedRequest{Source: c.options.Source, LeadID: leadID})
}

// post sends one JSON request and decodes message.data into T. Failures are
// returned as-is; retrying is left to the caller.
func post[T any](ctx context.Context, c *Client, endpoint string, body any) (T, error) {
	var zero T
	if ctx == nil {
		return zero, errors.New("context is required")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return zero, errs.Wrap(err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return zero, errs.Wrapf(err, "build request %s", endpoint)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "datasource.client"),
		slog.String("endpoint", endpoint),
		slog.String("request_id", requestID),
	)
	started := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, errs.Wrapf(err, "POST %s", endpoint)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, errs.Wrapf(err, "read response %s", endpoint)
	}
	logging.Debug(logCtx, "datasource response",
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return zero, &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: snippet}
	}

	var decoded envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return zero, errs.Wrapf(err, "decode response %s", endpoint)
	}
	if decoded.Message == nil || len(decoded.Message.Data) == 0 || string(decoded.Message.Data) == "null" {
		return zero, ErrMissingData
	}

	var out T
	if err := json.Unmarshal(decoded.Message.Data, &out); err != nil {
		return zero, errs.Wrapf(err, "decode message.data %s", endpoint)
	}
	return out, nil
}
