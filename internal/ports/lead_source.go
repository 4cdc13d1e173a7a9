package ports

import (
	"context"

	"crmdash/internal/domain/lead"
)

// LeadSource is the remote lead API.
type LeadSource interface {
	FetchLeads(ctx context.Context, identity lead.Identity) ([]lead.RawLead, error)
}

// CommentSource and TaskSource are optional; the fetch service works without them.
type CommentSource interface {
	FetchComments(ctx context.Context, leadID string) ([]lead.Comment, error)
}

type TaskSource interface {
	FetchTasks(ctx context.Context, leadID string) ([]lead.Task, error)
}
