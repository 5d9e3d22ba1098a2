package resource

import (
	"context"

	"github.com/pixelcraft-studio/portal/internal/domain/request"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

// Requests accesses the design_requests table.
type Requests struct {
	base
}

// NewRequests creates a Requests resource client.
func NewRequests(db *client.Client, tokens Tokens) *Requests {
	return &Requests{base{db: db, tokens: tokens}}
}

// ForOwner returns the requests a client submitted, newest first. An empty
// status matches every status.
func (r *Requests) ForOwner(ctx context.Context, userID string, status request.Status) ([]request.Request, error) {
	q := r.from(TableRequests).Select("*").Eq("user_id", userID)
	return r.run(ctx, "requests.for_owner", q, status)
}

// ForDesigner returns the requests assigned to a designer.
func (r *Requests) ForDesigner(ctx context.Context, designerID string, status request.Status) ([]request.Request, error) {
	q := r.from(TableRequests).Select("*").Eq("designer_id", designerID)
	return r.run(ctx, "requests.for_designer", q, status)
}

// All returns every request visible to the caller.
func (r *Requests) All(ctx context.Context, status request.Status) ([]request.Request, error) {
	return r.run(ctx, "requests.all", r.from(TableRequests).Select("*"), status)
}

func (r *Requests) run(ctx context.Context, op string, q *client.QueryBuilder, status request.Status) ([]request.Request, error) {
	if status != "" {
		q = q.Eq("status", status)
	}
	return list[request.Request](ctx, op, q.Order("created_at", false))
}

// Get returns one request.
func (r *Requests) Get(ctx context.Context, id string) (request.Request, error) {
	return one[request.Request](ctx, "requests.get", r.from(TableRequests).Eq("id", id).Limit(1))
}

type requestRow struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Status      request.Status   `json:"status"`
	Priority    request.Priority `json:"priority"`
	Category    string           `json:"category"`
	Price       float64          `json:"price"`
	UserID      string           `json:"user_id"`
}

// Create stores a new request owned by ownerID with the given initial status.
func (r *Requests) Create(ctx context.Context, ownerID string, d request.Draft, status request.Status) (request.Request, error) {
	row := requestRow{
		Title:       d.Title,
		Description: d.Description,
		Status:      status,
		Priority:    d.Priority,
		Category:    d.Category,
		Price:       d.Price,
		UserID:      ownerID,
	}
	return one[request.Request](ctx, "requests.create", r.from(TableRequests).Insert(row))
}

// UpdateStatus moves a request from one status to another. The write only
// applies while the stored status is still from. Transition rules are
// enforced by callers.
func (r *Requests) UpdateStatus(ctx context.Context, id string, from, to request.Status) (request.Request, error) {
	q := r.from(TableRequests).
		Update(map[string]any{"status": to}).
		Eq("id", id).
		Eq("status", from)
	return guarded[request.Request](ctx, "requests.update_status", "request", q, string(from))
}

// Assign sets the designer of a request.
func (r *Requests) Assign(ctx context.Context, id, designerID string) (request.Request, error) {
	q := r.from(TableRequests).Update(map[string]any{"designer_id": designerID}).Eq("id", id)
	return one[request.Request](ctx, "requests.assign", q)
}
