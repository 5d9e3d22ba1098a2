// Package request models design requests (projects) and their status flow.
package request

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pixelcraft-studio/portal/internal/apperr"
)

// Status tracks the lifecycle of a design request.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusSubmitted  Status = "submitted"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusDelivered  Status = "delivered"
)

// Progression is the forward order of statuses.
var Progression = []Status{
	StatusDraft,
	StatusSubmitted,
	StatusInProgress,
	StatusCompleted,
	StatusDelivered,
}

func (s Status) index() int {
	for i, p := range Progression {
		if p == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.index() >= 0
}

// Next returns the status one step forward. Delivered has none.
func (s Status) Next() (Status, bool) {
	i := s.index()
	if i < 0 || i == len(Progression)-1 {
		return "", false
	}
	return Progression[i+1], true
}

// Terminal reports whether no further progression exists.
func (s Status) Terminal() bool {
	return s == StatusDelivered
}

// UnmarshalJSON rejects unknown statuses.
func (s *Status) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if !Status(v).Valid() {
		return fmt.Errorf("unknown request status %q", v)
	}
	*s = Status(v)
	return nil
}

// ParseStatus parses a user supplied status.
func ParseStatus(s string) (Status, error) {
	if !Status(s).Valid() {
		return "", fmt.Errorf("unknown request status %q", s)
	}
	return Status(s), nil
}

// CheckAdvance returns an error unless to is exactly one step after from.
func CheckAdvance(from, to Status) error {
	next, ok := from.Next()
	if !ok || next != to {
		return apperr.Transition("request", string(from), string(to))
	}
	return nil
}

// Priority orders work in the designer queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// UnmarshalJSON rejects unknown priorities.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if !Priority(v).Valid() {
		return fmt.Errorf("unknown priority %q", v)
	}
	*p = Priority(v)
	return nil
}

// Request is a row of the design_requests table.
type Request struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	Category    string    `json:"category"`
	Price       float64   `json:"price"`
	UserID      string    `json:"user_id"`
	DesignerID  *string   `json:"designer_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Designer returns the assigned designer id or "".
func (r Request) Designer() string {
	if r.DesignerID == nil {
		return ""
	}
	return *r.DesignerID
}

// Draft is the client submission form.
type Draft struct {
	Title       string   `json:"title" validate:"required,min=3,max=120"`
	Description string   `json:"description" validate:"required,min=10,max=4000"`
	Priority    Priority `json:"priority" validate:"required,oneof=low medium high"`
	Category    string   `json:"category" validate:"required,max=60"`
	Price       float64  `json:"price" validate:"gte=0"`
}

// FilterByStatus returns the requests with status s in their original order.
// An empty status returns every request.
func FilterByStatus(rs []Request, s Status) []Request {
	out := make([]Request, 0, len(rs))
	for _, r := range rs {
		if s == "" || r.Status == s {
			out = append(out, r)
		}
	}
	return out
}

// CountByStatus counts requests per status. Every status has an entry.
func CountByStatus(rs []Request) map[Status]int {
	counts := make(map[Status]int, len(Progression))
	for _, s := range Progression {
		counts[s] = 0
	}
	for _, r := range rs {
		counts[r.Status]++
	}
	return counts
}
