package admin

import (
	"context"
	"sync"
	"time"

	"github.com/pixelcraft-studio/portal/internal/domain/invoice"
	"github.com/pixelcraft-studio/portal/internal/domain/request"
	"github.com/pixelcraft-studio/portal/internal/domain/user"
	"github.com/pixelcraft-studio/portal/internal/resource"
	"github.com/pixelcraft-studio/portal/internal/screens"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
)

// Report aggregates the whole portal. Amounts are sums of invoice totals.
type Report struct {
	Users            int
	UsersByRole      map[user.Role]int
	UsersByStatus    map[user.Status]int
	Requests         int
	RequestsByStatus map[request.Status]int
	InvoicesByStatus map[invoice.Status]int
	Revenue          float64
	Outstanding      float64
	Overdue          float64
	GeneratedAt      time.Time
}

// Analytics computes the back-office report.
type Analytics struct {
	deps screens.Deps
	view *viewstate.Container[Report]
}

// NewAnalytics creates the analytics screen.
func NewAnalytics(deps screens.Deps) *Analytics {
	s := &Analytics{deps: deps}
	s.view = viewstate.New(s.fetch,
		viewstate.WithName[Report]("admin.analytics"),
		viewstate.WithLogger[Report](logger(deps, "admin.analytics")))
	return s
}

func (s *Analytics) fetch(ctx context.Context, _ string) ([]Report, error) {
	if _, err := gate(s.deps); err != nil {
		return nil, err
	}

	var (
		wg       sync.WaitGroup
		users    []user.User
		requests []request.Request
		invoices []invoice.Invoice
		errs     [3]error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		users, errs[0] = s.deps.Users.List(ctx, resource.UserFilter{})
	}()
	go func() {
		defer wg.Done()
		requests, errs[1] = s.deps.Requests.All(ctx, "")
	}()
	go func() {
		defer wg.Done()
		invoices, errs[2] = s.deps.Invoices.All(ctx)
	}()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	if s.deps.Now != nil {
		now = s.deps.Now()
	}
	return []Report{Build(users, requests, invoices, now)}, nil
}

// Build computes a report. Paid invoices count as revenue, sent ones as
// outstanding until they are overdue at now.
func Build(users []user.User, requests []request.Request, invoices []invoice.Invoice, now time.Time) Report {
	r := Report{
		Users:            len(users),
		UsersByRole:      make(map[user.Role]int, len(user.Roles)),
		UsersByStatus:    make(map[user.Status]int),
		Requests:         len(requests),
		RequestsByStatus: request.CountByStatus(requests),
		InvoicesByStatus: make(map[invoice.Status]int),
		GeneratedAt:      now,
	}
	for _, role := range user.Roles {
		r.UsersByRole[role] = 0
	}
	for _, u := range users {
		r.UsersByRole[u.Role]++
		r.UsersByStatus[u.Status]++
	}
	for _, inv := range invoices {
		status := invoice.DisplayStatus(inv, now)
		r.InvoicesByStatus[status]++
		switch status {
		case invoice.StatusPaid:
			r.Revenue += inv.Total
		case invoice.StatusSent:
			r.Outstanding += inv.Total
		case invoice.StatusOverdue:
			r.Overdue += inv.Total
		}
	}
	r.Revenue = invoice.Round2(r.Revenue)
	r.Outstanding = invoice.Round2(r.Outstanding)
	r.Overdue = invoice.Round2(r.Overdue)
	return r
}

// Load computes the report.
func (s *Analytics) Load(ctx context.Context) error { return s.view.Load(ctx) }

// Retry re-runs the last failed load.
func (s *Analytics) Retry(ctx context.Context) error { return s.view.Retry(ctx) }

// Report returns the last computed report.
func (s *Analytics) Report() (Report, viewstate.Snapshot[Report]) {
	snap := s.view.Snapshot()
	if len(snap.Items) == 0 {
		return Report{}, snap
	}
	return snap.Items[0], snap
}

// Close unmounts the screen.
func (s *Analytics) Close() { s.view.Close() }
