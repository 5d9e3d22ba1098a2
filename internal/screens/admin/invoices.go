package admin

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/config"
	"github.com/pixelcraft-studio/portal/internal/domain/invoice"
	"github.com/pixelcraft-studio/portal/internal/screens"
	"github.com/pixelcraft-studio/portal/internal/validation"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
)

// InvoiceForm is what the admin fills in. Zero tax rate, currency and due
// date take the configured defaults.
type InvoiceForm struct {
	ClientID  string         `json:"client_id" validate:"required"`
	RequestID string         `json:"request_id"`
	Items     []invoice.Item `json:"items" validate:"required,min=1,dive"`
	TaxRate   *float64       `json:"tax_rate" validate:"omitempty,gte=0,lte=1"`
	Currency  string         `json:"currency" validate:"omitempty,len=3"`
	DueDate   invoice.Date   `json:"due_date"`
}

// Invoices manages every invoice.
type Invoices struct {
	deps     screens.Deps
	defaults config.InvoiceConfig
	log      *zap.Logger
	view     *viewstate.Container[invoice.Invoice]
}

// NewInvoices creates the invoices back-office screen.
func NewInvoices(deps screens.Deps, defaults config.InvoiceConfig) *Invoices {
	s := &Invoices{deps: deps, defaults: defaults, log: logger(deps, "admin.invoices")}
	s.view = viewstate.New(s.fetch,
		viewstate.WithName[invoice.Invoice]("admin.invoices"),
		viewstate.WithLogger[invoice.Invoice](s.log))
	return s
}

func (s *Invoices) fetch(ctx context.Context, _ string) ([]invoice.Invoice, error) {
	if _, err := gate(s.deps); err != nil {
		return nil, err
	}
	return s.deps.Invoices.All(ctx)
}

// Load fetches the invoices.
func (s *Invoices) Load(ctx context.Context) error { return s.view.Load(ctx) }

// Retry re-runs the last failed load.
func (s *Invoices) Retry(ctx context.Context) error { return s.view.Retry(ctx) }

// Snapshot returns the invoices.
func (s *Invoices) Snapshot() viewstate.Snapshot[invoice.Invoice] { return s.view.Snapshot() }

// Rows derives display statuses at now.
func (s *Invoices) Rows(now time.Time) []screens.InvoiceRow {
	return screens.DisplayRows(s.view.Snapshot().Items, now)
}

// Create stores a draft invoice under the next free number of the month.
func (s *Invoices) Create(ctx context.Context, form InvoiceForm) (invoice.Invoice, error) {
	if _, err := gate(s.deps); err != nil {
		return invoice.Invoice{}, err
	}
	if err := validation.Struct(form); err != nil {
		return invoice.Invoice{}, err
	}

	now := s.now()
	draft := invoice.Draft{
		ClientID:  form.ClientID,
		RequestID: form.RequestID,
		Items:     form.Items,
		TaxRate:   s.defaults.TaxRate,
		Currency:  s.defaults.Currency,
		DueDate:   form.DueDate,
	}
	if form.TaxRate != nil {
		draft.TaxRate = *form.TaxRate
	}
	if form.Currency != "" {
		draft.Currency = form.Currency
	}
	if draft.DueDate.IsZero() {
		draft.DueDate = invoice.NewDate(now.AddDate(0, 0, s.defaults.DueDays))
	}

	client, err := s.deps.Users.Get(ctx, form.ClientID)
	if err != nil {
		return invoice.Invoice{}, err
	}
	draft.ClientName = client.DisplayName()
	if err := validation.Struct(draft); err != nil {
		return invoice.Invoice{}, err
	}

	number, err := s.deps.Invoices.NextNumber(ctx, now)
	if err != nil {
		return invoice.Invoice{}, err
	}
	created, err := s.deps.Invoices.Create(ctx, draft, number)
	if err != nil {
		return invoice.Invoice{}, err
	}
	s.log.Info("invoice created", zap.String("invoice", created.Number), zap.Float64("total", created.Total))
	s.view.Mutate(func(items []invoice.Invoice) []invoice.Invoice {
		return append([]invoice.Invoice{created}, items...)
	})
	return created, nil
}

// Send issues a draft invoice to the client.
func (s *Invoices) Send(ctx context.Context, id string) (invoice.Invoice, error) {
	return s.transition(ctx, id, invoice.StatusSent)
}

// MarkPaid records a payment received outside the portal.
func (s *Invoices) MarkPaid(ctx context.Context, id string) (invoice.Invoice, error) {
	return s.transition(ctx, id, invoice.StatusPaid)
}

// Cancel voids a draft or sent invoice.
func (s *Invoices) Cancel(ctx context.Context, id string) (invoice.Invoice, error) {
	return s.transition(ctx, id, invoice.StatusCancelled)
}

func (s *Invoices) transition(ctx context.Context, id string, to invoice.Status) (invoice.Invoice, error) {
	if _, err := gate(s.deps); err != nil {
		return invoice.Invoice{}, err
	}
	current, err := s.deps.Invoices.Get(ctx, id)
	if err != nil {
		return invoice.Invoice{}, err
	}
	if err := invoice.CheckTransition(current.Status, to); err != nil {
		return invoice.Invoice{}, err
	}
	updated, err := s.deps.Invoices.UpdateStatus(ctx, id, current.Status, to, s.now())
	if err != nil {
		return invoice.Invoice{}, err
	}
	s.log.Info("invoice status changed", zap.String("invoice", updated.Number), zap.String("to", string(to)))
	s.view.Mutate(func(items []invoice.Invoice) []invoice.Invoice {
		for i := range items {
			if items[i].ID == updated.ID {
				items[i] = updated
			}
		}
		return items
	})
	return updated, nil
}

func (s *Invoices) now() time.Time {
	if s.deps.Now != nil {
		return s.deps.Now()
	}
	return time.Now()
}

// Close unmounts the screen.
func (s *Invoices) Close() { s.view.Close() }
