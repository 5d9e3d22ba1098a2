package screens

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/domain/invoice"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
)

// InvoiceRow is an invoice with the status shown to the user.
type InvoiceRow struct {
	invoice.Invoice
	Display invoice.Status
}

// Invoices lists the signed-in client's invoices.
type Invoices struct {
	deps Deps
	view *viewstate.Container[invoice.Invoice]
}

// NewInvoices creates the invoices screen.
func NewInvoices(deps Deps) *Invoices {
	s := &Invoices{deps: deps}
	s.view = viewstate.New(s.fetch,
		viewstate.WithName[invoice.Invoice]("invoices"),
		viewstate.WithLogger[invoice.Invoice](deps.logger()))
	return s
}

func (s *Invoices) fetch(ctx context.Context, _ string) ([]invoice.Invoice, error) {
	u, ok := s.deps.Identity.Current()
	if !ok {
		return nil, apperr.ErrNotSignedIn
	}
	return s.deps.Invoices.ForClient(ctx, u.ID)
}

// Load fetches the invoices.
func (s *Invoices) Load(ctx context.Context) error { return s.view.Load(ctx) }

// Retry re-runs the last failed load.
func (s *Invoices) Retry(ctx context.Context) error { return s.view.Retry(ctx) }

// Snapshot returns the container state.
func (s *Invoices) Snapshot() viewstate.Snapshot[invoice.Invoice] { return s.view.Snapshot() }

// Rows derives the display status of every invoice at now.
func (s *Invoices) Rows(now time.Time) []InvoiceRow {
	return DisplayRows(s.view.Snapshot().Items, now)
}

// DisplayRows pairs invoices with their display status at now.
func DisplayRows(invs []invoice.Invoice, now time.Time) []InvoiceRow {
	rows := make([]InvoiceRow, len(invs))
	for i, inv := range invs {
		rows[i] = InvoiceRow{Invoice: inv, Display: invoice.DisplayStatus(inv, now)}
	}
	return rows
}

// Pay marks a sent invoice paid.
func (s *Invoices) Pay(ctx context.Context, id string) (invoice.Invoice, error) {
	inv, err := s.find(ctx, id)
	if err != nil {
		return invoice.Invoice{}, err
	}
	if err := invoice.CheckTransition(inv.Status, invoice.StatusPaid); err != nil {
		return invoice.Invoice{}, err
	}
	paid, err := s.deps.Invoices.UpdateStatus(ctx, inv.ID, inv.Status, invoice.StatusPaid, s.deps.now())
	if err != nil {
		return invoice.Invoice{}, err
	}
	s.deps.logger().Info("invoice paid", zap.String("invoice", paid.Number))
	s.view.Mutate(func(items []invoice.Invoice) []invoice.Invoice {
		return replaceInvoice(items, paid)
	})
	return paid, nil
}

// Download returns the invoice PDF and its file name.
func (s *Invoices) Download(ctx context.Context, id string) ([]byte, string, error) {
	inv, err := s.find(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := s.deps.Invoices.Download(ctx, inv.Number)
	if err != nil {
		return nil, "", err
	}
	return data, invoice.FileName(inv.Number), nil
}

// find looks id up among the loaded invoices, then remotely. Invoices of
// other clients are refused.
func (s *Invoices) find(ctx context.Context, id string) (invoice.Invoice, error) {
	u, ok := s.deps.Identity.Current()
	if !ok {
		return invoice.Invoice{}, apperr.ErrNotSignedIn
	}
	for _, inv := range s.view.Snapshot().Items {
		if inv.ID == id || inv.Number == id {
			return inv, nil
		}
	}
	inv, err := s.deps.Invoices.Get(ctx, id)
	if err != nil {
		return invoice.Invoice{}, err
	}
	if inv.ClientID != u.ID {
		return invoice.Invoice{}, apperr.ErrForbidden
	}
	return inv, nil
}

// Close unmounts the screen.
func (s *Invoices) Close() { s.view.Close() }

func replaceInvoice(items []invoice.Invoice, inv invoice.Invoice) []invoice.Invoice {
	for i := range items {
		if items[i].ID == inv.ID {
			items[i] = inv
			return items
		}
	}
	return append(items, inv)
}
