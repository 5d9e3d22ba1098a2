package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/pixelcraft-studio/portal/internal/domain/invoice"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

// Invoices accesses the invoices table and the invoice PDF bucket.
type Invoices struct {
	base
}

// NewInvoices creates an Invoices resource client.
func NewInvoices(db *client.Client, tokens Tokens) *Invoices {
	return &Invoices{base{db: db, tokens: tokens}}
}

// ForClient returns a client's invoices, newest first.
func (i *Invoices) ForClient(ctx context.Context, clientID string) ([]invoice.Invoice, error) {
	q := i.from(TableInvoices).Eq("client_id", clientID).Order("created_at", false)
	return list[invoice.Invoice](ctx, "invoices.for_client", q)
}

// All returns every invoice visible to the caller.
func (i *Invoices) All(ctx context.Context) ([]invoice.Invoice, error) {
	return list[invoice.Invoice](ctx, "invoices.all", i.from(TableInvoices).Order("created_at", false))
}

// Get returns one invoice.
func (i *Invoices) Get(ctx context.Context, id string) (invoice.Invoice, error) {
	return one[invoice.Invoice](ctx, "invoices.get", i.from(TableInvoices).Eq("id", id).Limit(1))
}

// NextNumber returns the next free invoice number in the month of at.
func (i *Invoices) NextNumber(ctx context.Context, at time.Time) (string, error) {
	prefix := invoice.FormatNumber(at, 0)
	prefix = prefix[:len(prefix)-4]

	q := i.from(TableInvoices).
		Select("invoice_number").
		Like("invoice_number", prefix+"*").
		Order("invoice_number", false).
		Limit(1)
	rows, err := list[struct {
		Number string `json:"invoice_number"`
	}](ctx, "invoices.next_number", q)
	if err != nil {
		return "", err
	}

	seq := 1
	if len(rows) > 0 {
		_, last, err := invoice.ParseNumber(rows[0].Number)
		if err != nil {
			return "", decodeError("invoices.next_number", err)
		}
		seq = last + 1
	}
	return invoice.FormatNumber(at, seq), nil
}

type invoiceRow struct {
	Number     string         `json:"invoice_number"`
	ClientID   string         `json:"client_id"`
	ClientName string         `json:"client_name"`
	RequestID  *string        `json:"request_id,omitempty"`
	Items      []invoice.Item `json:"items"`
	Subtotal   float64        `json:"subtotal"`
	TaxRate    float64        `json:"tax_rate"`
	Tax        float64        `json:"tax"`
	Total      float64        `json:"total"`
	Currency   string         `json:"currency"`
	Status     invoice.Status `json:"status"`
	DueDate    invoice.Date   `json:"due_date"`
}

// Create stores a draft invoice with computed totals under number.
func (i *Invoices) Create(ctx context.Context, d invoice.Draft, number string) (invoice.Invoice, error) {
	subtotal, tax, total := invoice.Totals(d.Items, d.TaxRate)
	row := invoiceRow{
		Number:     number,
		ClientID:   d.ClientID,
		ClientName: d.ClientName,
		Items:      d.Items,
		Subtotal:   subtotal,
		TaxRate:    d.TaxRate,
		Tax:        tax,
		Total:      total,
		Currency:   d.Currency,
		Status:     invoice.StatusDraft,
		DueDate:    d.DueDate,
	}
	if d.RequestID != "" {
		row.RequestID = &d.RequestID
	}
	return one[invoice.Invoice](ctx, "invoices.create", i.from(TableInvoices).Insert(row))
}

// UpdateStatus moves an invoice from one status to status and stamps sent_at
// or paid_at with at. The write only applies while the stored status is
// still from. Transition rules are enforced by callers.
func (i *Invoices) UpdateStatus(ctx context.Context, id string, from, status invoice.Status, at time.Time) (invoice.Invoice, error) {
	if !status.Stored() {
		return invoice.Invoice{}, fmt.Errorf("invoice status %q cannot be stored", status)
	}
	fields := map[string]any{"status": status}
	switch status {
	case invoice.StatusSent:
		fields["sent_at"] = at.UTC()
	case invoice.StatusPaid:
		fields["paid_at"] = at.UTC()
	}
	q := i.from(TableInvoices).Update(fields).Eq("id", id).Eq("status", from)
	return guarded[invoice.Invoice](ctx, "invoices.update_status", "invoice", q, string(from))
}

// Download fetches the PDF of an invoice from storage.
func (i *Invoices) Download(ctx context.Context, number string) ([]byte, error) {
	data, err := i.db.Storage().From(InvoiceBucket).Download(ctx, invoice.FileName(number), i.token())
	if err != nil {
		return nil, remote("invoices.download", err)
	}
	return data, nil
}
