// Package invoice models invoices, their totals and the status shown to users.
package invoice

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/pixelcraft-studio/portal/internal/apperr"
)

// Status is an invoice status. Overdue is derived and never written, but
// rows carrying it are read like sent ones.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// Stored reports whether s may be persisted.
func (s Status) Stored() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Stored() || s == StatusOverdue
}

// UnmarshalJSON rejects unknown statuses.
func (s *Status) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if !Status(v).Valid() {
		return fmt.Errorf("unknown invoice status %q", v)
	}
	*s = Status(v)
	return nil
}

// Item is one invoice line.
type Item struct {
	Description string  `json:"description" validate:"required,max=200"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
}

// Amount is quantity times unit price, rounded to cents.
func (it Item) Amount() float64 {
	return Round2(it.Quantity * it.UnitPrice)
}

// Invoice is a row of the invoices table.
type Invoice struct {
	ID         string     `json:"id"`
	Number     string     `json:"invoice_number"`
	ClientID   string     `json:"client_id"`
	ClientName string     `json:"client_name"`
	RequestID  *string    `json:"request_id"`
	Items      []Item     `json:"items"`
	Subtotal   float64    `json:"subtotal"`
	TaxRate    float64    `json:"tax_rate"`
	Tax        float64    `json:"tax"`
	Total      float64    `json:"total"`
	Currency   string     `json:"currency"`
	Status     Status     `json:"status"`
	DueDate    Date       `json:"due_date"`
	SentAt     *time.Time `json:"sent_at"`
	PaidAt     *time.Time `json:"paid_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Draft is the admin form for a new invoice.
type Draft struct {
	ClientID   string  `json:"client_id" validate:"required"`
	ClientName string  `json:"client_name" validate:"required"`
	RequestID  string  `json:"request_id"`
	Items      []Item  `json:"items" validate:"required,min=1,dive"`
	TaxRate    float64 `json:"tax_rate" validate:"gte=0,lte=1"`
	Currency   string  `json:"currency" validate:"required,len=3"`
	DueDate    Date    `json:"due_date"`
}

// DisplayStatus is the status shown to users at now. Paid, cancelled and
// draft pass through; anything else is overdue once the due date has passed.
func DisplayStatus(inv Invoice, now time.Time) Status {
	switch inv.Status {
	case StatusPaid, StatusCancelled, StatusDraft:
		return inv.Status
	}
	if !inv.DueDate.IsZero() && inv.DueDate.Past(now) {
		return StatusOverdue
	}
	return StatusSent
}

// Totals computes subtotal, tax and total for items at taxRate.
func Totals(items []Item, taxRate float64) (subtotal, tax, total float64) {
	for _, it := range items {
		subtotal += it.Quantity * it.UnitPrice
	}
	subtotal = Round2(subtotal)
	tax = Round2(subtotal * taxRate)
	total = Round2(subtotal + tax)
	return subtotal, tax, total
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CheckTransition allows draft→sent, sent→paid and draft|sent→cancelled.
// A stored overdue counts as sent.
func CheckTransition(from, to Status) error {
	if from == StatusOverdue {
		from = StatusSent
	}
	switch {
	case from == StatusDraft && to == StatusSent,
		from == StatusSent && to == StatusPaid,
		(from == StatusDraft || from == StatusSent) && to == StatusCancelled:
		return nil
	}
	return apperr.Transition("invoice", string(from), string(to))
}

var numberPattern = regexp.MustCompile(`^INV-(\d{6})-(\d{4,})$`)

// FormatNumber renders the invoice number for seq within the month of at.
func FormatNumber(at time.Time, seq int) string {
	return fmt.Sprintf("INV-%s-%04d", at.UTC().Format("200601"), seq)
}

// ParseNumber splits an invoice number into its period (YYYYMM) and sequence.
func ParseNumber(number string) (period string, seq int, err error) {
	m := numberPattern.FindStringSubmatch(strings.TrimSpace(number))
	if m == nil {
		return "", 0, fmt.Errorf("invalid invoice number %q", number)
	}
	if _, err := fmt.Sscanf(m[2], "%d", &seq); err != nil {
		return "", 0, fmt.Errorf("invalid invoice number %q: %w", number, err)
	}
	return m[1], seq, nil
}

// FileName is the storage object name of the invoice PDF.
func FileName(number string) string {
	return number + ".pdf"
}
