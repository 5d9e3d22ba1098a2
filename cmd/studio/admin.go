package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pixelcraft-studio/portal/internal/cli"
	"github.com/pixelcraft-studio/portal/internal/domain/invoice"
	"github.com/pixelcraft-studio/portal/internal/domain/request"
	"github.com/pixelcraft-studio/portal/internal/domain/user"
	"github.com/pixelcraft-studio/portal/internal/resource"
	"github.com/pixelcraft-studio/portal/internal/screens/admin"
)

var adminCommands = map[string]handler{
	"users":          adminUsers,
	"set-role":       adminSetRole,
	"set-status":     adminSetStatus,
	"projects":       adminProjects,
	"advance":        adminAdvance,
	"override":       adminOverride,
	"assign":         adminAssign,
	"invoices":       adminInvoices,
	"invoice-create": adminInvoiceCreate,
	"invoice-send":   invoiceAction("sent", (*admin.Invoices).Send),
	"invoice-paid":   invoiceAction("marked paid", (*admin.Invoices).MarkPaid),
	"invoice-cancel": invoiceAction("cancelled", (*admin.Invoices).Cancel),
	"analytics":      adminAnalytics,
}

func adminCmd(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("admin: expected one of %s", strings.Join(adminNames(), ", "))
	}
	h, ok := adminCommands[args[0]]
	if !ok {
		return fmt.Errorf("admin: unknown command %q", args[0])
	}
	return h(ctx, a, args[1:])
}

func adminNames() []string {
	names := make([]string, 0, len(adminCommands))
	for n := range adminCommands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func adminUsers(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("admin users", flag.ContinueOnError)
	role := fs.String("role", "", "Only show this role")
	status := fs.String("status", "", "Only show this status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := admin.NewUsers(a.deps)
	defer s.Close()
	if err := s.SetFilter(resource.UserFilter{Role: user.Role(*role), Status: user.Status(*status)}); err != nil {
		return err
	}
	if err := a.load("loading users", func() error { return s.Load(ctx) }); err != nil {
		return err
	}
	items := s.Snapshot().Items
	if len(items) == 0 {
		a.out.Info("no matching users")
		return nil
	}
	rows := make([][]string, len(items))
	for i, u := range items {
		rows[i] = []string{u.ID, u.DisplayName(), u.Email, string(u.Role), a.out.Status(string(u.Status)), strconv.Itoa(u.Level)}
	}
	return a.out.Table([]string{"ID", "NAME", "EMAIL", "ROLE", "STATUS", "LEVEL"}, rows)
}

func adminSetRole(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("admin set-role: expected <user-id> <role>")
	}
	s := admin.NewUsers(a.deps)
	defer s.Close()
	u, err := s.SetRole(ctx, args[0], user.Role(args[1]))
	if err != nil {
		return err
	}
	a.out.Success("%s is now %s", u.DisplayName(), u.Role)
	return nil
}

func adminSetStatus(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("admin set-status: expected <user-id> <status>")
	}
	s := admin.NewUsers(a.deps)
	defer s.Close()
	u, err := s.SetStatus(ctx, args[0], user.Status(args[1]))
	if err != nil {
		return err
	}
	a.out.Success("%s is now %s", u.DisplayName(), a.out.Status(string(u.Status)))
	return nil
}

func adminProjects(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("admin projects", flag.ContinueOnError)
	status := fs.String("status", "", "Only show this status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := admin.NewProjects(a.deps)
	defer s.Close()
	if err := s.SetFilter(request.Status(*status)); err != nil {
		return err
	}
	if err := a.load("loading projects", func() error { return s.Load(ctx) }); err != nil {
		return err
	}
	items := s.Snapshot().Items
	if len(items) == 0 {
		a.out.Info("no matching projects")
		return nil
	}
	rows := make([][]string, len(items))
	for i, r := range items {
		rows[i] = []string{r.ID, cli.Truncate(r.Title, 32), a.out.Status(string(r.Status)), string(r.Priority), r.UserID, r.Designer()}
	}
	return a.out.Table([]string{"ID", "TITLE", "STATUS", "PRIORITY", "CLIENT", "DESIGNER"}, rows)
}

func adminAdvance(ctx context.Context, a *app, args []string) error {
	id, err := oneArg("admin advance", args)
	if err != nil {
		return err
	}
	s := admin.NewProjects(a.deps)
	defer s.Close()
	r, err := s.Advance(ctx, id)
	if err != nil {
		return err
	}
	a.out.Success("request %s is now %s", r.ID, a.out.Status(string(r.Status)))
	return nil
}

func adminOverride(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("admin override: expected <request-id> <status>")
	}
	s := admin.NewProjects(a.deps)
	defer s.Close()
	r, err := s.Override(ctx, args[0], request.Status(args[1]))
	if err != nil {
		return err
	}
	a.out.Warning("request %s forced to %s", r.ID, r.Status)
	return nil
}

func adminAssign(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("admin assign: expected <request-id> <designer-id>")
	}
	s := admin.NewProjects(a.deps)
	defer s.Close()
	r, err := s.Assign(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	a.out.Success("request %s assigned to %s", r.ID, r.Designer())
	return nil
}

func adminInvoices(ctx context.Context, a *app, _ []string) error {
	s := admin.NewInvoices(a.deps, a.cfg.Invoice)
	defer s.Close()
	if err := a.load("loading invoices", func() error { return s.Load(ctx) }); err != nil {
		return err
	}
	return invoiceTable(a.out, s.Rows(time.Now()))
}

// itemsFlag collects repeated -item "description:quantity:unit price" values.
type itemsFlag []invoice.Item

func (f *itemsFlag) String() string {
	parts := make([]string, len(*f))
	for i, it := range *f {
		parts[i] = fmt.Sprintf("%s:%g:%g", it.Description, it.Quantity, it.UnitPrice)
	}
	return strings.Join(parts, ", ")
}

func (f *itemsFlag) Set(v string) error {
	it, err := parseItem(v)
	if err != nil {
		return err
	}
	*f = append(*f, it)
	return nil
}

func parseItem(v string) (invoice.Item, error) {
	i := strings.LastIndexByte(v, ':')
	if i < 0 {
		return invoice.Item{}, fmt.Errorf("item %q: want description:quantity:unit price", v)
	}
	head, priceText := v[:i], v[i+1:]
	j := strings.LastIndexByte(head, ':')
	if j < 0 {
		return invoice.Item{}, fmt.Errorf("item %q: want description:quantity:unit price", v)
	}
	desc, qtyText := head[:j], head[j+1:]

	qty, err := strconv.ParseFloat(strings.TrimSpace(qtyText), 64)
	if err != nil {
		return invoice.Item{}, fmt.Errorf("item %q: bad quantity: %w", v, err)
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(priceText), 64)
	if err != nil {
		return invoice.Item{}, fmt.Errorf("item %q: bad unit price: %w", v, err)
	}
	return invoice.Item{Description: strings.TrimSpace(desc), Quantity: qty, UnitPrice: price}, nil
}

func adminInvoiceCreate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("admin invoice-create", flag.ContinueOnError)
	clientID := fs.String("client", "", "Client user id")
	requestID := fs.String("request", "", "Related request id")
	tax := fs.String("tax", "", "Tax rate between 0 and 1 (defaults to the configured rate)")
	currency := fs.String("currency", "", "ISO currency code (defaults to the configured one)")
	due := fs.String("due", "", "Due date YYYY-MM-DD")
	var items itemsFlag
	fs.Var(&items, "item", `Line item "description:quantity:unit price", repeatable`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	form := admin.InvoiceForm{
		ClientID:  *clientID,
		RequestID: *requestID,
		Items:     items,
		Currency:  strings.ToUpper(*currency),
	}
	if *tax != "" {
		rate, err := strconv.ParseFloat(*tax, 64)
		if err != nil {
			return fmt.Errorf("tax: %w", err)
		}
		form.TaxRate = &rate
	}
	if *due != "" {
		d, err := invoice.ParseDate(*due)
		if err != nil {
			return fmt.Errorf("due: %w", err)
		}
		form.DueDate = d
	}

	s := admin.NewInvoices(a.deps, a.cfg.Invoice)
	defer s.Close()
	inv, err := s.Create(ctx, form)
	if err != nil {
		return err
	}
	a.out.Success("draft invoice %s for %s: %s due %s", inv.Number, inv.ClientName, cli.Money(inv.Total, inv.Currency), inv.DueDate)
	return nil
}

func invoiceAction(done string, act func(*admin.Invoices, context.Context, string) (invoice.Invoice, error)) handler {
	return func(ctx context.Context, a *app, args []string) error {
		id, err := oneArg("admin invoice", args)
		if err != nil {
			return err
		}
		s := admin.NewInvoices(a.deps, a.cfg.Invoice)
		defer s.Close()
		inv, err := act(s, ctx, id)
		if err != nil {
			return err
		}
		a.out.Success("invoice %s %s", inv.Number, done)
		return nil
	}
}

func adminAnalytics(ctx context.Context, a *app, _ []string) error {
	s := admin.NewAnalytics(a.deps)
	defer s.Close()
	if err := a.load("computing analytics", func() error { return s.Load(ctx) }); err != nil {
		return err
	}
	r, _ := s.Report()

	rows := [][]string{
		{"users", strconv.Itoa(r.Users)},
	}
	for _, role := range user.Roles {
		rows = append(rows, []string{"  " + string(role), strconv.Itoa(r.UsersByRole[role])})
	}
	rows = append(rows, []string{"requests", strconv.Itoa(r.Requests)})
	for _, st := range request.Progression {
		rows = append(rows, []string{"  " + string(st), strconv.Itoa(r.RequestsByStatus[st])})
	}
	rows = append(rows,
		[]string{"revenue", cli.Money(r.Revenue, a.cfg.Invoice.Currency)},
		[]string{"outstanding", cli.Money(r.Outstanding, a.cfg.Invoice.Currency)},
		[]string{"overdue", a.out.Colorize(cli.Money(r.Overdue, a.cfg.Invoice.Currency), cli.ColorRed)},
	)
	return a.out.Table([]string{"METRIC", "VALUE"}, rows)
}
