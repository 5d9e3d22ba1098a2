package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pixelcraft-studio/portal/internal/cli"
	"github.com/pixelcraft-studio/portal/internal/domain/request"
	"github.com/pixelcraft-studio/portal/internal/identity"
	"github.com/pixelcraft-studio/portal/internal/screens"
	"github.com/pixelcraft-studio/portal/internal/validation"
)

type handler func(ctx context.Context, a *app, args []string) error

var commands = map[string]handler{
	"login":     login,
	"signup":    signup,
	"logout":    logout,
	"whoami":    whoami,
	"dashboard": dashboard,
	"requests":  requests,
	"submit":    submit,
	"invoices":  invoices,
	"pay":       pay,
	"download":  download,
	"inbox":     inbox,
	"chat":      chatCmd,
	"admin":     adminCmd,
}

// prompt reads one line from stdin when value is empty.
func (a *app) prompt(label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprintf(a.out.Out(), "%s: ", label)
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}

func login(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "Account email")
	password := fs.String("password", os.Getenv("STUDIO_PASSWORD"), "Account password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var form validation.SignIn
	var err error
	if form.Email, err = a.prompt("Email", *email); err != nil {
		return err
	}
	if form.Password, err = a.prompt("Password", *password); err != nil {
		return err
	}
	u, err := a.ident.SignIn(ctx, form)
	if err != nil {
		return err
	}
	a.out.Success("signed in as %s (%s)", u.DisplayName(), u.Role)
	return nil
}

func signup(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	name := fs.String("name", "", "Display name")
	email := fs.String("email", "", "Account email")
	password := fs.String("password", os.Getenv("STUDIO_PASSWORD"), "Account password")
	confirm := fs.String("confirm", "", "Password confirmation (defaults to a prompt)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var form validation.SignUp
	var err error
	if form.Name, err = a.prompt("Name", *name); err != nil {
		return err
	}
	if form.Email, err = a.prompt("Email", *email); err != nil {
		return err
	}
	if form.Password, err = a.prompt("Password", *password); err != nil {
		return err
	}
	if form.ConfirmPassword, err = a.prompt("Confirm password", *confirm); err != nil {
		return err
	}

	u, err := a.ident.SignUp(ctx, form)
	if errors.Is(err, identity.ErrConfirmationPending) {
		a.out.Info("account created, confirm your email address and then run `studio login`")
		return nil
	}
	if err != nil {
		return err
	}
	a.out.Success("welcome, %s", u.DisplayName())
	return nil
}

func logout(ctx context.Context, a *app, _ []string) error {
	if err := a.ident.SignOut(ctx); err != nil {
		return err
	}
	a.out.Success("signed out")
	return nil
}

func whoami(_ context.Context, a *app, _ []string) error {
	u, ok := a.ident.Current()
	if !ok {
		a.out.Info("not signed in")
		return nil
	}
	rows := [][]string{
		{"id", u.ID},
		{"name", u.DisplayName()},
		{"email", u.Email},
		{"role", string(u.Role)},
		{"status", a.out.Status(string(u.Status))},
		{"level", fmt.Sprintf("%d (%d xp)", u.Level, u.XP)},
	}
	if exp := a.ident.ExpiresAt(); !exp.IsZero() {
		rows = append(rows, []string{"session expires", exp.Local().Format(time.RFC1123)})
	}
	return a.out.Table([]string{"FIELD", "VALUE"}, rows)
}

func dashboard(ctx context.Context, a *app, _ []string) error {
	d := screens.NewDashboard(a.deps)
	defer d.Close()
	if err := a.load("loading dashboard", func() error { return d.Load(ctx) }); err != nil {
		return err
	}

	s := d.Summary()
	var counts []string
	for _, st := range request.Progression {
		counts = append(counts, fmt.Sprintf("%s %d", a.out.Status(string(st)), s.Counts[st]))
	}
	fmt.Fprintln(a.out.Out(), strings.Join(counts, "  ·  "))
	if s.Empty() {
		a.out.Info("no design requests yet, run `studio submit` to create one")
		return nil
	}
	fmt.Fprintln(a.out.Out())
	return requestTable(a.out, s.Recent)
}

func requestTable(out *cli.Printer, rs []request.Request) error {
	rows := make([][]string, len(rs))
	for i, r := range rs {
		rows[i] = []string{
			r.ID,
			cli.Truncate(r.Title, 40),
			out.Status(string(r.Status)),
			string(r.Priority),
			r.CreatedAt.Local().Format("2006-01-02"),
		}
	}
	return out.Table([]string{"ID", "TITLE", "STATUS", "PRIORITY", "CREATED"}, rows)
}

func requests(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("requests", flag.ContinueOnError)
	status := fs.String("status", "", "Only show requests with this status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := screens.NewRequests(a.deps)
	defer s.Close()
	if err := s.SetFilter(request.Status(*status)); err != nil {
		return err
	}
	if err := a.load("loading requests", func() error { return s.Load(ctx) }); err != nil {
		return err
	}
	snap := s.Snapshot()
	if len(snap.Items) == 0 {
		a.out.Info("no matching requests")
		return nil
	}
	return requestTable(a.out, snap.Items)
}

func submit(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	title := fs.String("title", "", "Short title")
	description := fs.String("description", "", "What you need")
	priority := fs.String("priority", string(request.PriorityMedium), "low, medium or high")
	category := fs.String("category", "", "Category, e.g. logo or print")
	price := fs.Float64("price", 0, "Budget")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := screens.NewRequests(a.deps)
	defer s.Close()
	created, err := s.Submit(ctx, request.Draft{
		Title:       *title,
		Description: *description,
		Priority:    request.Priority(*priority),
		Category:    *category,
		Price:       *price,
	})
	if err != nil {
		return err
	}
	a.out.Success("request %s submitted", created.ID)
	return nil
}

func invoices(ctx context.Context, a *app, _ []string) error {
	s := screens.NewInvoices(a.deps)
	defer s.Close()
	if err := a.load("loading invoices", func() error { return s.Load(ctx) }); err != nil {
		return err
	}
	return invoiceTable(a.out, s.Rows(time.Now()))
}

func invoiceTable(out *cli.Printer, rows []screens.InvoiceRow) error {
	if len(rows) == 0 {
		out.Info("no invoices")
		return nil
	}
	table := make([][]string, len(rows))
	for i, r := range rows {
		table[i] = []string{
			r.Number,
			cli.Truncate(r.ClientName, 24),
			cli.Money(r.Total, r.Currency),
			out.Status(string(r.Display)),
			r.DueDate.String(),
		}
	}
	return out.Table([]string{"NUMBER", "CLIENT", "TOTAL", "STATUS", "DUE"}, table)
}

func pay(ctx context.Context, a *app, args []string) error {
	id, err := oneArg("pay", args)
	if err != nil {
		return err
	}
	s := screens.NewInvoices(a.deps)
	defer s.Close()
	paid, err := s.Pay(ctx, id)
	if err != nil {
		return err
	}
	a.out.Success("invoice %s paid (%s)", paid.Number, cli.Money(paid.Total, paid.Currency))
	return nil
}

func download(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	dir := fs.String("o", ".", "Output directory")
	pos, err := parseWithArgs(fs, args, 1)
	if err != nil {
		return err
	}

	s := screens.NewInvoices(a.deps)
	defer s.Close()
	var (
		data []byte
		name string
	)
	err = a.load("downloading invoice", func() error {
		var err error
		data, name, err = s.Download(ctx, pos[0])
		return err
	})
	if err != nil {
		return err
	}
	path := filepath.Join(*dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	a.out.Success("saved %s (%s bytes)", path, strconv.Itoa(len(data)))
	return nil
}

func inbox(ctx context.Context, a *app, _ []string) error {
	s := screens.NewInbox(a.deps)
	defer s.Close()
	if err := a.load("loading conversations", func() error { return s.Load(ctx) }); err != nil {
		return err
	}
	snap := s.Snapshot()
	if snap.Empty() {
		a.out.Info("no conversations yet")
		return nil
	}
	rows := make([][]string, len(snap.Items))
	now := time.Now()
	for i, c := range snap.Items {
		last, when := "", ""
		if c.HasLast {
			last = cli.Truncate(c.Last.Text, 48)
			when = cli.Ago(c.Last.CreatedAt, now)
		}
		unread := ""
		if c.Unread > 0 {
			unread = a.out.Colorize(strconv.Itoa(c.Unread), cli.ColorBold)
		}
		rows[i] = []string{c.RequestID, last, when, unread}
	}
	return a.out.Table([]string{"REQUEST", "LAST MESSAGE", "WHEN", "UNREAD"}, rows)
}

func oneArg(name string, args []string) (string, error) {
	if len(args) != 1 || strings.HasPrefix(args[0], "-") {
		return "", fmt.Errorf("%s: expected exactly one argument", name)
	}
	return args[0], nil
}
