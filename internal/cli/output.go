// Package cli provides terminal output helpers for the studio command:
// colored status lines, error banners, tables and a loading spinner.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/pixelcraft-studio/portal/internal/apperr"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
)

// Printer writes user-facing output. Colors are used only on terminals.
type Printer struct {
	out   io.Writer
	err   io.Writer
	color bool
}

// NewPrinter creates a printer writing results to out and failures to errOut.
func NewPrinter(out, errOut io.Writer) *Printer {
	return &Printer{out: out, err: errOut, color: isTerminal(out)}
}

// NoColor disables colored output
func (p *Printer) NoColor() *Printer {
	p.color = false
	return p
}

// Out returns the result writer.
func (p *Printer) Out() io.Writer { return p.out }

// Colorize returns text in color when colors are enabled.
func (p *Printer) Colorize(text, color string) string {
	if !p.color || color == "" {
		return text
	}
	return color + text + ColorReset
}

// Status colors a lifecycle status by how much attention it needs.
func (p *Printer) Status(status string) string {
	return p.Colorize(status, statusColor(status))
}

func statusColor(status string) string {
	switch status {
	case "overdue", "suspended", "cancelled", "failed":
		return ColorRed
	case "draft", "submitted", "pending", "inactive":
		return ColorYellow
	case "in-progress", "sent":
		return ColorCyan
	case "completed", "delivered", "paid", "active", "confirmed":
		return ColorGreen
	}
	return ""
}

// Success prints a success line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.Colorize("✓", ColorGreen), fmt.Sprintf(format, args...))
}

// Info prints an informational line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.Colorize("ℹ", ColorBlue), fmt.Sprintf(format, args...))
}

// Warning prints a warning line to the error writer.
func (p *Printer) Warning(format string, args ...any) {
	fmt.Fprintf(p.err, "%s %s\n", p.Colorize("⚠", ColorYellow), fmt.Sprintf(format, args...))
}

// Error prints an error line to the error writer.
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintf(p.err, "%s %s\n", p.Colorize("✗", ColorRed), fmt.Sprintf(format, args...))
}

// Failure prints the banner for a failed command. Field errors are listed
// one per line. Remote failures end with the command to rerun, which is the
// only retry there is.
func (p *Printer) Failure(err error, rerun string) {
	if err == nil {
		return
	}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		p.Error("please fix the following:")
		fields := make([]string, 0, len(ve.Fields))
		for f := range ve.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(p.err, "    %s %s\n", p.Colorize(f, ColorBold), ve.Fields[f])
		}
		return
	}

	p.Error("%s", apperr.Message(err))
	if rerun != "" && apperr.IsRemote(err) {
		fmt.Fprintf(p.err, "  %s\n", p.Colorize("run `"+rerun+"` to try again", ColorDim))
	}
	if errors.Is(err, apperr.ErrNotSignedIn) {
		fmt.Fprintf(p.err, "  %s\n", p.Colorize("run `studio login` first", ColorDim))
	}
}

// Table prints rows aligned under headers.
func (p *Printer) Table(headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, p.Colorize(strings.Join(headers, "\t"), ColorBold))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Spinner creates a spinner writing to the error writer.
func (p *Printer) Spinner(prefix string) *Spinner {
	return &Spinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix:   prefix,
		writer:   p.err,
		colorize: p.color,
		enabled:  isTerminal(p.err),
	}
}

// Spinner is a loading indicator shown while a screen fetches. It stays
// silent when the writer is not a terminal.
type Spinner struct {
	frames   []string
	current  int
	prefix   string
	mu       sync.Mutex
	writer   io.Writer
	active   bool
	colorize bool
	enabled  bool
	done     chan struct{}
}

// Start starts the spinner
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active || !s.enabled {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if !s.active {
					s.mu.Unlock()
					return
				}
				s.render()
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			case <-done:
				return
			}
		}
	}()
}

// Stop stops the spinner and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false
	close(s.done)
	fmt.Fprint(s.writer, "\r"+strings.Repeat(" ", len(s.prefix)+4)+"\r")
}

func (s *Spinner) render() {
	frame := s.frames[s.current]
	if s.colorize {
		frame = ColorCyan + frame + ColorReset
	}
	fmt.Fprintf(s.writer, "\r%s %s", frame, s.prefix)
}

// Ago renders how long before now t was, for "updated ..." footers.
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < time.Second {
		return "just now"
	}
	return formatDuration(d) + " ago"
}

// Money formats an amount with its currency code.
func Money(amount float64, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%.2f", amount)
	}
	return fmt.Sprintf("%.2f %s", amount, currency)
}

// Truncate shortens s to n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
