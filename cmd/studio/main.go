// Command studio is the terminal client of the design portal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pixelcraft-studio/portal/internal/cli"
)

var version = "dev"

const usage = `PixelCraft Studio portal

Usage:
  studio [--config file] <command> [options]

Account:
  login       Sign in with email and password
  signup      Create an account
  logout      Sign out
  whoami      Show the signed-in user

Client:
  dashboard   Summarize your design requests
  requests    List your design requests (-status)
  submit      Submit a new design request
  invoices    List your invoices
  pay         Pay a sent invoice: pay <invoice>
  download    Download an invoice PDF: download <invoice> [-o dir]
  inbox       List conversations
  chat        Open the conversation of a request: chat <request-id>

Back office:
  admin       users | set-role | set-status | projects | advance | override |
              assign | invoices | invoice-create | invoice-send | invoice-paid |
              invoice-cancel | analytics

Other:
  completion  Print or install a shell completion script: completion <bash|zsh|fish> [-install]
  version     Show version information
  help        Show this help
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	out := cli.NewPrinter(stdout, stderr)

	global := flag.NewFlagSet("studio", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", os.Getenv("STUDIO_CONFIG"), "Configuration file path")
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	case "version":
		fmt.Fprintf(stdout, "studio %s\n", version)
		return 0
	case "completion":
		return exit(out, completion(out, cmdArgs), "")
	}

	h, ok := commands[cmd]
	if !ok {
		out.Error("unknown command %q", cmd)
		fmt.Fprint(stderr, usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, *configPath, stdin, out)
	if err != nil {
		out.Error("%v", err)
		return 1
	}
	defer a.Close()

	return exit(out, h(ctx, a, cmdArgs), "studio "+strings.Join(args, " "))
}

func exit(out *cli.Printer, err error, rerun string) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	out.Failure(err, rerun)
	return 1
}

func completion(out *cli.Printer, args []string) error {
	fs := flag.NewFlagSet("completion", flag.ContinueOnError)
	install := fs.Bool("install", false, "Install the script under your home directory")
	shell, err := parseWithArgs(fs, args, 1)
	if err != nil {
		return err
	}
	if !*install {
		return cli.GenerateCompletion(out.Out(), shell[0])
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	path, err := cli.InstallCompletion(home, shell[0])
	if err != nil {
		return err
	}
	out.Success("completion installed to %s", path)
	return nil
}

// parseWithArgs parses flags placed before or after exactly n positional
// arguments.
func parseWithArgs(fs *flag.FlagSet, args []string, n int) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
	if len(positional) != n {
		return nil, fmt.Errorf("%s: expected %d argument(s), got %d", fs.Name(), n, len(positional))
	}
	return positional, nil
}
