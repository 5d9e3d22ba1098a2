package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/chat"
	"github.com/pixelcraft-studio/portal/internal/cli"
	"github.com/pixelcraft-studio/portal/internal/screens"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
)

const chatHelp = "type a message and press enter · /retry reconnects or reloads · /resend retries failed messages · /discard drops them · /quit leaves"

// transcript prints each confirmed message once and each failure once.
type transcript struct {
	out  *cli.Printer
	self string

	mu      sync.Mutex
	printed map[string]bool
	failed  map[string]bool
}

func newTranscript(out *cli.Printer, self string) *transcript {
	return &transcript{out: out, self: self, printed: make(map[string]bool), failed: make(map[string]bool)}
}

func (t *transcript) render(snap viewstate.Snapshot[chat.Entry]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range snap.Items {
		switch e.State {
		case chat.Confirmed:
			if t.printed[e.Message.ID] {
				continue
			}
			t.printed[e.Message.ID] = true
			delete(t.failed, e.LocalID)
			who := e.Message.SenderID
			if who == t.self {
				who = "you"
			}
			fmt.Fprintf(t.out.Out(), "%s %s: %s\n",
				t.out.Colorize(e.Message.CreatedAt.Local().Format("15:04"), cli.ColorDim),
				t.out.Colorize(who, cli.ColorBold),
				e.Message.Text)
		case chat.Failed:
			if t.failed[e.LocalID] {
				continue
			}
			t.failed[e.LocalID] = true
			t.out.Error("not sent: %q (%s), /resend to try again", cli.Truncate(e.Message.Text, 40), apperr.Message(e.Err))
		case chat.Pending:
			delete(t.failed, e.LocalID)
		}
	}
}

func chatCmd(ctx context.Context, a *app, args []string) error {
	requestID, err := oneArg("chat", args)
	if err != nil {
		return err
	}
	self, ok := a.ident.Current()
	if !ok {
		return apperr.ErrNotSignedIn
	}

	room := screens.NewChatRoom(a.deps)
	defer room.Close()

	t := newTranscript(a.out, self.ID)
	unsubscribe := room.Subscribe(func(snap viewstate.Snapshot[chat.Entry]) {
		if snap.Phase != viewstate.Loading {
			t.render(snap)
		}
	})
	defer unsubscribe()
	room.OnStreamError(func(err error) {
		a.out.Warning("live updates stopped: %s, type /retry to reconnect", apperr.Message(err))
	})

	if err := room.Open(ctx, requestID); err != nil {
		state := room.State()
		if state.Chat.ID == "" {
			return err
		}
		// A stream failure was already reported through OnStreamError.
		if state.StreamErr == nil {
			a.out.Failure(err, "")
			a.out.Info("history could not be loaded, type /retry to try again")
		}
	}

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	go a.ident.KeepFresh(refreshCtx)
	a.out.Info("%s (live updates: %s)", chatHelp, a.deps.Stream.Mode())

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := a.in.ReadString('\n')
			if line != "" {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := chatLine(ctx, a, room, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// chatLine handles one input line and reports whether the user left.
func chatLine(ctx context.Context, a *app, room *screens.ChatRoom, line string) bool {
	switch line {
	case "":
	case "/quit", "/exit":
		return true
	case "/help":
		a.out.Info(chatHelp)
	case "/retry":
		if room.State().StreamErr != nil {
			if err := room.Reconnect(ctx); err != nil {
				a.out.Failure(err, "")
				return false
			}
			a.out.Success("reconnected")
			return false
		}
		if err := room.Retry(ctx); err != nil {
			a.out.Failure(err, "")
		}
	case "/resend":
		failed := room.Failed()
		if len(failed) == 0 {
			a.out.Info("nothing to resend")
		}
		for _, id := range failed {
			if err := room.Resend(ctx, id); err != nil {
				// The failure is rendered by the transcript.
				break
			}
		}
	case "/discard":
		for _, id := range room.Failed() {
			room.Discard(id)
		}
	default:
		if strings.HasPrefix(line, "/") {
			a.out.Warning("unknown command %s, /help lists them", line)
			return false
		}
		if _, err := room.Send(ctx, line); err != nil && apperr.IsValidation(err) {
			a.out.Failure(err, "")
		}
	}
	return false
}
