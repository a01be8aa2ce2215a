package terminal

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/croftlabs/croft/agent"
	"github.com/croftlabs/croft/message"
)

// Terminal is the interactive REPL. It renders the agent's event stream as
// it arrives and turns Ctrl-C during a turn into a context cancellation
// instead of killing the process.
type Terminal struct {
	agent *agent.Agent
	out   io.Writer
}

// New creates a terminal frontend for the agent.
func New(a *agent.Agent) *Terminal {
	return &Terminal{agent: a, out: os.Stdout}
}

// Run starts the interactive session. An optional initial prompt runs as
// the first turn. Returns when the user quits or stdin is closed.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		t.runTurn(ctx, initialPrompt)
	}

	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			// Ctrl-C at the prompt clears the line; Ctrl-C twice on an
			// empty line is handled by readline as an interrupt again.
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := t.command(input); quit {
				return nil
			}
			continue
		}

		t.runTurn(ctx, input)
	}
}

// command handles slash commands; returns true when the session should end.
func (t *Terminal) command(input string) bool {
	switch input {
	case "/quit", "/exit":
		return true
	case "/clear":
		t.agent.Reset()
		fmt.Fprintln(t.out, "conversation cleared")
	case "/session":
		msgs := t.agent.Messages()
		fmt.Fprintf(t.out, "%d messages in conversation\n", len(msgs))
	default:
		fmt.Fprintf(t.out, "unknown command %s (try /quit, /clear, /session)\n", input)
	}
	return false
}

// runTurn executes one turn, streaming output as it arrives. SIGINT while
// the turn is in flight cancels its context; the agent winds down at the
// next state boundary.
func (t *Terminal) runTurn(ctx context.Context, query string) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	defer signal.Stop(sigc)
	go func() {
		select {
		case <-sigc:
			cancel()
		case <-turnCtx.Done():
		}
	}()

	events, err := t.agent.RunStream(turnCtx, query)
	if err != nil {
		fmt.Fprintf(t.out, "error: %v\n", err)
		return
	}
	t.render(events)

	switch err := t.agent.Err(); {
	case err == nil:
	case stderrors.Is(err, agent.ErrInterrupted):
		fmt.Fprintln(t.out, "\n(interrupted)")
	default:
		fmt.Fprintf(t.out, "\nerror: %v\n", err)
	}
}

// render writes the event stream to the terminal: text as it streams, one
// status line per tool invocation.
func (t *Terminal) render(events <-chan message.StreamEvent) {
	wroteText := false
	for ev := range events {
		switch ev.Type {
		case message.EventTextDelta:
			fmt.Fprint(t.out, ev.Text)
			wroteText = true
		case message.EventToolExecuting:
			if wroteText {
				fmt.Fprintln(t.out)
				wroteText = false
			}
			fmt.Fprintf(t.out, "* %s %s\n", ev.ToolName, compactArgs(ev.Args))
		case message.EventToolResult:
			if ev.IsError {
				fmt.Fprintf(t.out, "  ! %s\n", firstLine(ev.Output))
			}
		case message.EventMessageStop:
			if wroteText {
				fmt.Fprintln(t.out)
			}
		}
	}
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		s := fmt.Sprintf("%v", args[k])
		if len(s) > 60 {
			s = s[:57] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, s))
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
