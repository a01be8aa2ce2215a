// Package terminal is the interactive command-line frontend.
//
// It wraps an agent in a readline REPL: user input becomes a turn, the
// agent's event stream renders incrementally (assistant text as it is
// generated, a status line per tool invocation), and Ctrl-C during a turn
// cancels that turn's context without ending the session.
//
//	term := terminal.New(ag)
//	err := term.Run(ctx, initialPrompt)
//
// Slash commands: /quit and /exit end the session, /clear drops the
// conversation, /session shows its size.
package terminal
