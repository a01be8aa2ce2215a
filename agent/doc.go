// Package agent implements the think→act loop at the core of croft.
//
// A turn starts with a user query. The agent asks the model for a response;
// if the model requests tools, the agent executes them in the order they
// were issued, feeds every result back, and asks again. The turn ends when
// the model answers in plain text, the iteration cap is reached, the
// provider fails permanently, or the caller cancels the context.
//
// # Construction
//
// Everything an agent touches is passed in explicitly through Config:
//
//	ag, err := agent.New(agent.Config{
//	    Client:        client,   // any llm.Client
//	    Tools:         registry, // tools.Registry with the enabled tools
//	    Session:       sess,     // optional persistence
//	    Store:         store,
//	    SystemPrompt:  prompt,
//	    MaxIterations: 20,
//	})
//
// There are no package-level globals and the agent itself never reads the
// environment; frontends own configuration.
//
// # Blocking and streaming
//
// Run returns the final response once the turn completes. RunStream
// delivers the same turn incrementally as message.StreamEvent values:
// text deltas and tool-use starts while the model generates, a
// tool_executing/tool_result pair around each invocation, and a single
// message_stop carrying the turn's accumulated usage. A failed or
// interrupted turn closes the stream without a message_stop; Err reports
// how it ended. Both entry points share one engine, so a turn behaves
// identically either way.
//
// # Failure and interruption
//
// Terminal conditions are typed: MaxIterationsError when the cap is hit,
// ContextOverflowError when truncation cannot fit the conversation,
// ErrInterrupted when the context is cancelled, and the llm package's
// error taxonomy for provider failures. Tool-level problems (unknown tool
// names, arguments that fail schema validation, execution errors) are
// never terminal; they flow back to the model as error results so it can
// correct itself.
//
// Cancellation is checked at every state boundary. A cancelled turn makes
// no further provider calls, starts no further tools, appends a synthetic
// note marking the cut, and saves the session before returning.
package agent
