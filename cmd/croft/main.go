package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/croftlabs/croft/agent"
	"github.com/croftlabs/croft/agent/terminal"
	"github.com/croftlabs/croft/config"
	"github.com/croftlabs/croft/llm"
	"github.com/croftlabs/croft/session"
	"github.com/croftlabs/croft/tools"
	"github.com/croftlabs/croft/tools/mcp"
)

func main() {
	resumeFlag := flag.String("r", "", "Resume a session by id")
	promptFlag := flag.String("p", "", "Run a single prompt non-interactively and exit")
	providerFlag := flag.String("provider", "", "Override the configured provider (anthropic, openai, gemini, bedrock)")
	modelFlag := flag.String("model", "", "Override the configured model")
	listFlag := flag.Bool("list-sessions", false, "List stored sessions and exit")
	deleteFlag := flag.String("delete-session", "", "Delete a stored session by id and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *providerFlag != "" {
		cfg.Provider = *providerFlag
	}
	if *modelFlag != "" {
		cfg.Model = *modelFlag
	}

	store, err := session.NewStore(cfg.SessionDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %+v\n", err)
		os.Exit(1)
	}

	if *listFlag {
		listSessions(store)
		return
	}
	if *deleteFlag != "" {
		if err := store.Delete(*deleteFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting session: %+v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted session %s\n", *deleteFlag)
		return
	}

	ctx := context.Background()

	var sess *session.Session
	if *resumeFlag != "" {
		sess, err = store.Load(*resumeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resuming session %q: %+v\n", *resumeFlag, err)
			os.Exit(1)
		}
		if cfg.Model == "" {
			cfg.Model = sess.Model
		}
		fmt.Printf("Resuming session %s (%d messages)\n", sess.ID, len(sess.Messages))
	} else {
		sess = session.New(cfg.Model, cfg.SystemPrompt)
		fmt.Printf("Starting session %s\n", sess.ID)
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing %s client: %+v\n", cfg.Provider, err)
		os.Exit(1)
	}

	registry, err := tools.NewDefaultRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building tool registry: %+v\n", err)
		os.Exit(1)
	}

	for _, server := range cfg.MCPServers {
		mcpClient, err := mcp.Connect(ctx, server.Name, server.Command, server.Args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to MCP server %q: %+v\n", server.Name, err)
			os.Exit(1)
		}
		defer mcpClient.Close()
		if err := mcpClient.RegisterAll(registry); err != nil {
			fmt.Fprintf(os.Stderr, "Error registering MCP tools: %+v\n", err)
			os.Exit(1)
		}
	}

	ag, err := agent.New(agent.Config{
		Client:           client,
		Tools:            registry,
		Session:          sess,
		Store:            store,
		SystemPrompt:     cfg.SystemPrompt,
		Model:            cfg.Model,
		MaxIterations:    cfg.MaxIterations,
		MaxTokens:        cfg.MaxTokens,
		MaxContextTokens: cfg.Truncation.MaxContextTokens,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing agent: %+v\n", err)
		os.Exit(1)
	}

	if *promptFlag != "" {
		resp, err := ag.Run(ctx, *promptFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
			os.Exit(1)
		}
		fmt.Println(resp.Text())
		return
	}

	term := terminal.New(ag)
	if err := term.Run(ctx, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

// newClient builds the provider client named by the config. API keys come
// from each vendor's environment variables, never from config files.
func newClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return llm.NewAnthropicClient(cfg.Model)
	case "openai":
		return llm.NewOpenAIClient(cfg.Model)
	case "gemini":
		return llm.NewGeminiClient(ctx, cfg.Model)
	case "bedrock":
		return llm.NewBedrockClient(ctx, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider %q (expected anthropic, openai, gemini, or bedrock)", cfg.Provider)
	}
}

func listSessions(store *session.Store) {
	infos, err := store.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing sessions: %+v\n", err)
		os.Exit(1)
	}
	if len(infos) == 0 {
		fmt.Println("No stored sessions.")
		return
	}
	for _, info := range infos {
		fmt.Printf("%s  %s  %d messages  %s\n",
			info.ID, info.CreatedAt.Format("2006-01-02 15:04"), info.Messages, info.Model)
	}
}
