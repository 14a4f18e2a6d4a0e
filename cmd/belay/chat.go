package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/belay/internal/agent"
	"github.com/haasonsaas/belay/internal/agent/providers"
	"github.com/haasonsaas/belay/internal/config"
	"github.com/haasonsaas/belay/internal/sessions"
	"github.com/haasonsaas/belay/internal/tasks"
	"github.com/haasonsaas/belay/internal/tools/datetime"
	"github.com/haasonsaas/belay/internal/tools/profile"
	"github.com/haasonsaas/belay/internal/tools/schedule"
	"github.com/haasonsaas/belay/internal/tools/weather"
	"github.com/haasonsaas/belay/pkg/models"
)

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		sessionKey string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session with the agent.

Messages stream to the terminal as they are generated. Tools the model
requests run automatically unless they require confirmation, in which
case you are prompted to approve or deny the call.`,
		Example: `  # Chat with default config
  belay chat

  # Resume a named conversation
  belay chat --session morning-training`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg, debug)
			return runChat(cmd.Context(), cfg, sessionKey)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "default", "Conversation key to resume")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runChat(ctx context.Context, cfg *config.Config, conversationID string) error {
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	sessionStore, taskStore, cleanup, err := buildStores(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	runtime := agent.NewRuntime(provider, sessionStore, &agent.LoopConfig{
		MaxSteps:  cfg.Agent.MaxSteps,
		MaxTokens: cfg.Agent.MaxTokens,
	})
	runtime.SetSystemPrompt(cfg.Agent.SystemPrompt)
	if model := cfg.Provider().DefaultModel; model != "" {
		runtime.SetDefaultModel(model)
	}
	registerTools(runtime, sessionStore, taskStore)

	if cfg.Scheduler.On() {
		scheduler := tasks.NewScheduler(taskStore, tasks.WithTickInterval(cfg.Scheduler.TickInterval))
		scheduler.RegisterHandler(schedule.AgentHandler, newAgentTaskHandler(runtime, sessionStore))
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	session, err := sessionStore.GetOrCreate(ctx, sessions.SessionKey(cfg.Agent.ID, conversationID), cfg.Agent.ID)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	fmt.Printf("belay %s · session %s · provider %s\n", version, conversationID, provider.Name())
	fmt.Println("Type a message, or /quit to exit.")

	chat := &chatLoop{
		runtime: runtime,
		session: session,
		stdin:   bufio.NewScanner(os.Stdin),
	}
	return chat.run(ctx)
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	pc := cfg.Provider()
	switch cfg.LLM.DefaultProvider {
	case "anthropic":
		if pc.APIKey == "" {
			return nil, fmt.Errorf("anthropic api key is not set (llm.providers.anthropic.api_key or ANTHROPIC_API_KEY)")
		}
		return providers.NewAnthropicProvider(pc.APIKey), nil
	case "openai":
		if pc.APIKey == "" {
			return nil, fmt.Errorf("openai api key is not set (llm.providers.openai.api_key or OPENAI_API_KEY)")
		}
		return providers.NewOpenAIProvider(pc.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.DefaultProvider)
	}
}

func buildStores(cfg *config.Config) (sessions.Store, tasks.Store, func(), error) {
	if cfg.Storage.Driver != "sqlite" {
		return sessions.NewMemoryStore(), tasks.NewMemoryStore(), func() {}, nil
	}

	sessionStore, err := sessions.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open session store: %w", err)
	}
	taskStore, err := tasks.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		sessionStore.Close()
		return nil, nil, nil, fmt.Errorf("open task store: %w", err)
	}
	cleanup := func() {
		taskStore.Close()
		sessionStore.Close()
	}
	return sessionStore, taskStore, cleanup, nil
}

func registerTools(runtime *agent.Runtime, sessionStore sessions.Store, taskStore tasks.Store) {
	w := weather.NewTool()
	runtime.RegisterConfirmTool(w, w.Report)
	runtime.RegisterTool(datetime.NewLocalTimeTool())
	runtime.RegisterTool(schedule.NewScheduleTool(taskStore), agent.WithMutating())
	runtime.RegisterTool(schedule.NewListTool(taskStore))
	runtime.RegisterTool(schedule.NewCancelTool(taskStore), agent.WithMutating())
	runtime.RegisterTool(profile.NewSetTool(sessionStore), agent.WithMutating())
}

// newAgentTaskHandler returns the handler fired tasks dispatch to: it
// re-enters the runtime with the task payload as a user message and drains
// the resulting stream to the terminal.
func newAgentTaskHandler(runtime *agent.Runtime, store sessions.Store) tasks.Handler {
	logger := slog.Default().With("component", "task-handler")
	return tasks.HandlerFunc(func(ctx context.Context, task *tasks.ScheduledTask) error {
		session, err := store.Get(ctx, task.SessionID)
		if err != nil {
			return fmt.Errorf("load session for task %s: %w", task.ID, err)
		}

		msg := &models.Message{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("Running scheduled task: %s", task.Payload),
		}
		out, err := runtime.Process(ctx, session, msg)
		if err != nil {
			if errors.Is(err, agent.ErrSessionBusy) {
				logger.Warn("session busy, task output skipped", "task_id", task.ID)
				return nil
			}
			return err
		}

		fmt.Printf("\n[scheduled task %s]\n", task.ID)
		for chunk := range out {
			printChunk(chunk)
		}
		fmt.Print("\n> ")
		return nil
	})
}

// chatLoop reads user lines and streams agent responses, prompting for
// confirmation when a tool call is parked on the approval boundary.
type chatLoop struct {
	runtime *agent.Runtime
	session *models.Session
	stdin   *bufio.Scanner
}

func (c *chatLoop) run(ctx context.Context) error {
	for {
		fmt.Print("> ")
		if !c.stdin.Scan() {
			return c.stdin.Err()
		}
		line := strings.TrimSpace(c.stdin.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		if err := c.turn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
}

func (c *chatLoop) turn(ctx context.Context, line string) error {
	msg := &models.Message{
		Role:    models.RoleUser,
		Content: line,
	}
	out, err := c.runtime.Process(ctx, c.session, msg)
	if err != nil {
		return err
	}

	// Poll the confirmation boundary while streaming so a parked tool call
	// surfaces as a terminal prompt instead of a hang.
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				fmt.Println()
				return nil
			}
			printChunk(chunk)
		case <-ticker.C:
			c.promptPending()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *chatLoop) promptPending() {
	for _, pending := range c.runtime.Confirmations().Pending() {
		fmt.Printf("\nTool %s wants to run with input %s. Approve? [y/N]: ", pending.ToolName, pending.Input)
		approved := false
		if c.stdin.Scan() {
			answer := strings.ToLower(strings.TrimSpace(c.stdin.Text()))
			approved = answer == "y" || answer == "yes"
		}
		if err := c.runtime.Confirmations().Resolve(pending.ToolCallID, approved); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
}

func printChunk(chunk *agent.ResponseChunk) {
	switch chunk.Type {
	case agent.EventText:
		fmt.Print(chunk.Text)
	case agent.EventToolStart:
		fmt.Printf("\n[tool] %s %s\n", chunk.ToolCall.Name, chunk.ToolCall.Input)
	case agent.EventToolResult:
		fmt.Printf("[tool] result: %s\n", chunk.ToolResult.Content)
	case agent.EventError:
		fmt.Fprintln(os.Stderr, "\nError:", chunk.Err)
	}
}
