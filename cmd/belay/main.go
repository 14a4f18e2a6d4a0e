// Package main provides the CLI entry point for belay, a conversational
// agent runtime with tool calling, human confirmation, session state, and
// scheduled tasks.
//
// # Basic Usage
//
// Start an interactive chat:
//
//	belay chat --config belay.yaml
//
// Inspect scheduled tasks:
//
//	belay tasks list --session <session-id>
//	belay tasks cancel --session <session-id> <task-id>
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/belay/internal/config"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "belay",
		Short: "Conversational agent runtime with tools and scheduling",
		Long: `Belay runs a step-bounded agent loop over an LLM provider with
automatic and confirmation-gated tools, persistent session state,
and a task scheduler for one-shot and recurring follow-ups.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(buildChatCmd(), buildTasksCmd(), buildVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("belay %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// loadConfig reads the config file if one was given or exists, falling back
// to built-in defaults with API keys from the environment.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("belay.yaml"); err == nil {
		return config.Load("belay.yaml")
	}
	return config.Default(), nil
}

// setupLogging configures the default slog logger from config.
func setupLogging(cfg *config.Config, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	} else {
		switch strings.ToLower(cfg.Logging.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
