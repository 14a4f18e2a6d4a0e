package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/belay/internal/tasks"
)

func buildTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage scheduled tasks",
	}
	cmd.AddCommand(buildTasksListCmd(), buildTasksCancelCmd())
	return cmd
}

func buildTasksListCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a session's scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openTaskStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			list, err := store.List(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No scheduled tasks.")
				return nil
			}
			for _, task := range list {
				fmt.Printf("%s  %-8s %-8s next=%s  %s\n",
					task.ID, task.Trigger.Kind, task.Status,
					task.NextRun.Format(time.RFC3339), task.Payload)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to list tasks for")
	cmd.MarkFlagRequired("session")
	return cmd
}

func buildTasksCancelCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openTaskStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.Cancel(cmd.Context(), sessionID, args[0]); err != nil {
				return err
			}
			fmt.Printf("Task %s canceled.\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID the task belongs to")
	cmd.MarkFlagRequired("session")
	return cmd
}

// openTaskStore opens the configured task store. The memory driver has no
// standalone contents outside a chat process, so task commands require the
// sqlite driver.
func openTaskStore(configPath string) (tasks.Store, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Driver != "sqlite" {
		return nil, nil, fmt.Errorf("tasks commands require storage.driver: sqlite")
	}
	store, err := tasks.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}
