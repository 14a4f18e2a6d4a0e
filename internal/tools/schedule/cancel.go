package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/belay/internal/agent"
	"github.com/haasonsaas/belay/internal/tasks"
)

// CancelTool cancels a pending scheduled task by ID.
type CancelTool struct {
	store tasks.Store
}

// NewCancelTool creates a new cancel tool over the given store.
func NewCancelTool(store tasks.Store) *CancelTool {
	return &CancelTool{store: store}
}

func (t *CancelTool) Name() string { return "cancel_scheduled_task" }

func (t *CancelTool) Description() string {
	return "Cancel a scheduled task using its ID"
}

func (t *CancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_id": {
				"type": "string",
				"description": "The ID of the task to cancel"
			}
		},
		"required": ["task_id"]
	}`)
}

// CancelInput is the input for the cancel tool.
type CancelInput struct {
	TaskID string `json:"task_id"`
}

func (t *CancelTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	session := agent.SessionFromContext(ctx)
	if session == nil {
		return &agent.ToolResult{Content: "no session in scope", IsError: true}, nil
	}

	var input CancelInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input.TaskID == "" {
		return &agent.ToolResult{Content: "task_id is required", IsError: true}, nil
	}

	err := t.store.Cancel(ctx, session.ID, input.TaskID)
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return &agent.ToolResult{Content: fmt.Sprintf("No scheduled task with ID %s", input.TaskID), IsError: true}, nil
	case errors.Is(err, tasks.ErrAlreadyTerminal):
		return &agent.ToolResult{Content: fmt.Sprintf("Task %s has already fired or been canceled", input.TaskID), IsError: true}, nil
	case err != nil:
		return &agent.ToolResult{Content: fmt.Sprintf("error canceling task %s: %v", input.TaskID, err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Task %s has been successfully canceled.", input.TaskID)}, nil
}
