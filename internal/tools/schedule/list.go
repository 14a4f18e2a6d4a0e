package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/belay/internal/agent"
	"github.com/haasonsaas/belay/internal/tasks"
)

// ListTool lists the session's scheduled tasks in creation order.
type ListTool struct {
	store tasks.Store
}

// NewListTool creates a new list tool over the given store.
func NewListTool(store tasks.Store) *ListTool {
	return &ListTool{store: store}
}

func (t *ListTool) Name() string { return "list_scheduled_tasks" }

func (t *ListTool) Description() string {
	return "List all tasks that have been scheduled"
}

func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *ListTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	session := agent.SessionFromContext(ctx)
	if session == nil {
		return &agent.ToolResult{Content: "no session in scope", IsError: true}, nil
	}

	list, err := t.store.List(ctx, session.ID)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("error listing scheduled tasks: %v", err), IsError: true}, nil
	}
	if len(list) == 0 {
		return &agent.ToolResult{Content: "No scheduled tasks found."}, nil
	}

	var sb strings.Builder
	for _, task := range list {
		fmt.Fprintf(&sb, "- %s [%s, %s] %s", task.ID, task.Trigger.Kind, task.Status, task.Payload)
		if task.Status == tasks.StatusPending {
			fmt.Fprintf(&sb, " (next run %s)", task.NextRun.Format(time.RFC3339))
		}
		sb.WriteString("\n")
	}
	return &agent.ToolResult{Content: sb.String()}, nil
}
