// Package schedule provides tools for scheduling, listing, and canceling
// future tasks on the session's task store.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/belay/internal/agent"
	"github.com/haasonsaas/belay/internal/tasks"
)

// AgentHandler is the handler name scheduled tasks are dispatched to. The
// runtime registers a handler under this name that re-enters the agent
// with the task payload as a user message.
const AgentHandler = "agent"

// ScheduleTool creates a scheduled task from an at, delayed, or cron
// trigger.
type ScheduleTool struct {
	store tasks.Store
	now   func() time.Time
}

// NewScheduleTool creates a new schedule tool over the given store.
func NewScheduleTool(store tasks.Store) *ScheduleTool {
	return &ScheduleTool{store: store, now: time.Now}
}

func (t *ScheduleTool) Name() string { return "schedule_task" }

func (t *ScheduleTool) Description() string {
	return "Schedule a task to be executed at a later time. Supports a one-shot date, a delay in seconds, or a recurring cron expression."
}

func (t *ScheduleTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"when": {
				"type": "object",
				"properties": {
					"type": {
						"type": "string",
						"enum": ["scheduled", "delayed", "cron"],
						"description": "Trigger kind: 'scheduled' fires at a date, 'delayed' after a number of seconds, 'cron' on a recurring expression"
					},
					"date": {
						"type": "string",
						"description": "RFC3339 timestamp, required when type is 'scheduled'"
					},
					"delay_seconds": {
						"type": "number",
						"description": "Delay in seconds, required when type is 'delayed'"
					},
					"cron": {
						"type": "string",
						"description": "Cron expression, required when type is 'cron'"
					}
				},
				"required": ["type"]
			},
			"description": {
				"type": "string",
				"description": "What the task should do when it fires"
			}
		},
		"required": ["when", "description"]
	}`)
}

// ScheduleInput is the input for the schedule tool.
type ScheduleInput struct {
	When struct {
		Type         string  `json:"type"`
		Date         string  `json:"date"`
		DelaySeconds float64 `json:"delay_seconds"`
		Cron         string  `json:"cron"`
	} `json:"when"`
	Description string `json:"description"`
}

func (t *ScheduleTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	session := agent.SessionFromContext(ctx)
	if session == nil {
		return &agent.ToolResult{Content: "no session in scope", IsError: true}, nil
	}

	var input ScheduleInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input.Description == "" {
		return &agent.ToolResult{Content: "description is required", IsError: true}, nil
	}

	var (
		trigger tasks.Trigger
		detail  string
	)
	switch input.When.Type {
	case "scheduled":
		at, err := time.Parse(time.RFC3339, input.When.Date)
		if err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid date: %v", err), IsError: true}, nil
		}
		trigger = tasks.At(at)
		detail = at.Format(time.RFC3339)
	case "delayed":
		if input.When.DelaySeconds <= 0 {
			return &agent.ToolResult{Content: "delay_seconds must be positive", IsError: true}, nil
		}
		d := time.Duration(input.When.DelaySeconds * float64(time.Second))
		trigger = tasks.After(d)
		detail = d.String()
	case "cron":
		trigger = tasks.Cron(input.When.Cron)
		detail = input.When.Cron
	default:
		return &agent.ToolResult{Content: "not a valid schedule input", IsError: true}, nil
	}

	task := &tasks.ScheduledTask{
		SessionID:   session.ID,
		Trigger:     trigger,
		HandlerName: AgentHandler,
		Payload:     input.Description,
	}
	if err := t.store.Create(ctx, task); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("error scheduling task: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{
		Content: fmt.Sprintf("Task %s scheduled for type %q: %s", task.ID, input.When.Type, detail),
	}, nil
}
