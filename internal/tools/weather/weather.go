// Package weather provides the weather lookup tool. The tool is registered
// confirm-kind: the model may request it, but the report only runs after a
// human approves the call.
package weather

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/belay/internal/agent"
)

// Tool reports the weather for a city.
type Tool struct{}

// NewTool creates the weather tool.
func NewTool() *Tool { return &Tool{} }

func (t *Tool) Name() string { return "get_weather" }

func (t *Tool) Description() string {
	return "Show the weather in a given city to the user"
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"city": {
				"type": "string",
				"description": "The city to get the weather for"
			}
		},
		"required": ["city"]
	}`)
}

// Execute is never reached for a confirm-kind registration; the registry
// routes approved calls to Report instead.
func (t *Tool) Execute(_ context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "get_weather requires confirmation", IsError: true}, nil
}

type input struct {
	City string `json:"city"`
}

// Report is the confirmed implementation, run only after approval.
func (t *Tool) Report(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in input
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if in.City == "" {
		return &agent.ToolResult{Content: "city is required", IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("The weather in %s is sunny", in.City)}, nil
}
