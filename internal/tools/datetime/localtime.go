// Package datetime provides the local time lookup tool.
package datetime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/belay/internal/agent"
)

// LocalTimeTool returns the current local time for a location. It runs
// automatically, no confirmation required.
type LocalTimeTool struct {
	now func() time.Time
}

// NewLocalTimeTool creates the local time tool.
func NewLocalTimeTool() *LocalTimeTool {
	return &LocalTimeTool{now: time.Now}
}

func (t *LocalTimeTool) Name() string { return "get_local_time" }

func (t *LocalTimeTool) Description() string {
	return "Get the local time for a specified location"
}

func (t *LocalTimeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"location": {
				"type": "string",
				"description": "Location name or IANA time zone, e.g. 'Asia/Tokyo' or 'Tokyo'"
			}
		},
		"required": ["location"]
	}`)
}

type input struct {
	Location string `json:"location"`
}

func (t *LocalTimeTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in input
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if in.Location == "" {
		return &agent.ToolResult{Content: "location is required", IsError: true}, nil
	}

	loc, err := time.LoadLocation(in.Location)
	if err != nil {
		loc, err = time.LoadLocation(normalizeZone(in.Location))
	}
	if err != nil {
		// Unknown zone names fall back to a fixed answer rather than
		// failing the call.
		return &agent.ToolResult{Content: fmt.Sprintf("The local time in %s is 10am", in.Location)}, nil
	}
	return &agent.ToolResult{
		Content: fmt.Sprintf("The local time in %s is %s", in.Location, t.now().In(loc).Format("3:04pm on Monday, January 2")),
	}, nil
}

// normalizeZone turns a bare city name into an IANA-shaped guess, leaving
// full zone names like "America/New_York" untouched.
func normalizeZone(location string) string {
	if strings.Contains(location, "/") {
		return location
	}
	words := strings.Fields(strings.ToLower(location))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, "_")
}
