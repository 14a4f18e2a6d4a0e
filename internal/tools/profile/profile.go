// Package profile provides the climber profile tool, which saves coaching
// context into session state.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/belay/internal/agent"
	"github.com/haasonsaas/belay/internal/sessions"
)

// SetTool saves a climber's profile into session state via shallow merge,
// so later turns (and other tools) can read it back.
type SetTool struct {
	store sessions.Store
	now   func() time.Time
}

// NewSetTool creates a new profile tool over the given session store.
func NewSetTool(store sessions.Store) *SetTool {
	return &SetTool{store: store, now: time.Now}
}

func (t *SetTool) Name() string { return "set_climber_profile" }

func (t *SetTool) Description() string {
	return "Save climber's profile including climbing grade, weaknesses, and goals for a personalized training plan"
}

func (t *SetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"bouldering_grade": {
				"type": "string",
				"description": "Climber's current bouldering grade, e.g. V4, V5"
			},
			"sport_grade": {
				"type": "string",
				"description": "Climber's current sport climbing grade, e.g. 5.10a, 5.13d"
			},
			"weaknesses": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Techniques to improve: crimps, slopers, pinches, pockets, heelhooks, body tension, weight shifting, dynamic movement, body positioning"
			},
			"injuries": {
				"type": "string",
				"description": "Any current injuries or limitations to work around"
			},
			"goal": {
				"type": "string",
				"description": "What the climber is working towards"
			}
		}
	}`)
}

// SetInput is the input for the profile tool.
type SetInput struct {
	BoulderingGrade string   `json:"bouldering_grade"`
	SportGrade      string   `json:"sport_grade"`
	Weaknesses      []string `json:"weaknesses"`
	Injuries        string   `json:"injuries"`
	Goal            string   `json:"goal"`
}

func (t *SetTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	session := agent.SessionFromContext(ctx)
	if session == nil {
		return &agent.ToolResult{Content: "no session in scope", IsError: true}, nil
	}

	var input SetInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	profile := map[string]any{
		"bouldering_grade": input.BoulderingGrade,
		"sport_grade":      input.SportGrade,
		"weaknesses":       input.Weaknesses,
		"injuries":         input.Injuries,
		"goal":             input.Goal,
		"updated_at":       t.now().UTC().Format(time.RFC3339),
	}
	err := t.store.MergeState(ctx, session.ID, map[string]any{"climber_profile": profile})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("error saving profile: %v", err), IsError: true}, nil
	}

	return &agent.ToolResult{
		Content: fmt.Sprintf("Profile saved! Bouldering: %s, Sport: %s, Weaknesses: %s, Goal: %s",
			orNotSet(input.BoulderingGrade), orNotSet(input.SportGrade),
			orNone(input.Weaknesses), orNotSet(input.Goal)),
	}, nil
}

func orNotSet(s string) string {
	if s == "" {
		return "not set"
	}
	return s
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none specified"
	}
	return strings.Join(items, ", ")
}
