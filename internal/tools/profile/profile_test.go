package profile

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/belay/internal/agent"
	"github.com/haasonsaas/belay/internal/sessions"
)

func TestSetTool_SavesProfile(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, err := store.GetOrCreate(ctx, "belay:test", "belay")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	tool := NewSetTool(store)
	tool.now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}

	toolCtx := agent.WithSession(ctx, session)
	result, err := tool.Execute(toolCtx, json.RawMessage(`{
		"bouldering_grade": "V5",
		"sport_grade": "5.11c",
		"weaknesses": ["slopers", "body tension"],
		"goal": "send V7 by summer"
	}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	want := "Profile saved! Bouldering: V5, Sport: 5.11c, Weaknesses: slopers, body tension, Goal: send V7 by summer"
	if result.Content != want {
		t.Fatalf("content = %q, want %q", result.Content, want)
	}

	state, err := store.GetState(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	profile, ok := state["climber_profile"].(map[string]any)
	if !ok {
		t.Fatalf("climber_profile missing from state: %+v", state)
	}
	if profile["bouldering_grade"] != "V5" || profile["goal"] != "send V7 by summer" {
		t.Fatalf("profile = %+v", profile)
	}
	if profile["updated_at"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("updated_at = %v", profile["updated_at"])
	}
}

func TestSetTool_EmptyFieldsFallBack(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, err := store.GetOrCreate(ctx, "belay:test", "belay")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	tool := NewSetTool(store)
	result, err := tool.Execute(agent.WithSession(ctx, session), json.RawMessage(`{"goal": "climb outside"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "Profile saved! Bouldering: not set, Sport: not set, Weaknesses: none specified, Goal: climb outside"
	if result.Content != want {
		t.Fatalf("content = %q, want %q", result.Content, want)
	}
}

func TestSetTool_NoSession(t *testing.T) {
	tool := NewSetTool(sessions.NewMemoryStore())

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "session") {
		t.Fatalf("expected no-session error, got %+v", result)
	}
}
