package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestToolRegistry_RegisterAndKind(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(echoTool{})
	registry.RegisterConfirm(
		&funcTool{name: "gated", execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			return nil, nil
		}},
		func(context.Context, json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ok"}, nil
		},
	)

	if kind, ok := registry.Kind("echo"); !ok || kind != KindAuto {
		t.Errorf("echo kind = %v %v", kind, ok)
	}
	if kind, ok := registry.Kind("gated"); !ok || kind != KindConfirm {
		t.Errorf("gated kind = %v %v", kind, ok)
	}
	if _, ok := registry.Kind("ghost"); ok {
		t.Error("unknown tool reported a kind")
	}

	if len(registry.AsLLMTools()) != 2 {
		t.Errorf("catalog size = %d, confirm-kind tools must be advertised", len(registry.AsLLMTools()))
	}
}

func TestToolRegistry_ValidateSchema(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(echoTool{})

	if err := registry.Validate("echo", json.RawMessage(`{"value":"hi"}`)); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}
	if err := registry.Validate("echo", json.RawMessage(`{"value":7}`)); err == nil {
		t.Error("wrong type accepted")
	}
	if err := registry.Validate("echo", json.RawMessage(`{}`)); err == nil {
		t.Error("missing required field accepted")
	}
	if err := registry.Validate("ghost", nil); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("unknown tool err = %v", err)
	}
}

func TestToolRegistry_ValidateLimits(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(echoTool{})

	longName := strings.Repeat("x", MaxToolNameLength+1)
	if err := registry.Validate(longName, nil); err == nil {
		t.Error("oversized name accepted")
	}

	big := make(json.RawMessage, MaxToolParamsSize+1)
	if err := registry.Validate("echo", big); err == nil {
		t.Error("oversized params accepted")
	}
}

func TestToolRegistry_ExecuteConfirmKindBlocked(t *testing.T) {
	registry := NewToolRegistry()
	registry.RegisterConfirm(
		&funcTool{name: "gated", execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "leak"}, nil
		}},
		func(context.Context, json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ok"}, nil
		},
	)

	_, err := registry.Execute(context.Background(), "gated", json.RawMessage(`{}`))
	if !errors.Is(err, ErrConfirmationRequired) {
		t.Errorf("err = %v, want ErrConfirmationRequired", err)
	}
}

func TestToolRegistry_Unregister(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(echoTool{})
	registry.Unregister("echo")

	if _, ok := registry.Get("echo"); ok {
		t.Error("tool still resolvable after Unregister")
	}
	if _, err := registry.Execute(context.Background(), "echo", nil); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("err = %v", err)
	}
}
