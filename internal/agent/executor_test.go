package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/belay/pkg/models"
)

// funcTool builds a tool from closures for executor tests.
type funcTool struct {
	name    string
	schema  string
	execute func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return "test tool " + t.name }
func (t *funcTool) Schema() json.RawMessage {
	if t.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(t.schema)
}
func (t *funcTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return t.execute(ctx, params)
}

func fastExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  time.Second,
		DefaultRetries:  2,
		RetryBackoff:    time.Millisecond,
		MaxRetryBackoff: 5 * time.Millisecond,
	}
}

func TestExecutor_Success(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "ok",
		execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "done"}, nil
		},
	})
	executor := NewExecutor(registry, nil, fastExecutorConfig())

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "ok", Input: json.RawMessage(`{}`)})
	if result.Error != nil {
		t.Fatalf("Execute: %v", result.Error)
	}
	if result.Result.Content != "done" {
		t.Errorf("content = %q", result.Result.Content)
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d", result.Attempts)
	}
}

func TestExecutor_UnknownToolIsFatal(t *testing.T) {
	executor := NewExecutor(NewToolRegistry(), nil, fastExecutorConfig())

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "missing"})
	if result.Error == nil {
		t.Fatal("no error for unknown tool")
	}
	if !errors.Is(result.Error, ErrToolNotFound) {
		t.Errorf("error = %v", result.Error)
	}
	if !result.IsFatal() {
		t.Error("unknown tool result not fatal")
	}
}

func TestExecutor_InvalidInputIsData(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name:   "strict",
		schema: `{"type":"object","properties":{"n":{"type":"number"}},"required":["n"]}`,
		execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			t.Error("handler ran despite invalid input")
			return nil, nil
		},
	})
	executor := NewExecutor(registry, nil, fastExecutorConfig())

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "strict", Input: json.RawMessage(`{"n":"NaN"}`)})
	if result.Error != nil {
		t.Fatalf("validation failure escalated: %v", result.Error)
	}
	if result.Result == nil || !result.Result.IsError {
		t.Fatalf("result = %+v", result.Result)
	}
	if result.IsFatal() {
		t.Error("invalid input marked fatal")
	}
	if !strings.Contains(result.Result.Content, "invalid input for tool strict") {
		t.Errorf("content = %q", result.Result.Content)
	}
}

func TestExecutor_RetriesRetryableErrors(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "flaky",
		execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return nil, errors.New("network unreachable")
			}
			return &ToolResult{Content: "recovered"}, nil
		},
	})
	executor := NewExecutor(registry, nil, fastExecutorConfig())

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "flaky"})
	if result.Error != nil {
		t.Fatalf("Execute: %v", result.Error)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if got := executor.Metrics().TotalRetries; got != 2 {
		t.Errorf("TotalRetries = %d, want 2", got)
	}
}

func TestExecutor_NonRetryableFailsOnce(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "broken",
		execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, errors.New("boom")
		},
	})
	executor := NewExecutor(registry, nil, fastExecutorConfig())

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "broken"})
	if result.Error == nil {
		t.Fatal("no error")
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("handler ran %d times, want 1", n)
	}
	if result.IsFatal() {
		t.Error("execution failure marked fatal")
	}
}

func TestExecutor_Timeout(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "slow",
		execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	config := fastExecutorConfig()
	config.DefaultTimeout = 20 * time.Millisecond
	config.DefaultRetries = 0
	executor := NewExecutor(registry, nil, config)

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "slow"})
	if result.Error == nil {
		t.Fatal("no error")
	}
	toolErr, ok := GetToolError(result.Error)
	if !ok || toolErr.Type != ToolErrorTimeout {
		t.Errorf("error = %v", result.Error)
	}
	if executor.Metrics().TotalTimeouts == 0 {
		t.Error("timeout not counted")
	}
}

func TestExecutor_PanicRecovered(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "panicky",
		execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			panic("kaboom")
		},
	})
	config := fastExecutorConfig()
	config.DefaultRetries = 0
	executor := NewExecutor(registry, nil, config)

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "panicky"})
	if result.Error == nil {
		t.Fatal("panic not converted to error")
	}
	toolErr, ok := GetToolError(result.Error)
	if !ok || toolErr.Type != ToolErrorPanic {
		t.Errorf("error = %v", result.Error)
	}
	if executor.Metrics().TotalPanics != 1 {
		t.Errorf("TotalPanics = %d", executor.Metrics().TotalPanics)
	}
}

func TestExecuteAll_PreservesOrder(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "echo",
		execute: func(_ context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: string(params)}, nil
		},
	})
	executor := NewExecutor(registry, nil, fastExecutorConfig())

	calls := []models.ToolCall{
		{ID: "c1", Name: "echo", Input: json.RawMessage(`{"i":1}`)},
		{ID: "c2", Name: "echo", Input: json.RawMessage(`{"i":2}`)},
		{ID: "c3", Name: "echo", Input: json.RawMessage(`{"i":3}`)},
	}
	results := executor.ExecuteAll(context.Background(), calls)
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		if r.ToolCallID != calls[i].ID {
			t.Errorf("result %d is for %s", i, r.ToolCallID)
		}
	}
}

func TestExecuteAll_MutatingRoundRunsSequentially(t *testing.T) {
	var (
		mu      sync.Mutex
		running int
		maxSeen int
		order   []string
	)
	track := func(id string) func() {
		mu.Lock()
		running++
		if running > maxSeen {
			maxSeen = running
		}
		order = append(order, id)
		mu.Unlock()
		return func() {
			mu.Lock()
			running--
			mu.Unlock()
		}
	}

	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "write",
		execute: func(_ context.Context, params json.RawMessage) (*ToolResult, error) {
			done := track(string(params))
			time.Sleep(10 * time.Millisecond)
			done()
			return &ToolResult{Content: "ok"}, nil
		},
	}, WithMutating())
	registry.Register(&funcTool{
		name: "read",
		execute: func(_ context.Context, params json.RawMessage) (*ToolResult, error) {
			done := track(string(params))
			time.Sleep(10 * time.Millisecond)
			done()
			return &ToolResult{Content: "ok"}, nil
		},
	})
	executor := NewExecutor(registry, nil, fastExecutorConfig())

	calls := []models.ToolCall{
		{ID: "c1", Name: "read", Input: json.RawMessage(`{"v":"a"}`)},
		{ID: "c2", Name: "write", Input: json.RawMessage(`{"v":"b"}`)},
		{ID: "c3", Name: "read", Input: json.RawMessage(`{"v":"c"}`)},
	}
	executor.ExecuteAll(context.Background(), calls)

	mu.Lock()
	defer mu.Unlock()
	if maxSeen != 1 {
		t.Errorf("observed %d concurrent executions in a mutating round", maxSeen)
	}
	want := []string{`{"v":"a"}`, `{"v":"b"}`, `{"v":"c"}`}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("execution order = %v, want %v", order, want)
			break
		}
	}
}

func TestExecutor_ConfirmApproved(t *testing.T) {
	registry := NewToolRegistry()
	registry.RegisterConfirm(
		&funcTool{name: "gated", execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			t.Error("direct handler reached for confirm-kind tool")
			return nil, nil
		}},
		func(_ context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "approved run"}, nil
		},
	)
	confirmations := NewConfirmations()
	executor := NewExecutor(registry, confirmations, fastExecutorConfig())

	go func() {
		for {
			if pending := confirmations.Pending(); len(pending) > 0 {
				confirmations.Resolve(pending[0].ToolCallID, true)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "gated", Input: json.RawMessage(`{}`)})
	if result.Error != nil {
		t.Fatalf("Execute: %v", result.Error)
	}
	if result.Result.Content != "approved run" {
		t.Errorf("content = %q", result.Result.Content)
	}
}

func TestExecutor_ConfirmDeclined(t *testing.T) {
	registry := NewToolRegistry()
	registry.RegisterConfirm(
		&funcTool{name: "gated", execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			return nil, nil
		}},
		func(context.Context, json.RawMessage) (*ToolResult, error) {
			t.Error("declined call still ran")
			return nil, nil
		},
	)
	confirmations := NewConfirmations()
	executor := NewExecutor(registry, confirmations, fastExecutorConfig())

	go func() {
		for {
			if pending := confirmations.Pending(); len(pending) > 0 {
				confirmations.Resolve(pending[0].ToolCallID, false)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "gated", Input: json.RawMessage(`{}`)})
	if result.Error != nil {
		t.Fatalf("Execute: %v", result.Error)
	}
	if !result.Result.IsError {
		t.Error("declined call not flagged as error result")
	}
	if !strings.Contains(result.Result.Content, "declined") {
		t.Errorf("content = %q", result.Result.Content)
	}
}

func TestExecutor_ConfirmWithoutBoundary(t *testing.T) {
	registry := NewToolRegistry()
	registry.RegisterConfirm(
		&funcTool{name: "gated", execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			return nil, nil
		}},
		func(context.Context, json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ran"}, nil
		},
	)
	executor := NewExecutor(registry, nil, fastExecutorConfig())

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "gated", Input: json.RawMessage(`{}`)})
	if result.Error != nil {
		t.Fatalf("Execute: %v", result.Error)
	}
	if !result.Result.IsError || !strings.Contains(result.Result.Content, "confirmation required") {
		t.Errorf("result = %+v", result.Result)
	}
}
