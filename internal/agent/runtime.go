package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/belay/internal/sessions"
	"github.com/haasonsaas/belay/pkg/models"
)

// Runtime wraps the Loop with per-session run serialization. At most one run
// is active per session; a second Process call for a busy session is
// rejected with ErrSessionBusy rather than queued, so callers get immediate
// backpressure instead of unbounded buffering.
type Runtime struct {
	loop          *Loop
	confirmations *Confirmations

	mu     sync.Mutex
	active map[string]struct{}
}

// NewRuntime creates a runtime around a provider, session store, and loop
// configuration. A confirmation boundary is always created so confirm-kind
// tools can be registered later.
func NewRuntime(provider LLMProvider, store sessions.Store, config *LoopConfig) *Runtime {
	confirmations := NewConfirmations()
	registry := NewToolRegistry()
	return &Runtime{
		loop:          NewLoop(provider, registry, confirmations, store, config),
		confirmations: confirmations,
		active:        make(map[string]struct{}),
	}
}

// SetDefaultModel configures the model used when not specified in requests.
func (r *Runtime) SetDefaultModel(model string) {
	r.loop.SetDefaultModel(model)
}

// SetSystemPrompt configures the system prompt used for every run.
func (r *Runtime) SetSystemPrompt(system string) {
	r.loop.SetDefaultSystem(system)
}

// RegisterTool adds an auto-executing tool to the runtime's catalog.
func (r *Runtime) RegisterTool(tool Tool, opts ...ToolOption) {
	r.loop.Registry().Register(tool, opts...)
}

// RegisterConfirmTool adds a confirmation-gated tool and its side-table
// implementation to the runtime's catalog.
func (r *Runtime) RegisterConfirmTool(tool Tool, impl ConfirmFunc, opts ...ToolOption) {
	r.loop.Registry().RegisterConfirm(tool, impl, opts...)
}

// Confirmations exposes the confirmation boundary for the external flow.
func (r *Runtime) Confirmations() *Confirmations {
	return r.confirmations
}

// ExecutorMetrics returns a snapshot of tool execution counters.
func (r *Runtime) ExecutorMetrics() *ExecutorMetricsSnapshot {
	return r.loop.ExecutorMetrics()
}

// Process handles an inbound message for a session and streams the response.
// Returns ErrSessionBusy if a run for the session is already in flight.
func (r *Runtime) Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *ResponseChunk, error) {
	if session == nil {
		return nil, fmt.Errorf("session is nil")
	}

	if !r.acquire(session.ID) {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, session.ID)
	}

	chunks, err := r.loop.Run(ctx, session, msg)
	if err != nil {
		r.release(session.ID)
		return nil, err
	}

	out := make(chan *ResponseChunk, processBufferSize)
	go func() {
		Respond(ctx, chunks, out)
		// Wait for the loop goroutine to unwind before freeing the
		// session, so a follow-up run never overlaps a cancelled one.
		for range chunks {
		}
		r.release(session.ID)
	}()
	return out, nil
}

func (r *Runtime) acquire(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[sessionID]; busy {
		return false
	}
	r.active[sessionID] = struct{}{}
	return true
}

func (r *Runtime) release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, sessionID)
}
