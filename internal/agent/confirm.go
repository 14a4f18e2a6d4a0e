package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/belay/pkg/models"
)

// ErrNoPendingConfirmation indicates a resolution arrived for a call that is
// not awaiting confirmation.
var ErrNoPendingConfirmation = errors.New("no pending confirmation")

// PendingConfirmation describes a confirm-kind tool call waiting on an
// external decision.
type PendingConfirmation struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Input      json.RawMessage `json:"input,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Confirmations is the boundary between the executor and the external
// confirmation flow. The executor parks confirm-kind calls here; the external
// UI lists them with Pending and settles them with Resolve. A parked call
// also unblocks when its context is cancelled.
type Confirmations struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	info     PendingConfirmation
	decision chan bool
}

// NewConfirmations creates an empty confirmation boundary.
func NewConfirmations() *Confirmations {
	return &Confirmations{
		pending: make(map[string]*pendingEntry),
	}
}

// Await parks the call until the external flow resolves it or ctx is
// cancelled. Returns whether the call was approved.
func (c *Confirmations) Await(ctx context.Context, call models.ToolCall) (bool, error) {
	entry := &pendingEntry{
		info: PendingConfirmation{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Input:      call.Input,
			CreatedAt:  time.Now(),
		},
		decision: make(chan bool, 1),
	}

	c.mu.Lock()
	c.pending[call.ID] = entry
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending[call.ID] == entry {
			delete(c.pending, call.ID)
		}
		c.mu.Unlock()
	}()

	select {
	case approved := <-entry.decision:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve settles a pending confirmation by tool call ID.
func (c *Confirmations) Resolve(toolCallID string, approved bool) error {
	c.mu.Lock()
	entry, ok := c.pending[toolCallID]
	if ok {
		delete(c.pending, toolCallID)
	}
	c.mu.Unlock()
	if !ok {
		return ErrNoPendingConfirmation
	}
	entry.decision <- approved
	return nil
}

// Pending returns a snapshot of calls currently awaiting confirmation.
func (c *Confirmations) Pending() []PendingConfirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingConfirmation, 0, len(c.pending))
	for _, entry := range c.pending {
		out = append(out, entry.info)
	}
	return out
}
