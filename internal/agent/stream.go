package agent

import (
	"context"

	"github.com/haasonsaas/belay/pkg/models"
)

// EventType identifies a caller-facing stream event.
type EventType string

const (
	// EventText carries a partial answer text delta.
	EventText EventType = "text"

	// EventToolStart announces that a tool call is about to execute.
	EventToolStart EventType = "tool_start"

	// EventToolResult carries the outcome of a tool call.
	EventToolResult EventType = "tool_result"

	// EventFinal carries the complete final answer and terminates the stream.
	EventFinal EventType = "final"

	// EventError terminates the stream with a failure.
	EventError EventType = "error"
)

// ResponseChunk is a single event on the caller-facing stream. Exactly one
// payload field is set, matching Type. A stream ends with a final or error
// chunk, or is truncated without either when the run is cancelled.
type ResponseChunk struct {
	Type       EventType          `json:"type"`
	Text       string             `json:"text,omitempty"`
	ToolCall   *models.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`
	Err        error              `json:"-"`
}

// Respond forwards loop chunks to out in emission order. On ctx cancellation
// it stops forwarding and closes out without a final chunk; already-forwarded
// output is not retracted. Respond closes out before returning.
func Respond(ctx context.Context, in <-chan *ResponseChunk, out chan<- *ResponseChunk) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}
}
