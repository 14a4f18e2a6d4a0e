package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/belay/pkg/models"
)

func TestConfirmations_ApproveAndDeny(t *testing.T) {
	c := NewConfirmations()
	call := models.ToolCall{ID: "c1", Name: "gated", Input: json.RawMessage(`{"city":"Berlin"}`)}

	type outcome struct {
		approved bool
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		approved, err := c.Await(context.Background(), call)
		done <- outcome{approved, err}
	}()

	// Wait until the call is parked.
	deadline := time.After(2 * time.Second)
	for len(c.Pending()) == 0 {
		select {
		case <-deadline:
			t.Fatal("call never parked")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	pending := c.Pending()
	if pending[0].ToolCallID != "c1" || pending[0].ToolName != "gated" {
		t.Errorf("pending = %+v", pending[0])
	}

	if err := c.Resolve("c1", true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	res := <-done
	if res.err != nil || !res.approved {
		t.Errorf("outcome = %+v", res)
	}

	if len(c.Pending()) != 0 {
		t.Error("resolved call still pending")
	}
}

func TestConfirmations_ResolveUnknown(t *testing.T) {
	c := NewConfirmations()
	if err := c.Resolve("ghost", true); !errors.Is(err, ErrNoPendingConfirmation) {
		t.Errorf("err = %v", err)
	}
}

func TestConfirmations_ContextCancelUnblocks(t *testing.T) {
	c := NewConfirmations()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Await(ctx, models.ToolCall{ID: "c1", Name: "gated"})
		errCh <- err
	}()

	deadline := time.After(2 * time.Second)
	for len(c.Pending()) == 0 {
		select {
		case <-deadline:
			t.Fatal("call never parked")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not unblock on cancellation")
	}
}
