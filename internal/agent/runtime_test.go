package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/belay/internal/sessions"
	"github.com/haasonsaas/belay/pkg/models"
)

func TestRuntime_BusySessionRejected(t *testing.T) {
	release := make(chan struct{})
	provider := &loopTestProvider{}
	provider.completeFunc = func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
		ch := make(chan *CompletionChunk, 2)
		go func() {
			defer close(ch)
			select {
			case <-release:
			case <-ctx.Done():
				return
			}
			ch <- &CompletionChunk{Text: "done"}
			ch <- &CompletionChunk{Done: true}
		}()
		return ch, nil
	}

	store := sessions.NewMemoryStore()
	session := newTestSession(t, store)
	runtime := NewRuntime(provider, store, nil)

	first, err := runtime.Process(context.Background(), session, &models.Message{Content: "one"})
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}

	if _, err := runtime.Process(context.Background(), session, &models.Message{Content: "two"}); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second Process err = %v, want ErrSessionBusy", err)
	}

	close(release)
	collect(t, first)

	// The session frees once the first run fully unwinds.
	deadline := time.After(2 * time.Second)
	for {
		out, err := runtime.Process(context.Background(), session, &models.Message{Content: "three"})
		if err == nil {
			collect(t, out)
			return
		}
		if !errors.Is(err, ErrSessionBusy) {
			t.Fatalf("Process: %v", err)
		}
		select {
		case <-deadline:
			t.Fatal("session never released")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRuntime_DistinctSessionsRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	provider := &loopTestProvider{}
	provider.completeFunc = func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
		ch := make(chan *CompletionChunk, 2)
		go func() {
			defer close(ch)
			select {
			case <-release:
			case <-ctx.Done():
				return
			}
			ch <- &CompletionChunk{Done: true}
		}()
		return ch, nil
	}

	store := sessions.NewMemoryStore()
	a, err := store.GetOrCreate(context.Background(), "belay:a", "belay")
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.GetOrCreate(context.Background(), "belay:b", "belay")
	if err != nil {
		t.Fatal(err)
	}
	runtime := NewRuntime(provider, store, nil)

	outA, err := runtime.Process(context.Background(), a, &models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("session a: %v", err)
	}
	outB, err := runtime.Process(context.Background(), b, &models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("session b blocked by session a: %v", err)
	}

	close(release)
	collect(t, outA)
	collect(t, outB)
}

func TestRuntime_CancelledRunClosesWithoutFinal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	provider := &loopTestProvider{}
	provider.completeFunc = func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
		ch := make(chan *CompletionChunk)
		go func() {
			defer close(ch)
			select {
			case ch <- &CompletionChunk{Text: "thinking"}:
			case <-ctx.Done():
				return
			}
			<-ctx.Done()
		}()
		return ch, nil
	}

	store := sessions.NewMemoryStore()
	session := newTestSession(t, store)
	runtime := NewRuntime(provider, store, nil)

	out, err := runtime.Process(ctx, session, &models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	select {
	case <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("no first chunk")
	}
	cancel()

	events := collect(t, out)
	for _, e := range events {
		if e.Type == EventFinal || e.Type == EventError {
			t.Errorf("cancelled run emitted %s", e.Type)
		}
	}
}
