package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTaskStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func mustCreate(t *testing.T, store Store, sessionID string, trig Trigger) *ScheduledTask {
	t.Helper()
	task := &ScheduledTask{
		SessionID:   sessionID,
		Trigger:     trig,
		HandlerName: "agent",
		Payload:     "check in",
	}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, store := range openTaskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := mustCreate(t, store, "sess-1", After(time.Hour))

			if task.ID == "" {
				t.Fatal("Create should assign an ID")
			}
			if task.Status != StatusPending {
				t.Fatalf("status = %s, want pending", task.Status)
			}
			if task.NextRun.IsZero() {
				t.Fatal("Create should compute NextRun")
			}

			got, err := store.Get(ctx, task.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.SessionID != "sess-1" || got.Payload != "check in" || got.HandlerName != "agent" {
				t.Fatalf("unexpected task: %+v", got)
			}
			if got.Trigger.Kind != TriggerAfter || got.Trigger.After != time.Hour {
				t.Fatalf("trigger not persisted: %+v", got.Trigger)
			}

			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_CreateRejectsInvalidTrigger(t *testing.T) {
	for name, store := range openTaskStores(t) {
		t.Run(name, func(t *testing.T) {
			bad := &ScheduledTask{
				SessionID:   "sess-1",
				Trigger:     At(time.Now().Add(-time.Hour)),
				HandlerName: "agent",
			}
			if err := store.Create(context.Background(), bad); !errors.Is(err, ErrInvalidTrigger) {
				t.Fatalf("Create with past timestamp = %v, want ErrInvalidTrigger", err)
			}
		})
	}
}

func TestStore_ListBySessionInCreationOrder(t *testing.T) {
	for name, store := range openTaskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := mustCreate(t, store, "sess-1", After(time.Hour))
			mustCreate(t, store, "sess-2", After(time.Hour))
			second := mustCreate(t, store, "sess-1", After(2*time.Hour))

			got, err := store.List(ctx, "sess-1")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("len = %d, want 2", len(got))
			}
			if got[0].ID != first.ID || got[1].ID != second.ID {
				t.Fatalf("order = [%s %s], want [%s %s]", got[0].ID, got[1].ID, first.ID, second.ID)
			}

			empty, err := store.List(ctx, "sess-none")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("expected no tasks for unknown session, got %d", len(empty))
			}
		})
	}
}

func TestStore_Cancel(t *testing.T) {
	for name, store := range openTaskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := mustCreate(t, store, "sess-1", After(time.Hour))

			if err := store.Cancel(ctx, "sess-1", task.ID); err != nil {
				t.Fatalf("Cancel: %v", err)
			}
			got, err := store.Get(ctx, task.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status != StatusCanceled {
				t.Fatalf("status = %s, want canceled", got.Status)
			}

			if err := store.Cancel(ctx, "sess-1", task.ID); !errors.Is(err, ErrAlreadyTerminal) {
				t.Fatalf("second Cancel = %v, want ErrAlreadyTerminal", err)
			}
			if err := store.Cancel(ctx, "sess-1", "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Cancel(missing) = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_CancelScopedToSession(t *testing.T) {
	for name, store := range openTaskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := mustCreate(t, store, "sess-1", After(time.Hour))

			if err := store.Cancel(ctx, "sess-2", task.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Cancel via other session = %v, want ErrNotFound", err)
			}
			got, _ := store.Get(ctx, task.ID)
			if got.Status != StatusPending {
				t.Fatalf("task should still be pending, got %s", got.Status)
			}
		})
	}
}

func TestStore_Due(t *testing.T) {
	for name, store := range openTaskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			soon := mustCreate(t, store, "sess-1", After(0))
			mustCreate(t, store, "sess-1", After(time.Hour))
			canceled := mustCreate(t, store, "sess-1", After(0))
			if err := store.Cancel(ctx, "sess-1", canceled.ID); err != nil {
				t.Fatalf("Cancel: %v", err)
			}

			due, err := store.Due(ctx, time.Now().Add(time.Second))
			if err != nil {
				t.Fatalf("Due: %v", err)
			}
			if len(due) != 1 || due[0].ID != soon.ID {
				t.Fatalf("due = %+v, want only %s", due, soon.ID)
			}
		})
	}
}

func TestStore_MarkFiredOneShot(t *testing.T) {
	for name, store := range openTaskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := mustCreate(t, store, "sess-1", After(0))
			now := time.Now()

			if err := store.MarkFired(ctx, task.ID, now); err != nil {
				t.Fatalf("MarkFired: %v", err)
			}
			got, err := store.Get(ctx, task.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status != StatusFired {
				t.Fatalf("status = %s, want fired", got.Status)
			}
			if got.FiredCount != 1 {
				t.Fatalf("fired count = %d, want 1", got.FiredCount)
			}
			if got.LastRun.IsZero() {
				t.Fatal("LastRun should be set")
			}

			if err := store.MarkFired(ctx, task.ID, now); !errors.Is(err, ErrAlreadyTerminal) {
				t.Fatalf("second MarkFired = %v, want ErrAlreadyTerminal", err)
			}
		})
	}
}

func TestStore_MarkFiredCronStaysPending(t *testing.T) {
	for name, store := range openTaskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := mustCreate(t, store, "sess-1", Cron("@every 1h"))
			firstNext := task.NextRun

			fireAt := firstNext.Add(time.Second)
			if err := store.MarkFired(ctx, task.ID, fireAt); err != nil {
				t.Fatalf("MarkFired: %v", err)
			}
			got, err := store.Get(ctx, task.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status != StatusPending {
				t.Fatalf("cron task status = %s, want pending", got.Status)
			}
			if got.FiredCount != 1 {
				t.Fatalf("fired count = %d, want 1", got.FiredCount)
			}
			if !got.NextRun.After(fireAt) {
				t.Fatalf("NextRun %v should advance past fire time %v", got.NextRun, fireAt)
			}
		})
	}
}

func TestStore_MarkFiredAfterCancelFails(t *testing.T) {
	for name, store := range openTaskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := mustCreate(t, store, "sess-1", After(0))

			if err := store.Cancel(ctx, "sess-1", task.ID); err != nil {
				t.Fatalf("Cancel: %v", err)
			}
			if err := store.MarkFired(ctx, task.ID, time.Now()); !errors.Is(err, ErrAlreadyTerminal) {
				t.Fatalf("MarkFired after cancel = %v, want ErrAlreadyTerminal", err)
			}
		})
	}
}
