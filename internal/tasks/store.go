package tasks

import (
	"context"
	"time"
)

// Store persists scheduled tasks. List returns a session's tasks in creation
// order. Cancellation is effective-before-fire: MarkFired and Cancel both
// require the task to still be pending, so whichever is observed first wins.
type Store interface {
	// Create validates the trigger, computes the first fire time, and
	// persists a pending task. Returns ErrInvalidTrigger on a bad trigger.
	Create(ctx context.Context, task *ScheduledTask) error

	// Get returns a task by ID.
	Get(ctx context.Context, id string) (*ScheduledTask, error)

	// List returns the session's tasks in creation order.
	List(ctx context.Context, sessionID string) ([]*ScheduledTask, error)

	// Cancel transitions a pending task to canceled. Returns ErrNotFound
	// if the session has no such task and ErrAlreadyTerminal if the task
	// is not pending.
	Cancel(ctx context.Context, sessionID, id string) error

	// Due returns pending tasks whose NextRun is at or before now.
	Due(ctx context.Context, now time.Time) ([]*ScheduledTask, error)

	// MarkFired claims a fire: a non-recurring task becomes fired; a cron
	// task records the run, recomputes NextRun, and stays pending.
	// Returns ErrAlreadyTerminal if the task is not pending, which is how
	// a racing cancellation wins.
	MarkFired(ctx context.Context, id string, now time.Time) error
}
