package tasks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Sentinel errors for task operations.
var (
	// ErrInvalidTrigger indicates a trigger that cannot be scheduled: an
	// "at" timestamp in the past, a negative "after" delay, or a cron
	// expression that does not parse.
	ErrInvalidTrigger = errors.New("invalid trigger")

	// ErrNotFound indicates no such task for the session.
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyTerminal indicates the task is no longer pending.
	ErrAlreadyTerminal = errors.New("task already terminal")
)

// cronParser accepts the standard 5-field cron dialect with an optional
// leading seconds field and @-descriptors (@daily, @every 1h, ...).
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// TriggerKind identifies a trigger variant.
type TriggerKind string

const (
	// TriggerAt fires once at an absolute timestamp.
	TriggerAt TriggerKind = "at"

	// TriggerAfter fires once after a relative delay.
	TriggerAfter TriggerKind = "after"

	// TriggerCron fires repeatedly on a cron expression.
	TriggerCron TriggerKind = "cron"
)

// Trigger is the condition that determines when a task fires. Exactly one
// variant field is meaningful, selected by Kind.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	// At is the absolute fire time for TriggerAt.
	At time.Time `json:"at,omitempty"`

	// After is the relative delay for TriggerAfter.
	After time.Duration `json:"after,omitempty"`

	// CronExpr is the recurrence expression for TriggerCron.
	CronExpr string `json:"cron_expr,omitempty"`
}

// At builds an absolute-time trigger.
func At(t time.Time) Trigger {
	return Trigger{Kind: TriggerAt, At: t}
}

// After builds a relative-delay trigger.
func After(d time.Duration) Trigger {
	return Trigger{Kind: TriggerAfter, After: d}
}

// Cron builds a recurring trigger from a cron expression.
func Cron(expr string) Trigger {
	return Trigger{Kind: TriggerCron, CronExpr: strings.TrimSpace(expr)}
}

// Validate checks the trigger against now. All failures wrap ErrInvalidTrigger.
func (t Trigger) Validate(now time.Time) error {
	switch t.Kind {
	case TriggerAt:
		if t.At.IsZero() {
			return fmt.Errorf("%w: at trigger missing timestamp", ErrInvalidTrigger)
		}
		if !t.At.After(now) {
			return fmt.Errorf("%w: at timestamp %s is not in the future", ErrInvalidTrigger, t.At.Format(time.RFC3339))
		}
		return nil
	case TriggerAfter:
		if t.After < 0 {
			return fmt.Errorf("%w: after delay is negative", ErrInvalidTrigger)
		}
		return nil
	case TriggerCron:
		if t.CronExpr == "" {
			return fmt.Errorf("%w: cron trigger missing expression", ErrInvalidTrigger)
		}
		if _, err := cronParser.Parse(t.CronExpr); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidTrigger, t.Kind)
	}
}

// Next returns the next fire time strictly after now, and whether one
// exists. At and After triggers fire once; Cron triggers recur.
func (t Trigger) Next(now time.Time) (time.Time, bool, error) {
	switch t.Kind {
	case TriggerAt:
		if t.At.IsZero() {
			return time.Time{}, false, fmt.Errorf("%w: at trigger missing timestamp", ErrInvalidTrigger)
		}
		if now.After(t.At) {
			return time.Time{}, false, nil
		}
		return t.At, true, nil
	case TriggerAfter:
		if t.After < 0 {
			return time.Time{}, false, fmt.Errorf("%w: after delay is negative", ErrInvalidTrigger)
		}
		return now.Add(t.After), true, nil
	case TriggerCron:
		if t.CronExpr == "" {
			return time.Time{}, false, fmt.Errorf("%w: cron trigger missing expression", ErrInvalidTrigger)
		}
		schedule, err := cronParser.Parse(t.CronExpr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		}
		next := schedule.Next(now)
		return next, !next.IsZero(), nil
	default:
		return time.Time{}, false, fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidTrigger, t.Kind)
	}
}

// Recurring reports whether the trigger fires more than once.
func (t Trigger) Recurring() bool {
	return t.Kind == TriggerCron
}

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	// StatusPending tasks are waiting for their trigger.
	StatusPending TaskStatus = "pending"

	// StatusFired is terminal for non-recurring tasks; cron tasks remain
	// pending after firing.
	StatusFired TaskStatus = "fired"

	// StatusCanceled is terminal; a canceled task never fires.
	StatusCanceled TaskStatus = "canceled"
)

// ScheduledTask is a deferred or recurring unit of work owned by one session.
type ScheduledTask struct {
	// ID uniquely identifies the task.
	ID string `json:"id"`

	// SessionID scopes the task to its owning session.
	SessionID string `json:"session_id"`

	// Trigger determines when the task fires.
	Trigger Trigger `json:"trigger"`

	// HandlerName selects the registered handler invoked on fire.
	HandlerName string `json:"handler_name"`

	// Payload is opaque handler input.
	Payload string `json:"payload,omitempty"`

	// Status is the lifecycle state.
	Status TaskStatus `json:"status"`

	// NextRun is the next computed fire time while pending.
	NextRun time.Time `json:"next_run,omitempty"`

	// LastRun is when the task last fired.
	LastRun time.Time `json:"last_run,omitempty"`

	// FiredCount is how many times the task has fired.
	FiredCount int `json:"fired_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the task can no longer fire.
func (t *ScheduledTask) Terminal() bool {
	return t.Status == StatusFired || t.Status == StatusCanceled
}
