package hyperstate

import (
	"context"
	"errors"
	"time"

	"github.com/cswinter/hyperstate/schema"
)

// EventKind names a lifecycle occurrence.
type EventKind string

const (
	// EventConfigLoaded fires after the config document has been decoded.
	EventConfigLoaded EventKind = "config-loaded"
	// EventMigrationApplied fires when loading ran one or more upgrade rules.
	EventMigrationApplied EventKind = "migration-applied"
	// EventCheckpointSaved fires after a checkpoint directory has been moved
	// into place.
	EventCheckpointSaved EventKind = "checkpoint-saved"
	// EventCheckpointRestored fires when config and state come from an
	// existing checkpoint rather than the initial state constructor.
	EventCheckpointRestored EventKind = "checkpoint-restored"
)

// Event describes a lifecycle occurrence that can be fanned out to hooks.
type Event struct {
	Kind       EventKind
	Path       string
	Report     *schema.UpgradeReport
	OccurredAt time.Time
}

// Hook receives lifecycle events.
type Hook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy Hook.
type HookFunc func(ctx context.Context, event Event) error

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans out events to zero or more hooks.
type Hooks []Hook

// Enabled reports whether there are any hooks to notify.
func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify forwards the event to all hooks, returning a joined error if any
// fail. A zero OccurredAt is filled in with the current time.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
