// Package engine applies classified webhook actions: it extends sibling due
// dates when a high-priority task enters the tracked section, reverts those
// extensions when it leaves, and assigns due dates from priorities.
package engine

import (
	"context"
	"log/slog"
	"time"

	"duesync/internal/asana"
	"duesync/internal/duedate"
	"duesync/internal/tracking"
	"duesync/internal/webhook"
)

// Gateway is the subset of the remote API the engine uses.
type Gateway interface {
	GetTask(ctx context.Context, id string) (asana.Task, error)
	ListSectionTasks(ctx context.Context, section string) ([]asana.Resource, error)
	UpdateDueDate(ctx context.Context, id, dueOn string) (asana.Task, error)
}

// Config holds the engine's rules.
type Config struct {
	TrackedSection string
	Priorities     duedate.PriorityMap
	PriorityField  string
	// ExtendManualDueDates allows extensions of due dates duesync did not assign.
	ExtendManualDueDates bool
	Now                  func() time.Time
}

// Engine dispatches actions against the gateway and tracking state.
type Engine struct {
	gateway Gateway
	state   *tracking.State
	cfg     Config
	locks   *taskLocks
	logger  *slog.Logger
}

// Summary counts the outcome of one dispatch.
type Summary struct {
	Handled int
	Failed  int
}

// New creates an engine.
func New(gateway Gateway, state *tracking.State, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Priorities == nil {
		cfg.Priorities = duedate.PriorityMap{}
	}
	return &Engine{
		gateway: gateway,
		state:   state,
		cfg:     cfg,
		locks:   newTaskLocks(),
		logger:  logger,
	}
}

// Rules returns the classification rules matching this engine.
func (e *Engine) Rules() webhook.Rules {
	return webhook.Rules{
		TrackedSection: e.cfg.TrackedSection,
		Priorities:     e.cfg.Priorities,
		PriorityField:  e.cfg.PriorityField,
	}
}

// State exposes the tracking state.
func (e *Engine) State() *tracking.State {
	return e.state
}

// Dispatch handles actions in order. A failing action is logged and does not
// stop the ones after it.
func (e *Engine) Dispatch(ctx context.Context, actions []webhook.Action) Summary {
	var summary Summary
	for _, action := range actions {
		log := e.logger.With("action", action.Kind.String(), "task", action.Task)
		if err := e.Handle(ctx, action); err != nil {
			summary.Failed++
			log.Error("action failed", "error", err)
			continue
		}
		summary.Handled++
		log.Debug("action handled")
	}
	return summary
}

// Handle applies a single action.
func (e *Engine) Handle(ctx context.Context, action webhook.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch action.Kind {
	case webhook.EnteredTrackedSection:
		return e.enteredSection(ctx, action.Task, action.Section)
	case webhook.LeftTrackedSection:
		return e.leftSection(ctx, action.Task)
	case webhook.PriorityChanged:
		return e.priorityChanged(ctx, action.Task, action.Priority)
	case webhook.TaskCreated:
		return e.taskCreated(ctx, action.Task)
	default:
		return nil
	}
}

func (e *Engine) today() time.Time {
	return duedate.Day(e.cfg.Now())
}
