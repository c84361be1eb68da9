package engine

import (
	"context"
	"fmt"

	"duesync/internal/duedate"
)

func (e *Engine) priorityChanged(ctx context.Context, id string, priority duedate.Priority) error {
	unlock := e.locks.lock(id)
	defer unlock()

	task, err := e.gateway.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch task %s: %w", id, err)
	}
	if task.DueOn != "" && !e.state.IsAutoAssigned(id, task.DueOn) {
		if e.state.ForgetAssignment(id) {
			e.logger.Info("manual due date edit observed", "task", id, "due_on", task.DueOn)
		}
		e.logger.Info("keeping manually set due date", "task", id, "due_on", task.DueOn, "priority", priority.String())
		return nil
	}

	// Active extensions stay applied on top of the new base date.
	due := duedate.Initial(priority, e.today())
	due = due.AddDate(0, 0, duedate.ExtensionDays*len(e.state.TriggersFor(id)))
	return e.assign(ctx, id, task.DueOn, duedate.Format(due), priority)
}

func (e *Engine) taskCreated(ctx context.Context, id string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	task, err := e.gateway.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch task %s: %w", id, err)
	}
	if task.DueOn != "" {
		e.logger.Info("keeping due date set at creation", "task", id, "due_on", task.DueOn)
		return nil
	}
	if task.Name == "" {
		return nil
	}
	priority, ok := task.Priority(e.cfg.Priorities, e.cfg.PriorityField)
	if !ok {
		return nil
	}
	return e.assign(ctx, id, "", duedate.Format(duedate.Initial(priority, e.today())), priority)
}

func (e *Engine) assign(ctx context.Context, id, current, dueOn string, priority duedate.Priority) error {
	if current == dueOn {
		e.state.NoteAssigned(id, dueOn)
		return nil
	}
	if _, err := e.gateway.UpdateDueDate(ctx, id, dueOn); err != nil {
		return fmt.Errorf("set due date of task %s: %w", id, err)
	}
	e.state.NoteAssigned(id, dueOn)
	e.logger.Info("assigned due date", "task", id, "priority", priority.String(), "due_on", dueOn)
	return nil
}
