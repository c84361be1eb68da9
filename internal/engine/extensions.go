package engine

import (
	"context"
	"errors"
	"fmt"

	"duesync/internal/duedate"
)

func (e *Engine) enteredSection(ctx context.Context, trigger, section string) error {
	if section == "" {
		section = e.cfg.TrackedSection
	}
	unlock := e.locks.lock(triggerKey(trigger))
	defer unlock()

	if e.state.IsProcessed(trigger) {
		e.logger.Debug("section entry already processed", "task", trigger)
		return nil
	}

	task, err := e.gateway.GetTask(ctx, trigger)
	if err != nil {
		return fmt.Errorf("fetch task %s: %w", trigger, err)
	}
	priority, _ := task.Priority(e.cfg.Priorities, e.cfg.PriorityField)
	if priority != duedate.PriorityHigh {
		return nil
	}
	if !e.state.MarkProcessed(trigger) {
		return nil
	}
	e.logger.Info("high-priority task entered tracked section", "task", trigger, "section", section)

	siblings, err := e.gateway.ListSectionTasks(ctx, section)
	if err != nil {
		e.state.ClearProcessed(trigger)
		return fmt.Errorf("list section %s: %w", section, err)
	}

	var errs []error
	extended := 0
	for _, sibling := range siblings {
		if sibling.GID == "" || sibling.GID == trigger {
			continue
		}
		if !e.state.RecordExtension(sibling.GID, trigger) {
			continue
		}
		applied, err := e.extend(ctx, sibling.GID, trigger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if applied {
			extended++
		}
	}
	e.logger.Info("extension pass complete", "trigger", trigger, "extended", extended, "failed", len(errs))
	if len(errs) > 0 {
		// Recorded pairs stay; a redelivered entry retries only the released ones.
		e.state.ClearProcessed(trigger)
	}
	return errors.Join(errs...)
}

// extend pushes affected's due date out for a freshly recorded pair. The
// pair is released again whenever no extension reaches the remote task.
func (e *Engine) extend(ctx context.Context, affected, trigger string) (bool, error) {
	unlock := e.locks.lock(affected)
	defer unlock()

	task, err := e.gateway.GetTask(ctx, affected)
	if err != nil {
		e.state.ReleaseExtension(affected, trigger)
		return false, fmt.Errorf("fetch task %s: %w", affected, err)
	}
	if !e.cfg.ExtendManualDueDates && !e.state.IsAutoAssigned(affected, task.DueOn) {
		e.state.ReleaseExtension(affected, trigger)
		e.logger.Debug("skipping manually set due date", "task", affected, "due_on", task.DueOn)
		return false, nil
	}
	current, err := duedate.Parse(task.DueOn)
	if err != nil {
		e.state.ReleaseExtension(affected, trigger)
		return false, fmt.Errorf("parse due date of task %s: %w", affected, err)
	}
	next, ok := duedate.Shift(current, duedate.ExtensionDays)
	if !ok {
		e.state.ReleaseExtension(affected, trigger)
		e.logger.Debug("no due date to extend", "task", affected)
		return false, nil
	}

	dueOn := duedate.Format(next)
	if _, err := e.gateway.UpdateDueDate(ctx, affected, dueOn); err != nil {
		e.state.ReleaseExtension(affected, trigger)
		return false, fmt.Errorf("extend task %s: %w", affected, err)
	}
	e.state.FollowShift(affected, task.DueOn, dueOn)
	e.logger.Info("extended due date", "task", affected, "trigger", trigger, "from", task.DueOn, "to", dueOn)
	return true, nil
}

func (e *Engine) leftSection(ctx context.Context, trigger string) error {
	unlock := e.locks.lock(triggerKey(trigger))
	defer unlock()

	affected := e.state.AffectedBy(trigger)
	e.state.ClearProcessed(trigger)
	if len(affected) == 0 {
		return nil
	}
	e.logger.Info("trigger task left tracked section", "task", trigger, "affected", len(affected))

	var errs []error
	for _, task := range affected {
		if !e.state.ReleaseExtension(task, trigger) {
			continue
		}
		if err := e.reduce(ctx, task, trigger); err != nil {
			// Keep the pair so a redelivered departure can retry the reduction.
			e.state.RecordExtension(task, trigger)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) reduce(ctx context.Context, affected, trigger string) error {
	unlock := e.locks.lock(affected)
	defer unlock()

	task, err := e.gateway.GetTask(ctx, affected)
	if err != nil {
		return fmt.Errorf("fetch task %s: %w", affected, err)
	}
	if !task.InSection(e.cfg.TrackedSection) {
		e.logger.Info("affected task already left tracked section; not reducing", "task", affected, "trigger", trigger)
		return nil
	}
	current, err := duedate.Parse(task.DueOn)
	if err != nil {
		return fmt.Errorf("parse due date of task %s: %w", affected, err)
	}
	prev, ok := duedate.Shift(current, -duedate.ExtensionDays)
	if !ok {
		e.logger.Debug("no due date to reduce", "task", affected)
		return nil
	}

	dueOn := duedate.Format(prev)
	if _, err := e.gateway.UpdateDueDate(ctx, affected, dueOn); err != nil {
		return fmt.Errorf("reduce task %s: %w", affected, err)
	}
	e.state.FollowShift(affected, task.DueOn, dueOn)
	e.logger.Info("reduced due date", "task", affected, "trigger", trigger, "from", task.DueOn, "to", dueOn)
	return nil
}

// triggerKey names the lock that orders a trigger's entry and departure
// passes. It never collides with a task id.
func triggerKey(trigger string) string {
	return "trigger:" + trigger
}
