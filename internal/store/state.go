package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"duesync/internal/tracking"
)

var _ tracking.Persister = (*Store)(nil)

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Load reads the full tracking state.
func (s *Store) Load(ctx context.Context) (tracking.Snapshot, error) {
	snap := tracking.Snapshot{
		Extensions:  make(map[string][]string),
		Processed:   []string{},
		Assignments: make(map[string]string),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT affected_id, trigger_id FROM extensions ORDER BY affected_id, trigger_id")
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var affected, trigger string
		if err := rows.Scan(&affected, &trigger); err != nil {
			rows.Close()
			return snap, err
		}
		snap.Extensions[affected] = append(snap.Extensions[affected], trigger)
	}
	if err := closeRows(rows); err != nil {
		return snap, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT trigger_id FROM processed_triggers ORDER BY trigger_id")
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var trigger string
		if err := rows.Scan(&trigger); err != nil {
			rows.Close()
			return snap, err
		}
		snap.Processed = append(snap.Processed, trigger)
	}
	if err := closeRows(rows); err != nil {
		return snap, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT task_id, due_on FROM due_assignments")
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var task, due string
		if err := rows.Scan(&task, &due); err != nil {
			rows.Close()
			return snap, err
		}
		snap.Assignments[task] = due
	}
	return snap, closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

// SaveExtension records that trigger extended affected.
func (s *Store) SaveExtension(ctx context.Context, affected, trigger string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO extensions (affected_id, trigger_id, created_at) VALUES (?, ?, ?)",
		affected, trigger, nowString())
	return err
}

// DeleteExtension removes one extension pair.
func (s *Store) DeleteExtension(ctx context.Context, affected, trigger string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM extensions WHERE affected_id = ? AND trigger_id = ?", affected, trigger)
	return err
}

// SaveProcessed marks a trigger entry as handled.
func (s *Store) SaveProcessed(ctx context.Context, trigger string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO processed_triggers (trigger_id, processed_at) VALUES (?, ?)",
		trigger, nowString())
	return err
}

// DeleteProcessed clears a processed trigger.
func (s *Store) DeleteProcessed(ctx context.Context, trigger string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM processed_triggers WHERE trigger_id = ?", trigger)
	return err
}

// SaveAssignment stores the due date duesync last wrote for task.
func (s *Store) SaveAssignment(ctx context.Context, task, dueOn string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO due_assignments (task_id, due_on, updated_at) VALUES (?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET due_on = excluded.due_on, updated_at = excluded.updated_at`,
		task, dueOn, nowString())
	return err
}

// DeleteAssignment forgets the due date duesync wrote for task.
func (s *Store) DeleteAssignment(ctx context.Context, task string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM due_assignments WHERE task_id = ?", task)
	return err
}

// SaveWebhookSecret stores the handshake secret under name.
func (s *Store) SaveWebhookSecret(ctx context.Context, name, secret string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO webhook_secrets (name, secret, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET secret = excluded.secret, updated_at = excluded.updated_at`,
		name, secret, nowString())
	return err
}

// WebhookSecret returns the stored secret for name, or "" if none.
func (s *Store) WebhookSecret(ctx context.Context, name string) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx, "SELECT secret FROM webhook_secrets WHERE name = ?", name).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return secret, err
}
