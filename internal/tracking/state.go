// Package tracking holds the process-wide bookkeeping of due-date automation:
// which trigger tasks extended which tasks, which section entries were already
// handled, and which due dates were written by duesync itself.
package tracking

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultPersistTimeout bounds one write-through call. The state lock is held
// for its duration, so a stalled backend delays ledger operations by at most
// this much per change.
const DefaultPersistTimeout = 2 * time.Second

// Persister receives every state change. Implementations must be safe for
// sequential use; State serializes calls.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	SaveExtension(ctx context.Context, affected, trigger string) error
	DeleteExtension(ctx context.Context, affected, trigger string) error
	SaveProcessed(ctx context.Context, trigger string) error
	DeleteProcessed(ctx context.Context, trigger string) error
	SaveAssignment(ctx context.Context, task, dueOn string) error
	DeleteAssignment(ctx context.Context, task string) error
}

// Snapshot is a point-in-time copy of the state.
type Snapshot struct {
	Extensions  map[string][]string `json:"extensions" yaml:"extensions"`
	Processed   []string            `json:"processed" yaml:"processed"`
	Assignments map[string]string   `json:"assignments" yaml:"assignments"`
}

// State is the extension ledger, the processed-trigger guard and the
// assignment registry behind a single mutex.
type State struct {
	mu          sync.Mutex
	extensions  map[string]map[string]struct{} // affected -> triggers
	processed   map[string]struct{}
	assignments map[string]string // task -> due date written by us
	persister   Persister
	logger      *slog.Logger

	persistTimeout time.Duration
}

// New creates an empty state. persister may be nil.
func New(persister Persister, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		extensions:  make(map[string]map[string]struct{}),
		processed:   make(map[string]struct{}),
		assignments: make(map[string]string),
		persister:   persister,
		logger:      logger,

		persistTimeout: DefaultPersistTimeout,
	}
}

// Restore creates a state populated from persister.
func Restore(ctx context.Context, persister Persister, logger *slog.Logger) (*State, error) {
	s := New(persister, logger)
	if persister == nil {
		return s, nil
	}
	snap, err := persister.Load(ctx)
	if err != nil {
		return nil, err
	}
	for affected, triggers := range snap.Extensions {
		for _, trigger := range triggers {
			s.addPairLocked(affected, trigger)
		}
	}
	for _, trigger := range snap.Processed {
		s.processed[trigger] = struct{}{}
	}
	for task, due := range snap.Assignments {
		s.assignments[task] = due
	}
	s.logger.Info("tracking state restored",
		"extended_tasks", len(s.extensions),
		"processed_triggers", len(s.processed),
		"assignments", len(s.assignments),
	)
	return s, nil
}

// Snapshot returns a sorted copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Extensions:  make(map[string][]string, len(s.extensions)),
		Processed:   sortedKeys(s.processed),
		Assignments: make(map[string]string, len(s.assignments)),
	}
	for affected, triggers := range s.extensions {
		snap.Extensions[affected] = sortedKeys(triggers)
	}
	for task, due := range s.assignments {
		snap.Assignments[task] = due
	}
	return snap
}

func (s *State) persist(op string, fn func(ctx context.Context, p Persister) error) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := fn(ctx, s.persister); err != nil {
		s.logger.Error("persist tracking state", "op", op, "error", err)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
