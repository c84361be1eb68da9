package tracking

import "context"

// AutoDueDate returns the due date duesync last wrote for task.
func (s *State) AutoDueDate(task string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due, ok := s.assignments[task]
	return due, ok
}

// IsAutoAssigned reports whether remoteDue is the date duesync wrote for task.
// An empty remoteDue is never auto-assigned.
func (s *State) IsAutoAssigned(task, remoteDue string) bool {
	if remoteDue == "" {
		return false
	}
	due, ok := s.AutoDueDate(task)
	return ok && due == remoteDue
}

// NoteAssigned records a due date written from the priority policy.
func (s *State) NoteAssigned(task, dueOn string) {
	if task == "" || dueOn == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assignments[task] == dueOn {
		return
	}
	s.assignments[task] = dueOn
	s.persist("save_assignment", func(ctx context.Context, p Persister) error {
		return p.SaveAssignment(ctx, task, dueOn)
	})
}

// FollowShift moves an auto-assigned date along with an extension or
// reduction. Tasks whose remote date was not ours stay untracked.
func (s *State) FollowShift(task, from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.assignments[task]; !ok || current != from {
		return
	}
	s.assignments[task] = to
	s.persist("save_assignment", func(ctx context.Context, p Persister) error {
		return p.SaveAssignment(ctx, task, to)
	})
}

// ForgetAssignment drops task from the registry after a manual edit was observed.
func (s *State) ForgetAssignment(task string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assignments[task]; !ok {
		return false
	}
	delete(s.assignments, task)
	s.persist("delete_assignment", func(ctx context.Context, p Persister) error {
		return p.DeleteAssignment(ctx, task)
	})
	return true
}
