package tracking

import "context"

// MarkProcessed records that trigger's section entry has been handled.
// It returns false when the trigger was already marked.
func (s *State) MarkProcessed(trigger string) bool {
	if trigger == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[trigger]; ok {
		return false
	}
	s.processed[trigger] = struct{}{}
	s.persist("save_processed", func(ctx context.Context, p Persister) error {
		return p.SaveProcessed(ctx, trigger)
	})
	return true
}

// IsProcessed reports whether trigger's section entry has been handled.
func (s *State) IsProcessed(trigger string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[trigger]
	return ok
}

// ClearProcessed forgets trigger so that a later entry is handled again.
func (s *State) ClearProcessed(trigger string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[trigger]; !ok {
		return false
	}
	delete(s.processed, trigger)
	s.persist("delete_processed", func(ctx context.Context, p Persister) error {
		return p.DeleteProcessed(ctx, trigger)
	})
	return true
}
