package tracking

import (
	"context"
	"sort"
)

// RecordExtension adds trigger to affected's set. It reports whether the
// pair is new; only a new pair may be applied to the remote due date.
func (s *State) RecordExtension(affected, trigger string) bool {
	if affected == "" || trigger == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.addPairLocked(affected, trigger) {
		return false
	}
	s.persist("save_extension", func(ctx context.Context, p Persister) error {
		return p.SaveExtension(ctx, affected, trigger)
	})
	return true
}

// ReleaseExtension removes trigger from affected's set and drops the entry
// once it is empty. It reports whether anything changed.
func (s *State) ReleaseExtension(affected, trigger string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	triggers, ok := s.extensions[affected]
	if !ok {
		return false
	}
	if _, ok := triggers[trigger]; !ok {
		return false
	}
	delete(triggers, trigger)
	if len(triggers) == 0 {
		delete(s.extensions, affected)
	}
	s.persist("delete_extension", func(ctx context.Context, p Persister) error {
		return p.DeleteExtension(ctx, affected, trigger)
	})
	return true
}

// TriggersFor lists the triggers currently extending affected.
func (s *State) TriggersFor(affected string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.extensions[affected])
}

// AffectedBy lists the tasks currently extended because of trigger.
func (s *State) AffectedBy(trigger string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for affected, triggers := range s.extensions {
		if _, ok := triggers[trigger]; ok {
			out = append(out, affected)
		}
	}
	sort.Strings(out)
	return out
}

func (s *State) addPairLocked(affected, trigger string) bool {
	triggers, ok := s.extensions[affected]
	if !ok {
		triggers = make(map[string]struct{})
		s.extensions[affected] = triggers
	}
	if _, exists := triggers[trigger]; exists {
		return false
	}
	triggers[trigger] = struct{}{}
	return true
}
