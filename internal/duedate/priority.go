package duedate

import (
	"fmt"
	"strings"
)

// Priority is the level carried by a task's priority custom field.
type Priority string

const (
	PriorityUnset  Priority = ""
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var priorityAliases = map[string]Priority{
	"low":    PriorityLow,
	"mid":    PriorityMedium,
	"medium": PriorityMedium,
	"high":   PriorityHigh,
}

// ParsePriority normalizes a priority name. "Mid" is accepted for Medium.
func ParsePriority(raw string) (Priority, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return PriorityUnset, nil
	}
	if p, ok := priorityAliases[value]; ok {
		return p, nil
	}
	return PriorityUnset, fmt.Errorf("invalid priority %q", raw)
}

func (p Priority) String() string {
	if p == PriorityUnset {
		return "unset"
	}
	return string(p)
}

// PriorityMap resolves enum option gids of the priority custom field.
type PriorityMap map[string]Priority

// NewPriorityMap builds a map from the configured option gids. Empty gids are skipped.
func NewPriorityMap(low, medium, high string) PriorityMap {
	m := PriorityMap{}
	for gid, p := range map[string]Priority{low: PriorityLow, medium: PriorityMedium, high: PriorityHigh} {
		gid = strings.TrimSpace(gid)
		if gid == "" {
			continue
		}
		m[gid] = p
	}
	return m
}

// Lookup returns the priority for an enum option gid.
func (m PriorityMap) Lookup(gid string) (Priority, bool) {
	if gid == "" {
		return PriorityUnset, false
	}
	p, ok := m[gid]
	return p, ok
}

// Resolve maps an enum option to a priority by gid, falling back to the
// option name ("High", "Mid", ...) when the gid is not configured.
func (m PriorityMap) Resolve(gid, name string) (Priority, bool) {
	if p, ok := m.Lookup(gid); ok {
		return p, true
	}
	p, err := ParsePriority(name)
	if err != nil || p == PriorityUnset {
		return PriorityUnset, false
	}
	return p, true
}

// IsPriorityFieldName reports whether a custom field name denotes the
// priority field.
func IsPriorityFieldName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), "priority")
}
