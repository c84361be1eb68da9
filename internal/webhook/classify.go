package webhook

import (
	"encoding/json"

	"duesync/internal/duedate"
)

const (
	resourceTask        = "task"
	resourceSection     = "section"
	resourceCustomField = "custom_field"

	actionAdded   = "added"
	actionRemoved = "removed"
	actionChanged = "changed"

	fieldCustomFields = "custom_fields"
)

// Kind is the classification of one event.
type Kind int

const (
	EnteredTrackedSection Kind = iota + 1
	LeftTrackedSection
	PriorityChanged
	TaskCreated
)

func (k Kind) String() string {
	switch k {
	case EnteredTrackedSection:
		return "entered_tracked_section"
	case LeftTrackedSection:
		return "left_tracked_section"
	case PriorityChanged:
		return "priority_changed"
	case TaskCreated:
		return "task_created"
	default:
		return "unknown"
	}
}

// Action is a classified event.
type Action struct {
	Kind     Kind
	Task     string
	Section  string
	Priority duedate.Priority
}

// Rules configures classification.
type Rules struct {
	TrackedSection string
	Priorities     duedate.PriorityMap
	// PriorityField restricts priority changes to one custom field gid.
	PriorityField string
}

type customFieldValue struct {
	GID          string `json:"gid"`
	Name         string `json:"name"`
	ResourceType string `json:"resource_type"`
	EnumValue    *struct {
		GID  string `json:"gid"`
		Name string `json:"name"`
	} `json:"enum_value"`
}

// Classify turns raw events into actions, preserving order. Events that do
// not match a known shape are skipped.
func Classify(events []Event, rules Rules) []Action {
	actions := make([]Action, 0, len(events))
	for _, ev := range events {
		if action, ok := classifyOne(ev, rules); ok {
			actions = append(actions, action)
		}
	}
	return actions
}

func classifyOne(ev Event, rules Rules) (Action, bool) {
	if ev.Resource == nil || ev.Resource.ResourceType != resourceTask || ev.Resource.GID == "" {
		return Action{}, false
	}
	task := ev.Resource.GID
	parentIsSection := ev.Parent != nil && ev.Parent.ResourceType == resourceSection
	inTracked := parentIsSection && rules.TrackedSection != "" && ev.Parent.GID == rules.TrackedSection

	switch ev.Action {
	case actionAdded:
		if inTracked {
			return Action{Kind: EnteredTrackedSection, Task: task, Section: ev.Parent.GID}, true
		}
		if !parentIsSection {
			return Action{Kind: TaskCreated, Task: task}, true
		}
	case actionRemoved:
		if inTracked {
			return Action{Kind: LeftTrackedSection, Task: task, Section: ev.Parent.GID}, true
		}
	case actionChanged:
		if p, ok := priorityChange(ev.Change, rules); ok {
			return Action{Kind: PriorityChanged, Task: task, Priority: p}, true
		}
	}
	return Action{}, false
}

func priorityChange(change *Change, rules Rules) (duedate.Priority, bool) {
	if change == nil || change.Field != fieldCustomFields || len(change.NewValue) == 0 {
		return duedate.PriorityUnset, false
	}
	var value customFieldValue
	if err := json.Unmarshal(change.NewValue, &value); err != nil {
		return duedate.PriorityUnset, false
	}
	if value.ResourceType != resourceCustomField {
		return duedate.PriorityUnset, false
	}
	if rules.PriorityField != "" {
		if value.GID != rules.PriorityField {
			return duedate.PriorityUnset, false
		}
		if value.EnumValue == nil {
			return duedate.PriorityUnset, true
		}
	}
	if value.EnumValue == nil {
		return duedate.PriorityUnset, false
	}
	if rules.PriorityField != "" || duedate.IsPriorityFieldName(value.Name) {
		return rules.Priorities.Resolve(value.EnumValue.GID, value.EnumValue.Name)
	}
	return rules.Priorities.Lookup(value.EnumValue.GID)
}
