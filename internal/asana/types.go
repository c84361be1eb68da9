package asana

import "duesync/internal/duedate"

// Resource is a compact reference to a remote object.
type Resource struct {
	GID          string `json:"gid"`
	ResourceType string `json:"resource_type,omitempty"`
	Name         string `json:"name,omitempty"`
}

// EnumOption is one option of an enum custom field.
type EnumOption struct {
	GID  string `json:"gid"`
	Name string `json:"name,omitempty"`
}

// CustomField is a custom field value attached to a task.
type CustomField struct {
	GID          string      `json:"gid"`
	Name         string      `json:"name,omitempty"`
	ResourceType string      `json:"resource_type,omitempty"`
	EnumValue    *EnumOption `json:"enum_value"`
}

// Membership places a task in a project section.
type Membership struct {
	Project *Resource `json:"project,omitempty"`
	Section *Resource `json:"section,omitempty"`
}

// Task is the subset of a remote task duesync reads.
type Task struct {
	GID          string        `json:"gid"`
	Name         string        `json:"name"`
	DueOn        string        `json:"due_on"`
	CustomFields []CustomField `json:"custom_fields"`
	Memberships  []Membership  `json:"memberships"`
}

// InSection reports whether the task is a member of section.
func (t Task) InSection(section string) bool {
	if section == "" {
		return false
	}
	for _, m := range t.Memberships {
		if m.Section != nil && m.Section.GID == section {
			return true
		}
	}
	return false
}

// Priority finds the first custom field whose enum option is mapped. When
// fieldGID is set only that field is consulted. Option names are read only
// from the priority field itself.
func (t Task) Priority(priorities duedate.PriorityMap, fieldGID string) (duedate.Priority, bool) {
	for _, field := range t.CustomFields {
		if fieldGID != "" && field.GID != fieldGID {
			continue
		}
		if field.EnumValue == nil {
			continue
		}
		if p, ok := priorities.Lookup(field.EnumValue.GID); ok {
			return p, true
		}
		if fieldGID != "" || duedate.IsPriorityFieldName(field.Name) {
			if p, ok := priorities.Resolve("", field.EnumValue.Name); ok {
				return p, true
			}
		}
	}
	return duedate.PriorityUnset, false
}

// Webhook is a registered webhook subscription.
type Webhook struct {
	GID      string   `json:"gid"`
	Active   bool     `json:"active"`
	Target   string   `json:"target"`
	Resource Resource `json:"resource"`
}

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type nextPage struct {
	Offset string `json:"offset"`
}

type pagedEnvelope[T any] struct {
	Data     []T       `json:"data"`
	NextPage *nextPage `json:"next_page"`
}

type dueDateUpdate struct {
	DueOn string `json:"due_on"`
}

type webhookCreate struct {
	Resource string `json:"resource"`
	Target   string `json:"target"`
}

type errorBody struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}
