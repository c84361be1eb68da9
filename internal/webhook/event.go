// Package webhook decodes webhook deliveries from the task service and
// classifies their raw events into due-date actions.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned for bodies that are not a JSON object.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Resource identifies the object an event refers to.
type Resource struct {
	GID          string `json:"gid"`
	ResourceType string `json:"resource_type"`
}

// Change describes a field change on a "changed" event.
type Change struct {
	Field    string          `json:"field"`
	Action   string          `json:"action,omitempty"`
	NewValue json.RawMessage `json:"new_value,omitempty"`
}

// Event is one raw event of a delivery.
type Event struct {
	Action   string    `json:"action"`
	Resource *Resource `json:"resource"`
	Parent   *Resource `json:"parent,omitempty"`
	Change   *Change   `json:"change,omitempty"`
}

// Delivery is a webhook POST body.
type Delivery struct {
	Events []json.RawMessage `json:"events"`
}

// Decode parses a delivery body. Individual events that do not decode are
// dropped; only a body that is not a JSON object is an error.
func Decode(body []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}
	var delivery Delivery
	if err := json.Unmarshal(trimmed, &delivery); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	events := make([]Event, 0, len(delivery.Events))
	for _, raw := range delivery.Events {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
