package webhook

import (
	"errors"
	"testing"

	"duesync/internal/duedate"
)

var testRules = Rules{
	TrackedSection: "inprog",
	Priorities:     duedate.NewPriorityMap("enum-low", "enum-med", "enum-high"),
}

func mustDecode(t *testing.T, body string) []Event {
	t.Helper()
	events, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return events
}

func TestDecodeMalformed(t *testing.T) {
	for _, body := range []string{"{not json", "", "  ", "null", "[1,2]"} {
		if _, err := Decode([]byte(body)); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("body %q: expected malformed payload error, got %v", body, err)
		}
	}
}

func TestDecodeSkipsBadEvents(t *testing.T) {
	events := mustDecode(t, `{"events":[42,{"action":"added","resource":{"gid":"1","resource_type":"task"}}]}`)
	if len(events) != 1 || events[0].Resource.GID != "1" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestDecodeWithoutEvents(t *testing.T) {
	events := mustDecode(t, `{"foo":"bar"}`)
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []Action
	}{
		{
			name: "entered tracked section",
			body: `{"events":[{"action":"added","resource":{"gid":"t1","resource_type":"task"},"parent":{"gid":"inprog","resource_type":"section"}}]}`,
			want: []Action{{Kind: EnteredTrackedSection, Task: "t1", Section: "inprog"}},
		},
		{
			name: "left tracked section",
			body: `{"events":[{"action":"removed","resource":{"gid":"t1","resource_type":"task"},"parent":{"gid":"inprog","resource_type":"section"}}]}`,
			want: []Action{{Kind: LeftTrackedSection, Task: "t1", Section: "inprog"}},
		},
		{
			name: "added to other section is ignored",
			body: `{"events":[{"action":"added","resource":{"gid":"t1","resource_type":"task"},"parent":{"gid":"backlog","resource_type":"section"}}]}`,
		},
		{
			name: "removed from other section is ignored",
			body: `{"events":[{"action":"removed","resource":{"gid":"t1","resource_type":"task"},"parent":{"gid":"backlog","resource_type":"section"}}]}`,
		},
		{
			name: "task created in project",
			body: `{"events":[{"action":"added","resource":{"gid":"t2","resource_type":"task"},"parent":{"gid":"proj","resource_type":"project"}}]}`,
			want: []Action{{Kind: TaskCreated, Task: "t2"}},
		},
		{
			name: "task created without parent",
			body: `{"events":[{"action":"added","resource":{"gid":"t2","resource_type":"task"}}]}`,
			want: []Action{{Kind: TaskCreated, Task: "t2"}},
		},
		{
			name: "priority changed",
			body: `{"events":[{"action":"changed","resource":{"gid":"t3","resource_type":"task"},"change":{"field":"custom_fields","new_value":{"gid":"cf","resource_type":"custom_field","enum_value":{"gid":"enum-high"}}}}]}`,
			want: []Action{{Kind: PriorityChanged, Task: "t3", Priority: duedate.PriorityHigh}},
		},
		{
			name: "unmapped enum is ignored",
			body: `{"events":[{"action":"changed","resource":{"gid":"t3","resource_type":"task"},"change":{"field":"custom_fields","new_value":{"gid":"cf","resource_type":"custom_field","enum_value":{"gid":"other"}}}}]}`,
		},
		{
			name: "mid option name on the priority field",
			body: `{"events":[{"action":"changed","resource":{"gid":"t3","resource_type":"task"},"change":{"field":"custom_fields","new_value":{"gid":"cf","name":"Priority","resource_type":"custom_field","enum_value":{"gid":"other","name":"Mid"}}}}]}`,
			want: []Action{{Kind: PriorityChanged, Task: "t3", Priority: duedate.PriorityMedium}},
		},
		{
			name: "option name on another field is ignored",
			body: `{"events":[{"action":"changed","resource":{"gid":"t3","resource_type":"task"},"change":{"field":"custom_fields","new_value":{"gid":"cf","name":"Effort","resource_type":"custom_field","enum_value":{"gid":"other","name":"High"}}}}]}`,
		},
		{
			name: "other field change is ignored",
			body: `{"events":[{"action":"changed","resource":{"gid":"t3","resource_type":"task"},"change":{"field":"name"}}]}`,
		},
		{
			name: "non-task resources are ignored",
			body: `{"events":[{"action":"added","resource":{"gid":"s1","resource_type":"story"},"parent":{"gid":"t1","resource_type":"task"}}]}`,
		},
		{
			name: "unknown action is ignored",
			body: `{"events":[{"action":"deleted","resource":{"gid":"t1","resource_type":"task"}}]}`,
		},
		{
			name: "order is preserved",
			body: `{"events":[
				{"action":"added","resource":{"gid":"a","resource_type":"task"},"parent":{"gid":"inprog","resource_type":"section"}},
				{"action":"removed","resource":{"gid":"a","resource_type":"task"},"parent":{"gid":"inprog","resource_type":"section"}},
				{"action":"added","resource":{"gid":"b","resource_type":"task"},"parent":{"gid":"inprog","resource_type":"section"}}]}`,
			want: []Action{
				{Kind: EnteredTrackedSection, Task: "a", Section: "inprog"},
				{Kind: LeftTrackedSection, Task: "a", Section: "inprog"},
				{Kind: EnteredTrackedSection, Task: "b", Section: "inprog"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(mustDecode(t, tt.body), testRules)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d actions, got %+v", len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("action %d: expected %+v, got %+v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestClassifyWithPriorityField(t *testing.T) {
	rules := testRules
	rules.PriorityField = "prio"

	cleared := mustDecode(t, `{"events":[{"action":"changed","resource":{"gid":"t","resource_type":"task"},"change":{"field":"custom_fields","new_value":{"gid":"prio","resource_type":"custom_field","enum_value":null}}}]}`)
	got := Classify(cleared, rules)
	if len(got) != 1 || got[0].Kind != PriorityChanged || got[0].Priority != duedate.PriorityUnset {
		t.Fatalf("expected cleared priority to classify as unset, got %+v", got)
	}

	otherField := mustDecode(t, `{"events":[{"action":"changed","resource":{"gid":"t","resource_type":"task"},"change":{"field":"custom_fields","new_value":{"gid":"effort","resource_type":"custom_field","enum_value":{"gid":"enum-high"}}}}]}`)
	if got := Classify(otherField, rules); len(got) != 0 {
		t.Fatalf("expected other field to be ignored, got %+v", got)
	}
}

func TestClassifyWithoutTrackedSection(t *testing.T) {
	events := mustDecode(t, `{"events":[{"action":"added","resource":{"gid":"t1","resource_type":"task"},"parent":{"gid":"inprog","resource_type":"section"}}]}`)
	if got := Classify(events, Rules{}); len(got) != 0 {
		t.Fatalf("expected no actions without a tracked section, got %+v", got)
	}
}

func TestKindString(t *testing.T) {
	if EnteredTrackedSection.String() != "entered_tracked_section" || Kind(0).String() != "unknown" {
		t.Fatal("unexpected kind names")
	}
}
