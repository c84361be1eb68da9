package redisstore

import (
	"context"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"duesync/internal/tracking"
)

// setupTestRedis creates a store backed by miniredis.
func setupTestRedis(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := New(rdb, "")
	t.Cleanup(func() { st.Close() })
	return st, mr
}

func TestOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	st, err := Open(context.Background(), "redis://"+mr.Addr(), "test:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if err := st.SaveProcessed(context.Background(), "a"); err != nil {
		t.Fatalf("save processed: %v", err)
	}
	if !mr.Exists("test:processed") {
		t.Fatal("expected prefixed processed key")
	}
}

func TestOpenInvalidURL(t *testing.T) {
	if _, err := Open(context.Background(), "not a url", ""); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestExtensionsRoundTrip(t *testing.T) {
	st, mr := setupTestRedis(t)
	ctx := context.Background()

	for _, pair := range [][2]string{{"c", "b"}, {"c", "a"}, {"d", "a"}} {
		if err := st.SaveExtension(ctx, pair[0], pair[1]); err != nil {
			t.Fatalf("save %v: %v", pair, err)
		}
	}
	if err := st.DeleteExtension(ctx, "d", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(DefaultPrefix + "ext:d") {
		t.Fatal("expected empty extension set to be removed")
	}

	snap, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := map[string][]string{"c": {"a", "b"}}
	if !reflect.DeepEqual(snap.Extensions, want) {
		t.Fatalf("extensions = %v, want %v", snap.Extensions, want)
	}
}

func TestProcessedAndAssignments(t *testing.T) {
	st, _ := setupTestRedis(t)
	ctx := context.Background()

	for _, trigger := range []string{"b", "a", "c"} {
		if err := st.SaveProcessed(ctx, trigger); err != nil {
			t.Fatalf("save processed: %v", err)
		}
	}
	if err := st.DeleteProcessed(ctx, "c"); err != nil {
		t.Fatalf("delete processed: %v", err)
	}
	if err := st.SaveAssignment(ctx, "t1", "2024-03-05"); err != nil {
		t.Fatalf("save assignment: %v", err)
	}
	if err := st.SaveAssignment(ctx, "t2", "2024-03-06"); err != nil {
		t.Fatalf("save assignment: %v", err)
	}
	if err := st.DeleteAssignment(ctx, "t2"); err != nil {
		t.Fatalf("delete assignment: %v", err)
	}

	snap, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(snap.Processed, []string{"a", "b"}) {
		t.Fatalf("processed = %v", snap.Processed)
	}
	if !reflect.DeepEqual(snap.Assignments, map[string]string{"t1": "2024-03-05"}) {
		t.Fatalf("assignments = %v", snap.Assignments)
	}
}

func TestRestoreThroughTrackingState(t *testing.T) {
	st, _ := setupTestRedis(t)
	ctx := context.Background()

	state := tracking.New(st, nil)
	state.RecordExtension("c", "a")
	state.RecordExtension("c", "b")
	state.ReleaseExtension("c", "b")
	state.MarkProcessed("a")
	state.NoteAssigned("t1", "2024-03-05")

	restored, err := tracking.Restore(ctx, st, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := restored.TriggersFor("c"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("triggers for c = %v", got)
	}
	if !restored.IsProcessed("a") {
		t.Fatal("expected a to stay processed")
	}
	if due, ok := restored.AutoDueDate("t1"); !ok || due != "2024-03-05" {
		t.Fatalf("auto due date = %q, %v", due, ok)
	}
}

func TestWebhookSecret(t *testing.T) {
	st, _ := setupTestRedis(t)
	ctx := context.Background()

	secret, err := st.WebhookSecret(ctx, "default")
	if err != nil || secret != "" {
		t.Fatalf("missing secret = %q, %v", secret, err)
	}
	if err := st.SaveWebhookSecret(ctx, "default", "s1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	secret, err = st.WebhookSecret(ctx, "default")
	if err != nil || secret != "s1" {
		t.Fatalf("secret = %q, %v", secret, err)
	}
}
