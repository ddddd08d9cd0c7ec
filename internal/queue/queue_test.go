package queue

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func openTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.db")
	q, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q, path
}

func TestEnqueueListRemove(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	first := &Mutation{
		Method: "POST",
		URL:    "/api/groups/abc/expenses",
		Header: http.Header{"X-Client-Endpoint": []string{"https://push/me"}},
		Body:   []byte(`{"description":"Dinner","amount":30}`),
	}
	if err := q.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if first.Key == 0 {
		t.Fatal("expected key to be assigned on enqueue")
	}

	got, err := q.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got[0].Key != first.Key || got[0].Method != "POST" || got[0].URL != first.URL {
		t.Errorf("entry = %+v, want %+v", got[0], first)
	}
	if got[0].Header.Get("X-Client-Endpoint") != "https://push/me" {
		t.Errorf("header lost in round trip: %v", got[0].Header)
	}
	if string(got[0].Body) != string(first.Body) {
		t.Errorf("body = %s, want %s", got[0].Body, first.Body)
	}

	second := &Mutation{Method: "DELETE", URL: "/api/groups/abc/expenses/1", Header: http.Header{}}
	if err := q.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	got, _ = q.List(ctx)
	if len(got) != 2 || got[0].Key != first.Key || got[1].Key != second.Key {
		t.Fatalf("FIFO order broken: %+v", got)
	}

	if err := q.Remove(ctx, first.Key); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	got, _ = q.List(ctx)
	if len(got) != 1 || got[0].Key != second.Key {
		t.Fatalf("after remove: %+v", got)
	}

	// Removing a missing key is a no-op, not an error.
	if err := q.Remove(ctx, first.Key); err != nil {
		t.Errorf("second Remove errored: %v", err)
	}
	if err := q.Remove(ctx, 9999); err != nil {
		t.Errorf("Remove of unknown key errored: %v", err)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")
	ctx := context.Background()

	q, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	m := &Mutation{Method: "PUT", URL: "/api/groups/abc", Header: http.Header{}, Body: []byte(`{"name":"x"}`)}
	if err := q.Enqueue(ctx, m); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	q.Close()

	q2, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen queue: %v", err)
	}
	defer q2.Close()

	got, err := q2.List(ctx)
	if err != nil {
		t.Fatalf("List after reopen failed: %v", err)
	}
	if len(got) != 1 || got[0].URL != "/api/groups/abc" {
		t.Fatalf("entry lost across reopen: %+v", got)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("queue file missing: %v", err)
	}
}

func TestNoDeduplication(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	m := Mutation{Method: "POST", URL: "/api/groups/abc/people", Header: http.Header{}, Body: []byte(`{"name":"Ana"}`)}
	a, b := m, m
	if err := q.Enqueue(ctx, &a); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, &b); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	got, _ := q.List(ctx)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2 (no dedup)", len(got))
	}
	if got[0].Key == got[1].Key {
		t.Error("duplicate entries share a key")
	}
}

func TestBumpAndStalled(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	m := &Mutation{Method: "POST", URL: "/x", Header: http.Header{}}
	if err := q.Enqueue(ctx, m); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := q.Bump(ctx, m.Key); err != nil {
			t.Fatalf("Bump failed: %v", err)
		}
	}

	got, _ := q.List(ctx)
	if got[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", got[0].Attempts)
	}

	stalled, err := q.Stalled(ctx, 3)
	if err != nil {
		t.Fatalf("Stalled failed: %v", err)
	}
	if len(stalled) != 1 {
		t.Errorf("got %d stalled entries, want 1", len(stalled))
	}
	stalled, _ = q.Stalled(ctx, 4)
	if len(stalled) != 0 {
		t.Errorf("got %d stalled entries below cap, want 0", len(stalled))
	}
}
