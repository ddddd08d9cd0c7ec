package syncer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tallyhq/tally/internal/queue"
)

func openTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

// scriptedReplayer fails the URLs listed in fail, succeeds otherwise.
type scriptedReplayer struct {
	mu       sync.Mutex
	fail     map[string]bool
	attempts []string
}

func (r *scriptedReplayer) Replay(_ context.Context, m queue.Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, m.URL)
	if r.fail[m.URL] {
		return errors.New("service unavailable")
	}
	return nil
}

func TestDrainRemovesOnlySucceededEntries(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	for _, url := range []string{"/one", "/two", "/three"} {
		if err := q.Enqueue(ctx, &queue.Mutation{Method: "POST", URL: url, Header: http.Header{}}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	var signals []int
	replayer := &scriptedReplayer{fail: map[string]bool{"/two": true}}
	c := New(q, replayer, WithOnComplete(func(n int) { signals = append(signals, n) }))

	replayed, err := c.DrainOnce(ctx)
	if err != nil {
		t.Fatalf("DrainOnce failed: %v", err)
	}
	if replayed != 2 {
		t.Errorf("replayed = %d, want 2", replayed)
	}

	// A failed entry does not stop the pass; later entries are attempted.
	if len(replayer.attempts) != 3 {
		t.Errorf("attempted %d entries, want 3: %v", len(replayer.attempts), replayer.attempts)
	}

	left, err := q.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(left) != 1 || left[0].URL != "/two" {
		t.Fatalf("queue after drain = %+v, want only /two", left)
	}
	if left[0].Attempts != 1 {
		t.Errorf("failed entry attempts = %d, want 1", left[0].Attempts)
	}

	// "sync completed" fired exactly once.
	if len(signals) != 1 || signals[0] != 2 {
		t.Errorf("signals = %v, want [2]", signals)
	}
}

func TestDrainEmptyQueueEmitsNothing(t *testing.T) {
	q := openTestQueue(t)

	fired := false
	c := New(q, &scriptedReplayer{}, WithOnComplete(func(int) { fired = true }))

	replayed, err := c.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce failed: %v", err)
	}
	if replayed != 0 || fired {
		t.Errorf("empty drain: replayed=%d fired=%v, want 0/false", replayed, fired)
	}
}

func TestDrainAllFailuresEmitsNothing(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, &queue.Mutation{Method: "POST", URL: "/x", Header: http.Header{}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	fired := false
	c := New(q, &scriptedReplayer{fail: map[string]bool{"/x": true}}, WithOnComplete(func(int) { fired = true }))

	if _, err := c.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce failed: %v", err)
	}
	if fired {
		t.Error("sync-completed fired despite zero successes")
	}
}

// blockingReplayer parks inside Replay until released.
type blockingReplayer struct {
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (r *blockingReplayer) Replay(context.Context, queue.Mutation) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	close(r.started)
	<-r.release
	return nil
}

func TestConcurrentDrainIsCoalesced(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, &queue.Mutation{Method: "POST", URL: "/x", Header: http.Header{}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	replayer := &blockingReplayer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := New(q, replayer)

	done := make(chan int)
	go func() {
		n, _ := c.DrainOnce(ctx)
		done <- n
	}()

	<-replayer.started

	// Second drain while the first is mid-flight must not start another pass.
	n, err := c.DrainOnce(ctx)
	if err != nil {
		t.Fatalf("coalesced DrainOnce failed: %v", err)
	}
	if n != 0 {
		t.Errorf("coalesced drain replayed %d, want 0", n)
	}

	close(replayer.release)
	if n := <-done; n != 1 {
		t.Errorf("first drain replayed %d, want 1", n)
	}

	replayer.mu.Lock()
	defer replayer.mu.Unlock()
	if replayer.calls != 1 {
		t.Errorf("replayer called %d times, want 1", replayer.calls)
	}
}

func TestStalledSurfacing(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, &queue.Mutation{Method: "POST", URL: "/broken", Header: http.Header{}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	c := New(q, &scriptedReplayer{fail: map[string]bool{"/broken": true}}, WithMaxAttempts(2))

	for i := 0; i < 2; i++ {
		if _, err := c.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
	}

	stalled, err := c.Stalled(ctx)
	if err != nil {
		t.Fatalf("Stalled failed: %v", err)
	}
	if len(stalled) != 1 || stalled[0].URL != "/broken" {
		t.Errorf("stalled = %+v, want the /broken entry", stalled)
	}

	// Still queued, not dropped.
	left, _ := q.List(ctx)
	if len(left) != 1 {
		t.Errorf("stalled entry was dropped from the queue")
	}
}

func TestHTTPReplayer(t *testing.T) {
	var gotMethod, gotPath, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Client-Endpoint")
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	r := NewHTTPReplayer(srv.URL)
	m := queue.Mutation{
		Method: "POST",
		URL:    "/api/groups/abc/people",
		Header: http.Header{"X-Client-Endpoint": []string{"https://push/me"}},
		Body:   []byte(`{"name":"Ana"}`),
	}
	if err := r.Replay(context.Background(), m); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if gotMethod != "POST" || gotPath != "/api/groups/abc/people" {
		t.Errorf("request was %s %s", gotMethod, gotPath)
	}
	if gotHeader != "https://push/me" {
		t.Errorf("originating endpoint header = %q", gotHeader)
	}

	if err := r.Replay(context.Background(), queue.Mutation{Method: "POST", URL: "/fail"}); err == nil {
		t.Error("expected error for 500 response")
	}

	// Network failure is an error too.
	dead := NewHTTPReplayer("http://127.0.0.1:1")
	dead.client.Timeout = 500 * time.Millisecond
	if err := dead.Replay(context.Background(), m); err == nil {
		t.Error("expected error for unreachable service")
	}
}
