// Package syncer drains the local mutation queue against the authoritative
// service once connectivity returns. A drain replays entries in FIFO order,
// removes each one only on confirmed success, and leaves failures in place
// for the next trigger.
package syncer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tallyhq/tally/internal/queue"
)

// defaultMaxAttempts is the replay cap after which an entry is reported as
// stalled. Stalled entries stay queued; they are never silently dropped.
const defaultMaxAttempts = 25

var replays = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tally_sync_replays_total",
	Help: "Queued mutation replay attempts by outcome.",
}, []string{"outcome"})

// Replayer attempts one queued mutation against the authoritative service.
// Any returned error, network or server, leaves the entry queued.
type Replayer interface {
	Replay(ctx context.Context, m queue.Mutation) error
}

// HTTPReplayer replays mutations as plain HTTP requests. Entries are opaque:
// method, URL, headers and body are reproduced verbatim and only the response
// status is interpreted.
type HTTPReplayer struct {
	base   string
	client *http.Client
}

// NewHTTPReplayer creates a replayer that resolves relative entry URLs
// against base. Every request carries a bounded timeout.
func NewHTTPReplayer(base string) *HTTPReplayer {
	return &HTTPReplayer{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Replay sends the mutation and fails on any non-2xx response.
func (r *HTTPReplayer) Replay(ctx context.Context, m queue.Mutation) error {
	url := m.URL
	if strings.HasPrefix(url, "/") {
		url = r.base + url
	}
	req, err := http.NewRequestWithContext(ctx, m.Method, url, bytes.NewReader(m.Body))
	if err != nil {
		return fmt.Errorf("failed to build replay request: %w", err)
	}
	for k, vs := range m.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("replay %s %s: %w", m.Method, m.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("replay %s %s: status %d", m.Method, m.URL, resp.StatusCode)
	}
	return nil
}

// Coordinator runs the per-device drain state machine: Idle until triggered,
// Draining for one pass over the queue snapshot, then Idle again. Triggers
// arriving mid-drain are coalesced into at most one follow-up pass.
type Coordinator struct {
	queue       *queue.Queue
	replayer    Replayer
	maxAttempts int
	onComplete  func(replayed int)

	trigger chan struct{}

	mu       sync.Mutex
	draining bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxAttempts overrides the stalled-entry attempt cap.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) { c.maxAttempts = n }
}

// WithOnComplete registers the observer called after a pass in which at
// least one entry was replayed successfully (e.g., to refresh the UI).
func WithOnComplete(f func(replayed int)) Option {
	return func(c *Coordinator) { c.onComplete = f }
}

// New creates a Coordinator over the queue and replayer.
func New(q *queue.Queue, r Replayer, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:       q,
		replayer:    r,
		maxAttempts: defaultMaxAttempts,
		trigger:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger requests a drain pass. Non-blocking; triggers fired while a pass
// is pending or running collapse into one.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run processes triggers until the context is cancelled. Call it from a
// single goroutine; periodic or connectivity-regained triggers come in via
// Trigger.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
			if _, err := c.DrainOnce(ctx); err != nil {
				slog.Error("Drain pass failed", "error", err)
			}
		}
	}
}

// DrainOnce performs a single drain pass over the current queue snapshot and
// returns how many entries were replayed successfully. A failed entry is
// skipped but subsequent entries are still attempted. If a drain is already
// in progress the call returns immediately with zero.
func (c *Coordinator) DrainOnce(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return 0, nil
	}
	c.draining = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.draining = false
		c.mu.Unlock()
	}()

	snapshot, err := c.queue.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to snapshot queue: %w", err)
	}
	if len(snapshot) == 0 {
		return 0, nil
	}

	slog.Info("Draining mutation queue", "pending", len(snapshot))

	replayed := 0
	for _, m := range snapshot {
		if err := c.replayer.Replay(ctx, m); err != nil {
			replays.WithLabelValues("error").Inc()
			slog.Warn("Queued mutation replay failed",
				"key", m.Key,
				"method", m.Method,
				"url", m.URL,
				"attempts", m.Attempts+1,
				"error", err,
			)
			if bumpErr := c.queue.Bump(ctx, m.Key); bumpErr != nil {
				slog.Error("Failed to record replay attempt", "key", m.Key, "error", bumpErr)
			}
			continue
		}
		replays.WithLabelValues("ok").Inc()
		if err := c.queue.Remove(ctx, m.Key); err != nil {
			return replayed, fmt.Errorf("failed to remove replayed entry %d: %w", m.Key, err)
		}
		replayed++
	}

	if replayed > 0 {
		slog.Info("Sync completed", "replayed", replayed, "failed", len(snapshot)-replayed)
		if c.onComplete != nil {
			c.onComplete(replayed)
		}
	}
	return replayed, nil
}

// Stalled returns queued entries whose replay attempts have reached the cap,
// so a caller can surface a permanent-failure state to the user.
func (c *Coordinator) Stalled(ctx context.Context) ([]queue.Mutation, error) {
	return c.queue.Stalled(ctx, c.maxAttempts)
}
