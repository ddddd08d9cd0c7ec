// Package client is the device side of the sync protocol: an offline-first
// API client that writes through to the service, queues mutations while it
// is unreachable, and keeps an optimistic view cache reconciled against
// authoritative fetches.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/queue"
)

// Status reports how a write was accepted.
type Status int

const (
	// StatusApplied means the service confirmed the write.
	StatusApplied Status = iota
	// StatusQueued means the service was unreachable; the mutation is
	// persisted locally and will be replayed. Callers should show a
	// pending/offline indicator, not success or failure.
	StatusQueued
)

// ErrRejected marks a definitive service-side rejection (validation,
// not-found, conflict). Rejected writes are never queued or retried.
var ErrRejected = errors.New("rejected by service")

// Client talks to the authoritative service for one device.
type Client struct {
	base     string
	http     *http.Client
	queue    *queue.Queue
	cache    *ViewCache
	endpoint string // this device's push endpoint, for fan-out exclusion
}

// Option configures a Client.
type Option func(*Client)

// WithPushEndpoint sets the device's push endpoint, sent as
// X-Client-Endpoint on every write so the server excludes this device from
// its own push fan-out.
func WithPushEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient overrides the underlying HTTP client (tests, custom
// timeouts).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client against the service base URL, backed by the given
// durable mutation queue.
func New(base string, q *queue.Queue, opts ...Option) *Client {
	c := &Client{
		base:  strings.TrimRight(base, "/"),
		http:  &http.Client{Timeout: 10 * time.Second},
		queue: q,
		cache: NewViewCache(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cache exposes the view cache for rendering.
func (c *Client) Cache() *ViewCache {
	return c.cache
}

// FetchGroup performs an authoritative re-fetch of a group document and
// stores it in the cache unconditionally; server state always wins over any
// concurrent optimistic state.
func (c *Client) FetchGroup(ctx context.Context, code string) (*models.Group, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/groups/"+code, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch group %s: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch group %s: status %d: %w", code, resp.StatusCode, ErrRejected)
	}

	var group models.Group
	if err := json.NewDecoder(resp.Body).Decode(&group); err != nil {
		return nil, fmt.Errorf("fetch group %s: %w", code, err)
	}
	c.cache.StoreAuthoritative(code, &group)
	return &group, nil
}

// OnInvalidation handles a live event or push notification for a group:
// mark the document reconciling and re-fetch it. Live events carry only a
// reason, never data, so the fetch is the reconciliation.
func (c *Client) OnInvalidation(ctx context.Context, code string) error {
	c.cache.MarkReconciling(code)
	_, err := c.FetchGroup(ctx, code)
	return err
}

// OnRemoval handles a deletion event for a group. The document is dropped
// from the cache; there is nothing left to re-fetch.
func (c *Client) OnRemoval(code string) {
	c.cache.Drop(code)
}

// Mutate performs an optimistic write-through. The optimistic edit (may be
// nil) is applied to the cached document first; then the request is sent.
//
//   - Confirmed by the service: the optimistic state is kept and confirmed.
//   - Service unreachable: the mutation is enqueued durably and StatusQueued
//     returned; the optimistic state stays visible until sync completes.
//   - Definitively rejected: the pre-mutation snapshot is restored and the
//     rejection returned wrapping ErrRejected. Rejections are never queued.
func (c *Client) Mutate(ctx context.Context, code, method, path string, body any, optimistic func(*models.Group)) (Status, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return StatusApplied, fmt.Errorf("failed to encode body: %w", err)
		}
	}

	if optimistic != nil {
		c.cache.ApplyOptimistic(code, optimistic)
	}

	header := http.Header{}
	if body != nil {
		header.Set("Content-Type", "application/json")
	}
	if c.endpoint != "" {
		header.Set("X-Client-Endpoint", c.endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		c.cache.RevertWrite(code)
		return StatusApplied, err
	}
	req.Header = header.Clone()

	resp, err := c.http.Do(req)
	if err != nil {
		// Transient connectivity failure: the only class that queues.
		if qErr := c.queue.Enqueue(ctx, &queue.Mutation{
			Method: method,
			URL:    path,
			Header: header,
			Body:   payload,
		}); qErr != nil {
			c.cache.RevertWrite(code)
			return StatusApplied, fmt.Errorf("failed to queue mutation: %w", qErr)
		}
		return StatusQueued, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		c.cache.ConfirmWrite(code)
		return StatusApplied, nil
	}

	// Definitive rejection: restore the pre-mutation snapshot.
	c.cache.RevertWrite(code)
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return StatusApplied, fmt.Errorf("%s %s: status %d: %s: %w",
		method, path, resp.StatusCode, strings.TrimSpace(string(msg)), ErrRejected)
}
