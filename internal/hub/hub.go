// Package hub fans accepted mutations out to everyone watching a group:
// a lightweight invalidation event to live-viewer channels, and a rich push
// notification to durable subscriptions. Fan-out failures never propagate
// to the write that triggered them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/push"
)

// defaultDeliveryLimit caps concurrent push deliveries per fan-out call.
const defaultDeliveryLimit = 8

var (
	liveBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_live_broadcasts_total",
		Help: "Live invalidation events broadcast to viewer channels.",
	})
	pushDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_push_deliveries_total",
		Help: "Push delivery attempts by outcome.",
	}, []string{"outcome"})
)

// Event is the invalidation signal sent to live viewers. The reason is a
// free-text hint; receivers act on the type (re-fetch on update, drop on
// deletion) rather than trusting the event as data.
type Event struct {
	Type   string `json:"type"`
	Group  string `json:"groupIdentifier"`
	Reason string `json:"reason"`
}

// Server-to-client live event types. An update tells viewers to re-fetch the
// group; a deletion tells them to drop it, since a re-fetch can only 404.
const (
	EventGroupUpdated = "GROUP_UPDATED"
	EventGroupDeleted = "GROUP_DELETED"
)

// LiveChannel is one connected viewer's send side. Send may fail at any
// time; a failing channel is dropped from the registry and never retried.
type LiveChannel interface {
	Send(Event) error
}

// SubscriptionStore is the slice of storage the hub needs for push fan-out.
type SubscriptionStore interface {
	AddSubscription(ctx context.Context, code string, sub *models.Subscription) error
	ListSubscriptions(ctx context.Context, groupID string) ([]models.Subscription, error)
	DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error
}

// Hub is the process-wide fan-out registry. It is created at service start;
// live channels come and go with their connections, push subscriptions live
// in the store.
type Hub struct {
	store  SubscriptionStore
	sender push.Sender // nil disables push fan-out
	limit  int

	mu      sync.Mutex
	viewers map[string]map[LiveChannel]struct{} // group code -> live channels
}

// New creates a Hub over the given subscription store and push sender.
// A nil sender disables push delivery (e.g., VAPID keys not configured).
func New(store SubscriptionStore, sender push.Sender) *Hub {
	return &Hub{
		store:   store,
		sender:  sender,
		limit:   defaultDeliveryLimit,
		viewers: make(map[string]map[LiveChannel]struct{}),
	}
}

// SubscribeLiveViewer registers a channel for a group's live events.
// Subscribing the same channel twice has no extra effect.
func (h *Hub) SubscribeLiveViewer(code string, ch LiveChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.viewers[code]
	if !ok {
		set = make(map[LiveChannel]struct{})
		h.viewers[code] = set
	}
	set[ch] = struct{}{}
}

// UnsubscribeLiveViewer removes a channel from a group's live set.
// Unknown channels are ignored.
func (h *Hub) UnsubscribeLiveViewer(code string, ch LiveChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.viewers[code]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(h.viewers, code)
	}
}

// BroadcastLive sends an event to every channel currently subscribed to the
// group. Recipients are snapshotted up front, so channels added or removed
// mid-broadcast do not affect this one. Best-effort: a failing channel is
// unsubscribed and the error dropped.
func (h *Hub) BroadcastLive(code string, ev Event) {
	h.mu.Lock()
	set := h.viewers[code]
	channels := make([]LiveChannel, 0, len(set))
	for ch := range set {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	for _, ch := range channels {
		if err := ch.Send(ev); err != nil {
			slog.Debug("Dropping failed live channel", "group", code, "error", err)
			h.UnsubscribeLiveViewer(code, ch)
			continue
		}
		liveBroadcasts.Inc()
	}
}

// RegisterSubscription appends a durable push subscription for the group
// addressed by code. No uniqueness is enforced.
func (h *Hub) RegisterSubscription(ctx context.Context, code string, sub *models.Subscription) error {
	return h.store.AddSubscription(ctx, code, sub)
}

// FanoutPush delivers the payload to every subscription of the group except
// the one matching excludeEndpoint (the originating device; empty means no
// filtering). Deliveries run concurrently, capped, and the call returns only
// once every attempt is accounted for. Permanently failed endpoints are
// deleted; transient failures are logged and dropped. FanoutPush never
// returns an error to its caller.
func (h *Hub) FanoutPush(ctx context.Context, groupID string, payload push.Payload, excludeEndpoint string) {
	if h.sender == nil {
		return
	}

	subs, err := h.store.ListSubscriptions(ctx, groupID)
	if err != nil {
		slog.Error("Push fan-out failed to list subscriptions", "group_id", groupID, "error", err)
		return
	}
	h.FanoutPushTo(ctx, subs, payload, excludeEndpoint)
}

// FanoutPushTo delivers to an explicit subscription list. Used when the rows
// no longer exist by delivery time, e.g. notifying about a group deletion
// after the cascade removed its subscriptions.
func (h *Hub) FanoutPushTo(ctx context.Context, subs []models.Subscription, payload push.Payload, excludeEndpoint string) {
	if h.sender == nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Push fan-out failed to encode payload", "error", err)
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.limit)
	for _, sub := range subs {
		if excludeEndpoint != "" && sub.Endpoint == excludeEndpoint {
			continue
		}
		g.Go(func() error {
			err := h.sender.Send(ctx, sub, body)
			switch {
			case err == nil:
				pushDeliveries.WithLabelValues("ok").Inc()
			case errors.Is(err, push.ErrEndpointGone):
				pushDeliveries.WithLabelValues("gone").Inc()
				slog.Info("Removing expired push subscription", "endpoint", sub.Endpoint)
				if delErr := h.store.DeleteSubscriptionByEndpoint(ctx, sub.Endpoint); delErr != nil {
					slog.Error("Failed to remove expired subscription", "endpoint", sub.Endpoint, "error", delErr)
				}
			default:
				pushDeliveries.WithLabelValues("error").Inc()
				slog.Warn("Push delivery failed", "endpoint", sub.Endpoint, "error", err)
			}
			// Individual failures never fail the fan-out.
			return nil
		})
	}
	g.Wait()
}
