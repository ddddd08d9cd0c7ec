package service

import (
	"context"
	"time"

	"github.com/tallyhq/tally/internal/hub"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/push"
)

// fanoutTimeout bounds the background push fan-out for one mutation.
const fanoutTimeout = 30 * time.Second

// Notifier is the slice of the fan-out hub the services drive. Satisfied by
// *hub.Hub.
type Notifier interface {
	BroadcastLive(code string, ev hub.Event)
	FanoutPush(ctx context.Context, groupID string, payload push.Payload, excludeEndpoint string)
	FanoutPushTo(ctx context.Context, subs []models.Subscription, payload push.Payload, excludeEndpoint string)
}

// notifyGroup fans an accepted mutation out to everyone else watching the
// group: a live invalidation event immediately, and a push notification in
// the background so the write's acknowledgment is never gated on delivery.
func notifyGroup(n Notifier, groupID, code, reason, title, body, excludeEndpoint string) {
	if n == nil {
		return
	}
	n.BroadcastLive(code, hub.Event{Type: hub.EventGroupUpdated, Group: code, Reason: reason})

	payload := push.Payload{Title: title, Body: body, Data: push.PayloadData{Group: code}}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
		defer cancel()
		n.FanoutPush(ctx, groupID, payload, excludeEndpoint)
	}()
}

// notifySubscriptions is notifyGroup for a pre-listed subscription set, used
// when the group no longer exists by delivery time. The live event is a
// deletion, not an update: viewers must drop the document, not re-fetch it.
func notifySubscriptions(n Notifier, subs []models.Subscription, code, reason, title, body, excludeEndpoint string) {
	if n == nil {
		return
	}
	n.BroadcastLive(code, hub.Event{Type: hub.EventGroupDeleted, Group: code, Reason: reason})

	payload := push.Payload{Title: title, Body: body, Data: push.PayloadData{Group: code}}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
		defer cancel()
		n.FanoutPushTo(ctx, subs, payload, excludeEndpoint)
	}()
}
