// Package push delivers web-push notifications to subscribed devices.
// Delivery is fire-and-forget per attempt; the only outcome callers act on
// is the permanent/transient classification of a failure.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/tallyhq/tally/internal/models"
)

// ErrEndpointGone marks a permanent delivery failure: the push service no
// longer accepts messages for this endpoint and its subscription should be
// deleted.
var ErrEndpointGone = errors.New("push endpoint gone")

// Payload is the notification body delivered to subscribers. The receiving
// device displays title/body and navigates to the referenced group on
// interaction.
type Payload struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Data  PayloadData `json:"data"`
}

// PayloadData carries the machine-readable part of a push payload.
type PayloadData struct {
	Group string `json:"groupIdentifier"`
}

// Sender delivers one encoded payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub models.Subscription, payload []byte) error
}

// WebPush sends notifications over the Web Push protocol with VAPID
// authentication.
type WebPush struct {
	subscriber   string
	vapidPublic  string
	vapidPrivate string
	client       *http.Client
}

// NewWebPush creates a sender using the given VAPID key pair. The subscriber
// is the contact URI (mailto:) push services may use to reach the operator.
func NewWebPush(subscriber, vapidPublic, vapidPrivate string) *WebPush {
	return &WebPush{
		subscriber:   subscriber,
		vapidPublic:  vapidPublic,
		vapidPrivate: vapidPrivate,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers the payload to one endpoint. A 404/410 (endpoint recycled)
// or 401/403 (key no longer accepted) response is reported as
// ErrEndpointGone; everything else failing is transient.
func (w *WebPush) Send(ctx context.Context, sub models.Subscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.subscriber,
		VAPIDPublicKey:  w.vapidPublic,
		VAPIDPrivateKey: w.vapidPrivate,
		TTL:             60,
	})
	if err != nil {
		return fmt.Errorf("push delivery to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("endpoint %s returned %d: %w", sub.Endpoint, resp.StatusCode, ErrEndpointGone)
	case resp.StatusCode >= 400:
		return fmt.Errorf("push delivery to %s: status %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}
