package models

// SubscriptionKeys holds the client key material required to encrypt a push
// message for one subscription, as handed out by the browser's PushManager.
type SubscriptionKeys struct {
	// P256dh is the client's public ECDH key, base64url encoded.
	P256dh string `json:"p256dh"`

	// Auth is the client's auth secret, base64url encoded.
	Auth string `json:"auth"`
}

// Subscription represents a durable push-delivery endpoint registered for a
// group. Duplicate endpoints per group are possible and harmless beyond
// redundant delivery; a subscription is removed automatically once delivery
// reports the endpoint as permanently gone.
type Subscription struct {
	// ID is the unique identifier for the subscription (UUID format).
	ID string `json:"id"`

	// GroupID is the group this subscription is scoped to.
	GroupID string `json:"group_id"`

	// Endpoint is the opaque push-service URL for this device. It also
	// identifies the originating device for fan-out exclusion.
	Endpoint string `json:"endpoint"`

	// Keys is the encryption material for this endpoint.
	Keys SubscriptionKeys `json:"keys"`

	// CreatedAt is the Unix timestamp when the subscription was registered.
	CreatedAt int64 `json:"created_at"`
}
