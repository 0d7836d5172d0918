package events

import "time"

// EntityResolveStart is emitted before a federation _entities batch is
// resolved.
type EntityResolveStart struct {
	TypeName string
	Count    int
}

// EntityResolveFinish is emitted after a federation _entities batch
// resolves, successfully or not.
type EntityResolveFinish struct {
	TypeName string
	Count    int
	Err      error
	Duration time.Duration
}

// SubscriptionStart is emitted when a graphql-transport-ws subscribe
// message opens a new streaming subscription.
type SubscriptionStart struct {
	Field string
}

// SubscriptionFinish is emitted when a subscription ends, by completion,
// client-initiated "complete", or upstream failure.
type SubscriptionFinish struct {
	Field    string
	Err      error
	Duration time.Duration
}
