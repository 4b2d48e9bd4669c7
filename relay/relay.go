package relay

import (
	"context"

	"github.com/jonwraymond/resaccess/eventstore"
)

// Relay delivers one event to an external system.
type Relay interface {
	Deliver(ctx context.Context, e eventstore.Event) error
	Transport() eventstore.Transport
	Close() error
}

// Attach subscribes r to events matching pred. The subscription records the
// relay's transport.
func Attach(router *eventstore.Router, r Relay, pred eventstore.Predicate, opts ...eventstore.SubscribeOption) *eventstore.Subscription {
	opts = append([]eventstore.SubscribeOption{eventstore.WithTransport(r.Transport())}, opts...)
	return router.Subscribe(pred, r.Deliver, opts...)
}
