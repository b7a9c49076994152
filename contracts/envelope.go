package contracts

import "context"

// ContentTypeJSON is the content type carried by every envelope this
// module produces. Payloads are UTF-8 encoded JSON objects; the
// envelope treats them as opaque bytes.
const ContentTypeJSON = "application/json"

// Envelope is the wire contract between publishers and consumers.
// Routing metadata travels in broker-native message properties, never
// inside the payload.
type Envelope struct {
	// Payload is the JSON-encoded application data.
	Payload []byte

	// RoutingKey selects the RPC method on the topic exchange.
	RoutingKey string

	// CorrelationID matches a reply to the request that produced it.
	// Present on RPC requests and replies, empty for fire-and-forget.
	CorrelationID string

	// ReplyTo is the return address a request carries when it expects
	// a reply, typically a broker-named temporary queue.
	ReplyTo string

	// ContentType of the payload. Defaults to ContentTypeJSON when
	// empty at publish time.
	ContentType string
}

// NewEnvelope builds a fire-and-forget envelope for the given routing
// key and JSON payload.
func NewEnvelope(routingKey string, payload []byte) Envelope {
	return Envelope{
		Payload:     payload,
		RoutingKey:  routingKey,
		ContentType: ContentTypeJSON,
	}
}

// QueueOptions controls queue declaration.
type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
}

// ConsumeOptions controls a subscription.
type ConsumeOptions struct {
	// AutoAck acknowledges deliveries at the broker before the handler
	// runs. When false the handler owns acknowledgment.
	AutoAck bool

	// Exclusive requests sole consumption of the queue.
	Exclusive bool

	// Prefetch limits unacknowledged deliveries on the channel.
	// Zero means no limit. Ignored when AutoAck is set.
	Prefetch int
}

// Delivery is a single message handed to a subscription handler.
type Delivery interface {
	Body() []byte
	RoutingKey() string
	CorrelationID() string
	ReplyTo() string
	ContentType() string

	// Acknowledge marks the delivery as processed. No-op under AutoAck.
	Acknowledge() error

	// Reject refuses the delivery, optionally requeueing it.
	Reject(requeue bool) error
}

// DeliveryHandler is invoked once per delivered message. It runs on
// the subscription's delivery goroutine, never on the subscriber's
// goroutine, so it must not assume exclusive access to caller state.
type DeliveryHandler func(ctx context.Context, delivery Delivery)
