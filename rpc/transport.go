// Package rpc implements asynchronous remote procedure calls over a
// message broker: a client publishes a request onto a topic exchange
// and awaits the correlated reply, a server consumes requests and
// publishes handler results back to each request's reply-to queue.
package rpc

import (
	"context"

	"github.com/parloq/topicrpc/contracts"
)

// Transport is the broker surface the client and server depend on.
// *broker.Connection implements it; tests substitute doubles.
type Transport interface {
	DeclareExchange(name, kind string) error
	DeclareQueue(name string, opts contracts.QueueOptions) (string, error)
	Bind(queue, exchange, routingKey string) error
	Publish(ctx context.Context, exchange, routingKey string, env contracts.Envelope) error
	Subscribe(ctx context.Context, queue string, opts contracts.ConsumeOptions, handler contracts.DeliveryHandler) error
	Unsubscribe(queue string) error
	DeleteQueue(name string) error
	Close() error
}
