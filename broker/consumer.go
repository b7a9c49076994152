package broker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/parloq/topicrpc/contracts"
)

// subscription tracks one active consumer on the connection.
type subscription struct {
	queue  string
	tag    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe registers handler for messages delivered on queue. The
// handler runs on a dedicated delivery goroutine for this
// subscription, one message at a time, never on the caller's
// goroutine. Only one subscription per queue is allowed on a
// Connection.
func (c *Connection) Subscribe(ctx context.Context, queue string, opts contracts.ConsumeOptions, handler contracts.DeliveryHandler) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}

	if opts.Prefetch > 0 && !opts.AutoAck {
		if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
			return fmt.Errorf("broker: set qos on %s: %w", queue, err)
		}
	}

	tag := "topicrpc-" + uuid.NewString()[:8]
	deliveries, err := ch.Consume(
		queue,
		tag,
		opts.AutoAck,
		opts.Exclusive,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", queue, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		queue:  queue,
		tag:    tag,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if _, loaded := c.subs.LoadOrStore(queue, sub); loaded {
		cancel()
		ch.Cancel(tag, false)
		return fmt.Errorf("broker: already consuming from %s", queue)
	}

	go c.deliverLoop(subCtx, sub, deliveries, handler)

	c.logger.Info("subscribed", "queue", queue, "consumerTag", tag)
	return nil
}

// deliverLoop drives the handler for one subscription.
func (c *Connection) deliverLoop(ctx context.Context, sub *subscription, deliveries <-chan amqp.Delivery, handler contracts.DeliveryHandler) {
	defer func() {
		c.subs.Delete(sub.queue)
		close(sub.done)
		c.logger.Info("consumer stopped", "queue", sub.queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", sub.queue)
				return
			}
			handler(ctx, &amqpDelivery{d: d})
		}
	}
}

// Unsubscribe cancels the consumer for queue and waits for its
// in-flight delivery, if any, to finish.
func (c *Connection) Unsubscribe(queue string) error {
	value, ok := c.subs.Load(queue)
	if !ok {
		return fmt.Errorf("broker: no active consumer for %s", queue)
	}
	sub := value.(*subscription)

	// Stop the broker pushing further deliveries before winding down
	// the loop. Best effort: the channel may already be gone.
	if ch, err := c.channel(); err == nil {
		if err := ch.Cancel(sub.tag, false); err != nil {
			c.logger.Warn("cancel consumer", "queue", queue, "error", err)
		}
	}

	sub.cancel()
	<-sub.done
	return nil
}

// unsubscribeAll winds down every subscription, used by Close.
func (c *Connection) unsubscribeAll() {
	c.subs.Range(func(key, value any) bool {
		sub := value.(*subscription)
		sub.cancel()
		<-sub.done
		return true
	})
}

// amqpDelivery adapts an amqp delivery to the contracts interface.
type amqpDelivery struct {
	d amqp.Delivery
}

func (a *amqpDelivery) Body() []byte          { return a.d.Body }
func (a *amqpDelivery) RoutingKey() string    { return a.d.RoutingKey }
func (a *amqpDelivery) CorrelationID() string { return a.d.CorrelationId }
func (a *amqpDelivery) ReplyTo() string       { return a.d.ReplyTo }
func (a *amqpDelivery) ContentType() string   { return a.d.ContentType }

func (a *amqpDelivery) Acknowledge() error {
	return a.d.Ack(false)
}

func (a *amqpDelivery) Reject(requeue bool) error {
	return a.d.Nack(false, requeue)
}
