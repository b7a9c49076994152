package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parloq/topicrpc/contracts"
)

// DefaultCallTimeout applies when Call receives a non-positive
// timeout. A deadline is always enforced; a call never blocks
// indefinitely.
const DefaultCallTimeout = 30 * time.Second

// Client issues RPC requests over a topic exchange and awaits
// correlated replies on its own exclusive, auto-deleting reply queue.
// One reply queue serves all calls made through the instance, so any
// number of calls may be outstanding concurrently.
type Client struct {
	transport Transport
	exchange  string

	replyQueue string
	pending    *pendingCalls
	logger     *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient declares the client's reply queue on transport and starts
// consuming it. The transport must already be connected; the client
// takes ownership of it and closes it in Close.
func NewClient(transport Transport, exchange string, options ...ClientOption) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("rpc: transport cannot be nil")
	}
	if exchange == "" {
		return nil, fmt.Errorf("rpc: exchange cannot be empty")
	}

	c := &Client{
		transport: transport,
		exchange:  exchange,
		pending:   newPendingCalls(),
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	// Broker-named, exclusive to this client, reclaimed by the broker
	// if the channel disappears. Close still deletes it explicitly.
	queue, err := transport.DeclareQueue("", contracts.QueueOptions{
		Exclusive:  true,
		AutoDelete: true,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: declare reply queue: %w", err)
	}
	c.replyQueue = queue

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	err = transport.Subscribe(ctx, queue,
		contracts.ConsumeOptions{AutoAck: true, Exclusive: true},
		c.handleReply,
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("rpc: subscribe to reply queue %s: %w", queue, err)
	}

	c.logger.Info("rpc client ready", "replyQueue", queue, "exchange", exchange)
	return c, nil
}

// ReplyQueue returns the broker-assigned reply queue name.
func (c *Client) ReplyQueue() string {
	return c.replyQueue
}

// Outstanding returns the number of calls awaiting replies.
func (c *Client) Outstanding() int {
	return c.pending.outstanding()
}

// Call publishes payload under routingKey and blocks until the
// correlated reply arrives, the timeout elapses (ErrTimeout), ctx is
// cancelled, or the client closes (ErrClientClosed). A non-positive
// timeout means DefaultCallTimeout. Call is safe for concurrent use;
// each in-flight call completes independently.
func (c *Client) Call(ctx context.Context, routingKey string, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	// uuid collisions are practically impossible, but the pending map
	// is still the authority on uniqueness among outstanding calls.
	var correlationID string
	var replyCh chan []byte
	for {
		correlationID = uuid.NewString()
		ch, err := c.pending.add(correlationID)
		if err == errDuplicateCorrelationID {
			continue
		}
		if err != nil {
			return nil, err
		}
		replyCh = ch
		break
	}

	env := contracts.Envelope{
		Payload:       payload,
		RoutingKey:    routingKey,
		CorrelationID: correlationID,
		ReplyTo:       c.replyQueue,
		ContentType:   contracts.ContentTypeJSON,
	}

	if err := c.transport.Publish(ctx, c.exchange, routingKey, env); err != nil {
		c.pending.remove(correlationID)
		return nil, fmt.Errorf("rpc: publish request on %s: %w", routingKey, err)
	}

	c.logger.Debug("request published",
		"routingKey", routingKey,
		"correlationId", correlationID,
	)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil

	case <-timer.C:
		if !c.pending.remove(correlationID) {
			return c.settleLostRace(replyCh)
		}
		c.logger.Warn("call timed out",
			"routingKey", routingKey,
			"correlationId", correlationID,
			"timeout", timeout,
		)
		return nil, fmt.Errorf("%w after %v on %s", contracts.ErrTimeout, timeout, routingKey)

	case <-ctx.Done():
		if !c.pending.remove(correlationID) {
			return c.settleLostRace(replyCh)
		}
		return nil, ctx.Err()

	case <-c.done:
		return nil, contracts.ErrClientClosed
	}
}

// settleLostRace finishes a call whose pending entry was removed by
// someone else before its timeout or cancellation fired. That someone
// is either resolve, in which case the reply sits in the buffered
// channel, or closeAll, in which case no reply is coming and the done
// channel is (about to be) closed. A bare receive on replyCh would
// hang forever in the second case.
func (c *Client) settleLostRace(replyCh chan []byte) ([]byte, error) {
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-c.done:
		// closeAll removed the entry; drain a reply that may still
		// have won a three-way race with resolve.
		select {
		case reply := <-replyCh:
			return reply, nil
		default:
			return nil, contracts.ErrClientClosed
		}
	}
}

// handleReply runs on the reply queue's delivery goroutine. It only
// touches the pending map, so it can never block behind a waiting
// caller; replies for other outstanding calls keep flowing while any
// caller sleeps in Call.
func (c *Client) handleReply(ctx context.Context, d contracts.Delivery) {
	correlationID := d.CorrelationID()
	if correlationID == "" {
		c.logger.Warn("discarding reply without correlation id",
			"replyQueue", c.replyQueue,
		)
		return
	}

	if !c.pending.resolve(correlationID, d.Body()) {
		// Resolved, timed out or never ours. Late replies must not
		// match a new call; correlation IDs are never reused while a
		// call is outstanding.
		c.logger.Warn("discarding reply with no pending call",
			"correlationId", correlationID,
		)
	}
}

// Close fails every pending call immediately with ErrClientClosed,
// stops the reply consumer, deletes the reply queue (best effort; the
// broker reclaims exclusive queues anyway) and closes the transport.
// Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		abandoned := c.pending.closeAll()
		close(c.done)
		if abandoned > 0 {
			c.logger.Info("failing pending calls on close", "count", abandoned)
		}

		if err := c.transport.Unsubscribe(c.replyQueue); err != nil {
			c.logger.Warn("stopping reply consumer", "error", err)
		}
		c.cancel()

		if err := c.transport.DeleteQueue(c.replyQueue); err != nil {
			c.logger.Warn("deleting reply queue",
				"queue", c.replyQueue,
				"error", err,
			)
		}

		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}
