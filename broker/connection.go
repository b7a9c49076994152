// Package broker wraps a single AMQP connection and channel with the
// declare/bind/publish/subscribe primitives the RPC components build
// on. A Connection is owned exclusively by the component that created
// it; failures beyond transient connection loss are surfaced to the
// caller, never retried here.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/parloq/topicrpc/config"
	"github.com/parloq/topicrpc/contracts"
)

// Connection manages one logical broker connection plus the channel
// all of its operations run on. A Connection must not be used after
// Close; a channel must not be used after its connection closes.
type Connection struct {
	cfg         config.Config
	logger      *slog.Logger
	dialTimeout time.Duration

	mu          sync.Mutex
	conn        *amqp.Connection
	ch          *amqp.Channel
	connected   bool
	notifyClose chan *amqp.Error

	subs sync.Map // queue -> *subscription
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithDialTimeout bounds the broker handshake.
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.dialTimeout = timeout
	}
}

// NewConnection creates an unconnected Connection for the endpoint in
// cfg.
func NewConnection(cfg config.Config, options ...ConnectionOption) *Connection {
	c := &Connection{
		cfg:         cfg,
		logger:      slog.Default(),
		dialTimeout: 30 * time.Second,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Connect opens the connection and its channel. It fails with
// ErrAlreadyConnected while the connection is open, and with a
// ConnectionError on authentication failure, network unreachability,
// or handshake failure.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return contracts.ErrAlreadyConnected
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	type dialResult struct {
		conn *amqp.Connection
		err  error
	}
	resChan := make(chan dialResult, 1)

	go func() {
		conn, err := amqp.Dial(c.cfg.URL())
		resChan <- dialResult{conn: conn, err: err}
	}()

	select {
	case res := <-resChan:
		if res.err != nil {
			return &contracts.ConnectionError{
				Op:       "connect",
				Endpoint: c.cfg.Redacted(),
				Err:      res.err,
			}
		}

		conn := res.conn
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return &contracts.ConnectionError{
				Op:       "open channel",
				Endpoint: c.cfg.Redacted(),
				Err:      err,
			}
		}

		c.conn = conn
		c.ch = ch
		c.connected = true
		c.notifyClose = make(chan *amqp.Error, 1)
		c.conn.NotifyClose(c.notifyClose)
		go c.watchClose(c.notifyClose)

		c.logger.Info("connected to broker", "endpoint", c.cfg.Redacted())
		return nil

	case <-dialCtx.Done():
		// The dial goroutine may still win after the deadline; close
		// its connection instead of leaking it.
		go func() {
			if res := <-resChan; res.conn != nil {
				res.conn.Close()
			}
		}()
		return &contracts.ConnectionError{
			Op:       "connect",
			Endpoint: c.cfg.Redacted(),
			Err:      dialCtx.Err(),
		}
	}
}

// watchClose flips the connection state when the broker initiates a
// close, so later operations fail with ErrNotConnected instead of
// hitting a dead channel. Reconnecting is the owner's decision.
func (c *Connection) watchClose(notify chan *amqp.Error) {
	err, ok := <-notify
	if !ok {
		// Clean local Close.
		return
	}

	c.mu.Lock()
	c.connected = false
	c.conn = nil
	c.ch = nil
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("broker closed connection", "error", err)
	}
}

// IsConnected reports whether the connection is open.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// channel returns the operations channel, or ErrNotConnected.
func (c *Connection) channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.ch == nil {
		return nil, contracts.ErrNotConnected
	}
	return c.ch, nil
}

// Publish sends an envelope to the exchange under routingKey. The
// envelope's correlation ID and reply-to travel as broker message
// properties. Publish does not wait for a delivery confirmation; from
// the caller's perspective delivery is at-most-once.
func (c *Connection) Publish(ctx context.Context, exchange, routingKey string, env contracts.Envelope) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}

	contentType := env.ContentType
	if contentType == "" {
		contentType = contracts.ContentTypeJSON
	}

	err = ch.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   contentType,
			CorrelationId: env.CorrelationID,
			ReplyTo:       env.ReplyTo,
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
			Body:          env.Payload,
		},
	)
	if err != nil {
		return &contracts.ConnectionError{
			Op:       "publish " + exchange + "/" + routingKey,
			Endpoint: c.cfg.Redacted(),
			Err:      err,
		}
	}
	return nil
}

// Close stops all subscriptions, then closes the channel and the
// connection in that order. Secondary errors hit while tearing down an
// already failing stack are logged and swallowed; the first error is
// returned.
func (c *Connection) Close() error {
	c.unsubscribeAll()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false

	var firstErr error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			c.logger.Warn("closing channel", "error", err)
			firstErr = err
		}
		c.ch = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("closing connection", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		c.conn = nil
	}

	c.logger.Info("disconnected from broker", "endpoint", c.cfg.Redacted())
	return firstErr
}
