package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/parloq/topicrpc/contracts"
)

// Server consumes requests from a well-known queue bound to one or
// more routing keys on the topic exchange and publishes each handler's
// result directly to the request's reply-to queue, carrying the
// request's correlation ID unchanged.
//
// Handler failures are converted into an error reply of the form
// {"error": "..."} rather than dropped, so callers fail fast instead
// of burning their timeout. Requests without a reply-to address are
// logged and dropped; no reply is possible for them.
type Server struct {
	transport    Transport
	exchange     string
	exchangeKind string
	queue        string

	handlers map[string]Handler
	limiter  *rate.Limiter
	stats    *Stats
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRateLimit sheds inbound requests beyond rps (with the given
// burst) as error replies instead of queueing them behind the handler.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithExchangeKind overrides the exchange kind declared at Start.
// Client and server must agree on it. Defaults to "topic".
func WithExchangeKind(kind string) ServerOption {
	return func(s *Server) {
		s.exchangeKind = kind
	}
}

// NewServer creates a server consuming from queue. The transport must
// already be connected; the server takes ownership of it and closes it
// in Stop.
func NewServer(transport Transport, exchange, queue string, options ...ServerOption) (*Server, error) {
	if transport == nil {
		return nil, fmt.Errorf("rpc: transport cannot be nil")
	}
	if exchange == "" || queue == "" {
		return nil, fmt.Errorf("rpc: exchange and queue cannot be empty")
	}

	s := &Server{
		transport:    transport,
		exchange:     exchange,
		exchangeKind: "topic",
		queue:        queue,
		handlers:     make(map[string]Handler),
		stats:        newStats(),
		logger:       slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Handle registers handler for a routing key. Registration is only
// allowed before Start; the registry is immutable while the server is
// listening.
func (s *Server) Handle(routingKey string, handler Handler) error {
	if routingKey == "" {
		return fmt.Errorf("rpc: routing key cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("rpc: handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return contracts.ErrServerRunning
	}
	if _, exists := s.handlers[routingKey]; exists {
		return fmt.Errorf("rpc: handler already registered for %s", routingKey)
	}

	s.handlers[routingKey] = handler
	return nil
}

// Start declares the topic exchange and the request queue, binds every
// registered routing key and begins consuming. A topology mismatch
// reported by the broker surfaces as a TopologyError before any
// request is handled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return contracts.ErrServerRunning
	}
	if len(s.handlers) == 0 {
		return fmt.Errorf("rpc: no handlers registered")
	}

	if err := s.transport.DeclareExchange(s.exchange, s.exchangeKind); err != nil {
		return err
	}

	// Auto-delete: the queue lives as long as some server consumes it.
	if _, err := s.transport.DeclareQueue(s.queue, contracts.QueueOptions{AutoDelete: true}); err != nil {
		return err
	}

	for routingKey := range s.handlers {
		if err := s.transport.Bind(s.queue, s.exchange, routingKey); err != nil {
			return err
		}
	}

	srvCtx, cancel := context.WithCancel(ctx)
	// Prefetch 1: requests are handled strictly one at a time and a
	// request is only taken off the queue once the previous reply is
	// out.
	err := s.transport.Subscribe(srvCtx, s.queue,
		contracts.ConsumeOptions{AutoAck: false, Prefetch: 1},
		s.serve,
	)
	if err != nil {
		cancel()
		return fmt.Errorf("rpc: subscribe to request queue %s: %w", s.queue, err)
	}

	s.cancel = cancel
	s.running = true

	s.logger.Info("rpc server listening",
		"queue", s.queue,
		"exchange", s.exchange,
		"handlers", len(s.handlers),
	)
	return nil
}

// Stop cancels consumption, waits for the in-flight handler (if any)
// to finish and send its reply, then closes the transport. A handler
// that already started always completes; requests still queued at the
// broker are left for the next server instance.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return contracts.ErrServerStopped
	}

	if err := s.transport.Unsubscribe(s.queue); err != nil {
		s.logger.Warn("stopping request consumer", "error", err)
	}
	s.cancel()
	s.running = false

	s.logger.Info("rpc server stopped", "queue", s.queue)
	return s.transport.Close()
}

// Stats returns a snapshot of per-routing-key call statistics.
func (s *Server) Stats() StatsSnapshot {
	return s.stats.snapshot()
}

// serve runs on the request queue's delivery goroutine, one request
// at a time.
func (s *Server) serve(ctx context.Context, d contracts.Delivery) {
	start := time.Now()
	routingKey := d.RoutingKey()

	if d.ReplyTo() == "" {
		// No return address, no reply possible. Ack so the broker does
		// not redeliver something we can never answer.
		s.logger.Warn("dropping request without reply-to",
			"routingKey", routingKey,
			"correlationId", d.CorrelationID(),
		)
		s.stats.observe(routingKey, time.Since(start), true)
		s.ack(d)
		return
	}

	var reply []byte
	var err error

	switch {
	case s.limiter != nil && !s.limiter.Allow():
		err = fmt.Errorf("rate limit exceeded")

	default:
		handler, ok := s.handlers[routingKey]
		if !ok {
			err = fmt.Errorf("no handler for routing key %s", routingKey)
		} else {
			reply, err = s.invoke(ctx, handler, d.Body())
		}
	}

	if err != nil {
		s.logger.Error("request failed",
			"routingKey", routingKey,
			"correlationId", d.CorrelationID(),
			"error", err,
		)
		reply = errorPayload(err)
	}

	s.publishReply(ctx, d, reply)
	s.stats.observe(routingKey, time.Since(start), err != nil)
	s.ack(d)

	s.logger.Debug("request served",
		"routingKey", routingKey,
		"correlationId", d.CorrelationID(),
		"duration", time.Since(start),
	)
}

// invoke runs the handler with panic containment; a panicking handler
// must not take down the consume loop.
func (s *Server) invoke(ctx context.Context, handler Handler, payload []byte) (reply []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, payload)
}

// publishReply sends the reply through the default exchange straight
// to the reply queue, bypassing topic routing, with the request's
// correlation ID unchanged.
func (s *Server) publishReply(ctx context.Context, d contracts.Delivery, payload []byte) {
	env := contracts.Envelope{
		Payload:       payload,
		RoutingKey:    d.ReplyTo(),
		CorrelationID: d.CorrelationID(),
		ContentType:   contracts.ContentTypeJSON,
	}

	if err := s.transport.Publish(ctx, "", d.ReplyTo(), env); err != nil {
		s.logger.Error("failed to publish reply",
			"replyTo", d.ReplyTo(),
			"correlationId", d.CorrelationID(),
			"error", err,
		)
	}
}

// ack acknowledges after the reply attempt. Redelivering at this point
// would re-run a handler that already answered, so a failed reply
// publish is logged rather than nacked.
func (s *Server) ack(d contracts.Delivery) {
	if err := d.Acknowledge(); err != nil {
		s.logger.Error("failed to ack request", "error", err)
	}
}

// errorPayload encodes an error as the reply body.
func errorPayload(err error) []byte {
	payload, merr := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
	if merr != nil {
		return []byte(`{"error":"internal error"}`)
	}
	return payload
}
