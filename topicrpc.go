// Package topicrpc provides asynchronous RPC over an AMQP broker: a
// client publishes JSON requests onto a topic exchange and awaits
// correlated replies on a private reply queue; a server consumes
// requests, runs registered handlers and publishes results back.
//
// This package is the entry point: it wires a config.Config into a
// broker connection and hands back the rpc components, each owning its
// own connection with a deterministic teardown contract.
package topicrpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parloq/topicrpc/broker"
	"github.com/parloq/topicrpc/config"
	"github.com/parloq/topicrpc/rpc"
)

type options struct {
	logger      *slog.Logger
	dialTimeout time.Duration
}

// Option configures Dial and NewServer.
type Option func(*options)

// WithLogger sets the logger shared by the connection and the RPC
// component built on it.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDialTimeout bounds the broker handshake.
func WithDialTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		logger:      slog.Default(),
		dialTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func connect(ctx context.Context, cfg config.Config, o *options) (*broker.Connection, error) {
	conn := broker.NewConnection(cfg,
		broker.WithLogger(o.logger),
		broker.WithDialTimeout(o.dialTimeout),
	)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// Dial opens a connection to the broker in cfg, declares the
// configured exchange and returns a ready RPC client. The client owns
// the connection; Close releases it.
func Dial(ctx context.Context, cfg config.Config, opts ...Option) (*rpc.Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("topicrpc: config: %w", err)
	}
	o := buildOptions(opts)

	conn, err := connect(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	if err := conn.DeclareExchange(cfg.Exchange.Name, cfg.Exchange.Kind); err != nil {
		conn.Close()
		return nil, err
	}

	client, err := rpc.NewClient(conn, cfg.Exchange.Name, rpc.WithClientLogger(o.logger))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// NewServer opens a connection to the broker in cfg and returns a
// server consuming from queue once handlers are registered and Start
// is called. The server owns the connection; Stop releases it.
func NewServer(ctx context.Context, cfg config.Config, queue string, opts ...Option) (*rpc.Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("topicrpc: config: %w", err)
	}
	o := buildOptions(opts)

	conn, err := connect(ctx, cfg, o)
	if err != nil {
		return nil, err
	}

	server, err := rpc.NewServer(conn, cfg.Exchange.Name, queue,
		rpc.WithServerLogger(o.logger),
		rpc.WithExchangeKind(cfg.Exchange.Kind),
	)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return server, nil
}
