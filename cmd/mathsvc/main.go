// mathsvc is a demo RPC server exposing arithmetic over the broker.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/parloq/topicrpc"
	"github.com/parloq/topicrpc/config"
	"github.com/parloq/topicrpc/rpc"
)

type addRequest struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addResult struct {
	Result int `json:"result"`
}

func main() {
	configPath := flag.String("config", "topicrpc.yml", "broker config file")
	queue := flag.String("queue", "mathsvc.requests", "request queue name")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	server, err := topicrpc.NewServer(ctx, *cfg, *queue, topicrpc.WithLogger(logger))
	if err != nil {
		logger.Error("connecting to broker", "error", err)
		os.Exit(1)
	}

	err = server.Handle("math.add", rpc.JSONHandler(
		func(ctx context.Context, req *addRequest) (*addResult, error) {
			return &addResult{Result: req.A + req.B}, nil
		},
	))
	if err != nil {
		logger.Error("registering handler", "error", err)
		os.Exit(1)
	}

	if err := server.Start(ctx); err != nil {
		logger.Error("starting server", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := server.Stop(); err != nil {
		logger.Error("stopping server", "error", err)
		os.Exit(1)
	}

	for key, stats := range server.Stats() {
		logger.Info("served",
			"routingKey", key,
			"calls", stats.Calls,
			"errors", stats.Errors,
			"avgMs", stats.AvgMs,
		)
	}
}
