// mathcall issues a single RPC call against a running mathsvc and
// prints the reply payload.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/parloq/topicrpc"
	"github.com/parloq/topicrpc/config"
)

func main() {
	configPath := flag.String("config", "topicrpc.yml", "broker config file")
	routingKey := flag.String("key", "math.add", "routing key to call")
	timeout := flag.Duration("timeout", 5*time.Second, "reply timeout")
	flag.Parse()

	payload := `{"a":2,"b":3}`
	if flag.NArg() > 0 {
		payload = flag.Arg(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	client, err := topicrpc.Dial(ctx, *cfg, topicrpc.WithLogger(logger))
	if err != nil {
		logger.Error("connecting to broker", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	start := time.Now()
	reply, err := client.Call(ctx, *routingKey, []byte(payload), *timeout)
	if err != nil {
		logger.Error("call failed", "routingKey", *routingKey, "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s (%s)\n", reply, time.Since(start).Round(time.Millisecond))
}
