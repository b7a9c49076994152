package topicrpc

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/parloq/topicrpc/config"
	"github.com/parloq/topicrpc/contracts"
)

func unreachableConfig() config.Config {
	return config.Config{
		Host:     "127.0.0.1",
		Port:     1, // nothing listens here
		VHost:    "/",
		Username: "guest",
		Password: "guest",
		Exchange: config.Exchange{Name: "rpc", Kind: "topic"},
	}
}

func TestDialSurfacesConnectionError(t *testing.T) {
	_, err := Dial(context.Background(), unreachableConfig(),
		WithLogger(slog.Default()),
		WithDialTimeout(2*time.Second),
	)

	var connErr *contracts.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestNewServerSurfacesConnectionError(t *testing.T) {
	_, err := NewServer(context.Background(), unreachableConfig(), "mathsvc.requests",
		WithDialTimeout(2*time.Second),
	)

	var connErr *contracts.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestInvalidConfigRejectedBeforeDial(t *testing.T) {
	// A hand-built config that never went through config.Load must
	// fail with the config package's message, not an opaque broker
	// error after a dial attempt.
	t.Run("dial without exchange name", func(t *testing.T) {
		cfg := unreachableConfig()
		cfg.Exchange.Name = ""

		_, err := Dial(context.Background(), cfg)
		assert.ErrorContains(t, err, "exchange name must be set")
	})

	t.Run("new server with bad exchange kind", func(t *testing.T) {
		cfg := unreachableConfig()
		cfg.Exchange.Kind = "tpoic"

		_, err := NewServer(context.Background(), cfg, "mathsvc.requests")
		assert.ErrorContains(t, err, "unknown exchange kind")
	})
}

func TestBuildOptionsDefaults(t *testing.T) {
	o := buildOptions(nil)

	assert.NotNil(t, o.logger)
	assert.Equal(t, 30*time.Second, o.dialTimeout)
}
