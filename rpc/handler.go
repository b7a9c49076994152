package rpc

import (
	"context"
	"encoding/json"

	"github.com/parloq/topicrpc/contracts"
)

// Handler computes the reply payload for one request payload. Handlers
// run one at a time on the server's delivery goroutine; a returned
// error becomes an error reply to the caller.
type Handler interface {
	Handle(ctx context.Context, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// JSONHandler adapts a typed request/reply function to a Handler,
// giving each routing key an explicit schema. Payloads that do not
// decode into Req fail as MalformedMessageError before the function
// runs, so a bad payload surfaces to the caller as a typed error reply
// instead of crashing the handler.
func JSONHandler[Req, Resp any](fn func(ctx context.Context, req *Req) (*Resp, error)) Handler {
	return HandlerFunc(func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, &contracts.MalformedMessageError{
				Reason: "request payload does not match schema",
				Err:    err,
			}
		}

		resp, err := fn(ctx, &req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
}
