package rpc

import (
	"errors"
	"sync"

	"github.com/parloq/topicrpc/contracts"
)

// errDuplicateCorrelationID is returned by add when the generated ID
// collides with an outstanding call. Callers regenerate and retry.
var errDuplicateCorrelationID = errors.New("rpc: duplicate correlation id")

// pendingCalls maps correlation IDs to the channels their callers wait
// on. It is the only state shared between the delivery goroutine and
// calling goroutines. Each entry is removed exactly once: by the reply
// that resolves it, the timeout that abandons it, or closeAll.
type pendingCalls struct {
	mu     sync.Mutex
	calls  map[string]chan []byte
	closed bool
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{
		calls: make(map[string]chan []byte),
	}
}

// add registers a waiter for correlationID and returns its reply
// channel. The channel is buffered so resolve never blocks the
// delivery goroutine.
func (p *pendingCalls) add(correlationID string) (chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, contracts.ErrClientClosed
	}
	if _, exists := p.calls[correlationID]; exists {
		return nil, errDuplicateCorrelationID
	}

	ch := make(chan []byte, 1)
	p.calls[correlationID] = ch
	return ch, nil
}

// resolve hands payload to the waiter for correlationID and removes
// the entry. It reports false when no call is pending under that ID,
// which is how late replies are detected. Exactly one of resolve and
// remove wins for any entry: the entry is deleted under the lock
// before the send, and the send into the buffered channel cannot
// block.
func (p *pendingCalls) resolve(correlationID string, payload []byte) bool {
	p.mu.Lock()
	ch, ok := p.calls[correlationID]
	if ok {
		delete(p.calls, correlationID)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- payload
	return true
}

// remove abandons the waiter for correlationID, reporting whether the
// entry was still pending. A false return means a concurrent resolve
// won the race and the reply is in (or about to land in) the channel.
func (p *pendingCalls) remove(correlationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.calls[correlationID]; !ok {
		return false
	}
	delete(p.calls, correlationID)
	return true
}

// closeAll drops every pending entry and refuses further adds,
// returning how many calls were abandoned. Waiters learn about the
// shutdown through the client's done channel.
func (p *pendingCalls) closeAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0
	}
	p.closed = true
	n := len(p.calls)
	p.calls = make(map[string]chan []byte)
	return n
}

// outstanding returns the number of unresolved calls.
func (p *pendingCalls) outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
