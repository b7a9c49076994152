package rpc

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/parloq/topicrpc/contracts"
)

// mockTransport doubles the broker connection. It records published
// envelopes and captures subscription handlers so tests can feed
// deliveries into them, simulating the broker.
type mockTransport struct {
	mock.Mock

	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]contracts.DeliveryHandler
	notify    chan publishedMessage
}

type publishedMessage struct {
	Exchange   string
	RoutingKey string
	Envelope   contracts.Envelope
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		handlers: make(map[string]contracts.DeliveryHandler),
		notify:   make(chan publishedMessage, 16),
	}
}

func (m *mockTransport) DeclareExchange(name, kind string) error {
	args := m.Called(name, kind)
	return args.Error(0)
}

func (m *mockTransport) DeclareQueue(name string, opts contracts.QueueOptions) (string, error) {
	args := m.Called(name, opts)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) Bind(queue, exchange, routingKey string) error {
	args := m.Called(queue, exchange, routingKey)
	return args.Error(0)
}

func (m *mockTransport) Publish(ctx context.Context, exchange, routingKey string, env contracts.Envelope) error {
	args := m.Called(ctx, exchange, routingKey, env)
	if args.Error(0) == nil {
		msg := publishedMessage{Exchange: exchange, RoutingKey: routingKey, Envelope: env}
		m.mu.Lock()
		m.published = append(m.published, msg)
		m.mu.Unlock()
		m.notify <- msg
	}
	return args.Error(0)
}

func (m *mockTransport) Subscribe(ctx context.Context, queue string, opts contracts.ConsumeOptions, handler contracts.DeliveryHandler) error {
	args := m.Called(ctx, queue, opts, mock.Anything)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.handlers[queue] = handler
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *mockTransport) Unsubscribe(queue string) error {
	args := m.Called(queue)
	m.mu.Lock()
	delete(m.handlers, queue)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *mockTransport) DeleteQueue(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

func (m *mockTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}

// deliver feeds a delivery into the handler subscribed on queue, the
// way the broker's delivery goroutine would.
func (m *mockTransport) deliver(queue string, d contracts.Delivery) bool {
	m.mu.Lock()
	handler, ok := m.handlers[queue]
	m.mu.Unlock()
	if !ok {
		return false
	}
	handler(context.Background(), d)
	return true
}

func (m *mockTransport) publishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

func (m *mockTransport) lastPublished() (publishedMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.published) == 0 {
		return publishedMessage{}, false
	}
	return m.published[len(m.published)-1], true
}

// fakeDelivery is a test double for a broker delivery.
type fakeDelivery struct {
	body          []byte
	routingKey    string
	correlationID string
	replyTo       string
	contentType   string

	mu       sync.Mutex
	acked    bool
	rejected bool
	requeued bool
}

func (f *fakeDelivery) Body() []byte          { return f.body }
func (f *fakeDelivery) RoutingKey() string    { return f.routingKey }
func (f *fakeDelivery) CorrelationID() string { return f.correlationID }
func (f *fakeDelivery) ReplyTo() string       { return f.replyTo }
func (f *fakeDelivery) ContentType() string   { return f.contentType }

func (f *fakeDelivery) Acknowledge() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = true
	return nil
}

func (f *fakeDelivery) Reject(requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = true
	f.requeued = requeue
	return nil
}

func (f *fakeDelivery) wasAcked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acked
}
