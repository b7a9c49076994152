package broker

import (
	"github.com/parloq/topicrpc/contracts"
)

// DeclareExchange ensures a durable exchange of the given kind exists.
// The broker refuses the declaration when an exchange of the same name
// already exists with a different type; that surfaces as a
// TopologyError.
func (c *Connection) DeclareExchange(name, kind string) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}

	err = ch.ExchangeDeclare(
		name,
		kind,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return &contracts.TopologyError{Component: "exchange", Name: name, Op: "declare", Err: err}
	}

	c.logger.Debug("declared exchange", "exchange", name, "kind", kind)
	return nil
}

// DeclareQueue creates a queue and returns its resolved name. An empty
// name requests a broker-generated unique name, which is how reply
// queues are created.
func (c *Connection) DeclareQueue(name string, opts contracts.QueueOptions) (string, error) {
	ch, err := c.channel()
	if err != nil {
		return "", err
	}

	q, err := ch.QueueDeclare(
		name,
		opts.Durable,
		opts.AutoDelete,
		opts.Exclusive,
		false, // no-wait
		nil,
	)
	if err != nil {
		return "", &contracts.TopologyError{Component: "queue", Name: name, Op: "declare", Err: err}
	}

	c.logger.Debug("declared queue",
		"queue", q.Name,
		"exclusive", opts.Exclusive,
		"autoDelete", opts.AutoDelete,
	)
	return q.Name, nil
}

// Bind associates a queue with a routing key pattern on an exchange.
func (c *Connection) Bind(queue, exchange, routingKey string) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}

	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return &contracts.TopologyError{Component: "binding", Name: queue, Op: "bind", Err: err}
	}

	c.logger.Debug("bound queue",
		"queue", queue,
		"exchange", exchange,
		"routingKey", routingKey,
	)
	return nil
}

// DeleteQueue removes a queue regardless of contents or consumers.
func (c *Connection) DeleteQueue(name string) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}

	if _, err := ch.QueueDelete(name, false, false, false); err != nil {
		return &contracts.TopologyError{Component: "queue", Name: name, Op: "delete", Err: err}
	}

	c.logger.Debug("deleted queue", "queue", name)
	return nil
}
