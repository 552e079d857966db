package transport

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATS publishes every container on one subject.
type NATS struct {
	nc      *nats.Conn
	subject string
}

// NewNATS connects to url.
func NewNATS(url, subject string, opts ...nats.Option) (*NATS, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats transport: subject is required")
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats transport: connect %s: %w", url, err)
	}
	return &NATS{nc: nc, subject: subject}, nil
}

func (n *NATS) Name() string { return "nats" }

func (n *NATS) Send(b []byte) error {
	if err := n.nc.Publish(n.subject, b); err != nil {
		return &Error{Transport: n.Name(), Err: err}
	}
	return nil
}

// Close drains pending publishes before closing the connection.
func (n *NATS) Close() error {
	if n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}
