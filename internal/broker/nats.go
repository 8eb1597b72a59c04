package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/igormart21/milha-alerta-fly/internal/events"
)

// DefaultSubjectPrefix is prepended to the event type to form the NATS subject.
const DefaultSubjectPrefix = "alerts"

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event on "<prefix>.<event type>".
type NATSSink struct {
	conn   publisher
	close  func()
	prefix string
}

func NewNATSSink(url, prefix string) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name("milha-alerta"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSSink{
		conn:   conn,
		close:  func() { _ = conn.Drain() },
		prefix: orPrefix(prefix),
	}, nil
}

func newNATSSink(p publisher, prefix string) *NATSSink {
	return &NATSSink{conn: p, close: func() {}, prefix: orPrefix(prefix)}
}

func orPrefix(p string) string {
	if p == "" {
		return DefaultSubjectPrefix
	}
	return p
}

// Subject returns the subject an event type is published on.
func (n *NATSSink) Subject(t events.EventType) string {
	return n.prefix + "." + string(t)
}

func (n *NATSSink) Name() string { return KindNATS }

func (n *NATSSink) Publish(ctx context.Context, e events.Event) error {
	b, err := Encode(e)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.Subject(e.Type), b); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}

func (n *NATSSink) Close() error {
	n.close()
	return nil
}
