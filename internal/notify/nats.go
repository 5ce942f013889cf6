package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// subjectPrefix namespaces every published subject, e.g.
// "roadpay.events.payment.succeeded".
const subjectPrefix = "roadpay.events."

// NATSNotifier publishes notifications to a NATS broker.
type NATSNotifier struct {
	conn *nats.Conn
}

var _ Notifier = (*NATSNotifier)(nil)

// natsMessage is the wire envelope for one notification.
type natsMessage struct {
	Kind        string            `json:"kind"`
	Data        map[string]string `json:"data"`
	PublishedAt time.Time         `json:"published_at"`
}

// NewNATSNotifier connects to the broker at url.
func NewNATSNotifier(url, name string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect to nats: %w", err)
	}
	return &NATSNotifier{conn: conn}, nil
}

func (n *NATSNotifier) Publish(ctx context.Context, kind string, data map[string]string) error {
	msg := natsMessage{
		Kind:        kind,
		Data:        data,
		PublishedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", kind, err)
	}
	if err := n.conn.Publish(subjectPrefix+kind, body); err != nil {
		return fmt.Errorf("notify: publish %s: %w", kind, err)
	}
	return nil
}

// Close drains buffered messages before shutting the connection down.
func (n *NATSNotifier) Close() {
	if n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}
