// Package notify delivers side-effect notifications owed after state
// transitions commit. Delivery is best effort: a failed publish is
// logged and counted, never allowed to fail the transition that owed
// it.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier publishes one notification per committed effect.
type Notifier interface {
	// Publish sends one notification. kind is a dotted name such as
	// "payment.succeeded"; data carries the fields consumers need.
	Publish(ctx context.Context, kind string, data map[string]string) error

	// Close releases the underlying connection.
	Close()
}

// LogNotifier writes notifications to the log. The dev profile default
// when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Publish(ctx context.Context, kind string, data map[string]string) error {
	attrs := make([]any, 0, 2+2*len(data))
	attrs = append(attrs, "kind", kind)
	for k, v := range data {
		attrs = append(attrs, k, v)
	}
	n.logger.InfoContext(ctx, "notification", attrs...)
	return nil
}

func (n *LogNotifier) Close() {}

// MockNotifier records published notifications for test assertions.
type MockNotifier struct {
	mu        sync.Mutex
	published []Published

	// PublishFn overrides the default record-and-succeed behavior.
	PublishFn func(ctx context.Context, kind string, data map[string]string) error
}

// Published is one recorded Publish call.
type Published struct {
	Kind string
	Data map[string]string
}

var _ Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) Publish(ctx context.Context, kind string, data map[string]string) error {
	if m.PublishFn != nil {
		if err := m.PublishFn(ctx, kind, data); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, Published{Kind: kind, Data: data})
	return nil
}

func (m *MockNotifier) Close() {}

// Published returns a copy of everything recorded so far.
func (m *MockNotifier) Recorded() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Published, len(m.published))
	copy(out, m.published)
	return out
}

// Kinds returns the recorded notification kinds in publish order.
func (m *MockNotifier) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.published))
	for i, p := range m.published {
		out[i] = p.Kind
	}
	return out
}
