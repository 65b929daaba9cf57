package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject suffixes under the configured prefix.
const (
	InboundSuffix  = "inbound"
	OutboundSuffix = "outbound"

	defaultSubscribeBuffer = 64
)

// NATSMessenger exchanges JSON messages on <prefix>.inbound and <prefix>.outbound.
type NATSMessenger struct {
	conn     *nats.Conn
	logger   *slog.Logger
	now      func() time.Time
	inbound  string
	outbound string
	buffer   int
}

var _ Messenger = (*NATSMessenger)(nil)

// NATSOption configures a NATSMessenger.
type NATSOption func(*NATSMessenger)

// WithNATSLogger sets a custom logger.
func WithNATSLogger(logger *slog.Logger) NATSOption {
	return func(m *NATSMessenger) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSubscribeBuffer sizes the subscription channel.
func WithSubscribeBuffer(n int) NATSOption {
	return func(m *NATSMessenger) {
		if n > 0 {
			m.buffer = n
		}
	}
}

// DialNATS connects to url and returns a messenger on prefix.
func DialNATS(url, prefix string, opts ...NATSOption) (*NATSMessenger, error) {
	conn, err := nats.Connect(url,
		nats.Name("sightings"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	m, err := NewNATSMessenger(conn, prefix, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

// NewNATSMessenger wraps an existing connection.
func NewNATSMessenger(conn *nats.Conn, prefix string, opts ...NATSOption) (*NATSMessenger, error) {
	if conn == nil {
		return nil, fmt.Errorf("NATS connection is required")
	}
	if prefix == "" {
		return nil, fmt.Errorf("subject prefix is required")
	}

	m := &NATSMessenger{
		conn:     conn,
		logger:   slog.Default(),
		now:      time.Now,
		inbound:  prefix + "." + InboundSuffix,
		outbound: prefix + "." + OutboundSuffix,
		buffer:   defaultSubscribeBuffer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "transport.nats"))
	return m, nil
}

// InboundSubject is where contributor messages arrive.
func (m *NATSMessenger) InboundSubject() string { return m.inbound }

// OutboundSubject is where replies are published.
func (m *NATSMessenger) OutboundSubject() string { return m.outbound }

// Send publishes a reply.
func (m *NATSMessenger) Send(ctx context.Context, recipient string, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}

	data, err := EncodeOutgoing(OutgoingMessage{To: recipient, Text: text, SentAt: m.now().UTC()})
	if err != nil {
		return err
	}
	if err := m.conn.Publish(m.outbound, data); err != nil {
		return fmt.Errorf("publish to %s: %w", m.outbound, err)
	}
	return nil
}

// Subscribe delivers decoded inbound messages until ctx is canceled.
// Payloads that fail to decode are logged and dropped.
func (m *NATSMessenger) Subscribe(ctx context.Context) (<-chan IncomingMessage, error) {
	out := make(chan IncomingMessage, m.buffer)

	var (
		mu     sync.RWMutex
		closed bool
	)

	sub, err := m.conn.Subscribe(m.inbound, func(raw *nats.Msg) {
		msg, err := DecodeIncoming(raw.Data, m.now().UTC())
		if err != nil {
			m.logger.WarnContext(ctx, "Dropping inbound payload",
				slog.String("subject", raw.Subject),
				slog.Any("error", err))
			return
		}

		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", m.inbound, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Warn("Failed to unsubscribe", slog.Any("error", err))
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out, nil
}

// Close drains the connection.
func (m *NATSMessenger) Close() error {
	if err := m.conn.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
