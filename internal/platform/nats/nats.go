// Package nats wraps a NATS connection with a JetStream publishing context.
package nats

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Config configures the connection.
type Config struct {
	URL  string
	Name string
	// Stream, when set, is created or updated to capture Subjects.
	Stream   string
	Subjects []string
}

// Client publishes messages to JetStream and subscribes to core NATS subjects.
type Client struct {
	conn *natsgo.Conn
	js   jetstream.JetStream
}

// Connect dials NATS and prepares JetStream. Reconnects are unlimited so a
// broker restart never requires a service restart.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	conn, err := natsgo.Connect(cfg.URL,
		natsgo.Name(cfg.Name),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(c *natsgo.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	if cfg.Stream != "" {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: cfg.Subjects,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
		}
	}

	return &Client{conn: conn, js: js}, nil
}

// Publish sends data to subject and waits for the JetStream ack.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Handler processes one message body.
type Handler func(ctx context.Context, data []byte) error

// Subscribe runs handle for every message on subject. Handler errors are
// logged; core NATS has no redelivery.
func (c *Client) Subscribe(subject string, timeout time.Duration, log zerolog.Logger, handle Handler) error {
	_, err := c.conn.Subscribe(subject, func(m *natsgo.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := handle(ctx, m.Data); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("Failed to handle message")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() error {
	return c.conn.Drain()
}
