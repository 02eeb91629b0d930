package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-tts-proxy/internal/config"
	"github.com/loqalabs/loqa-tts-proxy/internal/protocol"
	"github.com/nats-io/nats.go"
)

// OutcomeStream captures every session outcome when the server supports JetStream.
const OutcomeStream = "TTS_SESSIONS"

// Client wraps a NATS connection and publishes request outcomes.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	log = log.With(slog.String("component", "bus"))

	options := []nats.Option{
		nats.Name("ttsproxy"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to NATS", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	c := &Client{conn: conn, log: log}
	c.ensureStream(ctx)

	log.Info("connected to NATS", slog.String("servers", url), slog.Bool("jetstream", c.js != nil))
	return c, nil
}

// ensureStream creates the outcome stream when JetStream is available. Plain NATS
// servers still receive outcomes, just without persistence.
func (c *Client) ensureStream(ctx context.Context) {
	js, err := c.conn.JetStream(nats.Context(ctx))
	if err != nil {
		return
	}
	if _, err := js.StreamInfo(OutcomeStream); err == nil {
		c.js = js
		return
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		c.log.Debug("jetstream unavailable", slog.String("error", err.Error()))
		return
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     OutcomeStream,
		Subjects: []string{protocol.SubjectSessionCompleted, protocol.SubjectSessionFailed},
		MaxAge:   7 * 24 * time.Hour,
		Storage:  nats.FileStorage,
	})
	if err != nil {
		c.log.Warn("failed to create outcome stream", slog.String("error", err.Error()))
		return
	}
	c.js = js
}

// PublishOutcome announces a finished request on its outcome subject.
func (c *Client) PublishOutcome(ctx context.Context, outcome protocol.SessionOutcome) error {
	if c == nil || c.conn == nil {
		return nil
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	subject := protocol.SubjectFor(outcome)
	if c.js != nil {
		if _, err := c.js.Publish(subject, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		return nil
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// Persistent reports whether outcomes are stored in JetStream.
func (c *Client) Persistent() bool {
	return c != nil && c.js != nil
}
