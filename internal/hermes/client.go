package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectExchangeCompleted   = "voicerag.exchange.completed"
	SubjectConversationDeleted = "voicerag.conversation.deleted"
	SubjectDocumentIngested    = "voicerag.document.ingested"
)

// ExchangeCompleted is published once a user/assistant exchange has been
// committed to a conversation's history.
type ExchangeCompleted struct {
	ConversationID string           `json:"session_id"`
	Mode           string           `json:"mode"`
	UserChars      int              `json:"user_chars"`
	AssistantChars int              `json:"assistant_chars"`
	Sources        int              `json:"sources"`
	Bypass         bool             `json:"bypass"`
	Timings        map[string]int64 `json:"timings,omitempty"`
	At             time.Time        `json:"at"`
}

type ConversationDeleted struct {
	ConversationID string    `json:"session_id"`
	At             time.Time `json:"at"`
}

type DocumentIngested struct {
	DocumentID     string    `json:"doc_id"`
	ConversationID string    `json:"session_id"`
	Filename       string    `json:"filename"`
	SourceType     string    `json:"source_type"`
	Chunks         int       `json:"chunks"`
	Pages          int       `json:"page_count"`
	At             time.Time `json:"at"`
}

// Client publishes pipeline events to NATS. A nil *Client is valid and drops
// every event, so callers need not check whether the bus is configured.
type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("voicerag"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	if c == nil {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) ExchangeCompleted(ev ExchangeCompleted) error {
	return c.Publish(SubjectExchangeCompleted, ev)
}

func (c *Client) ConversationDeleted(ev ConversationDeleted) error {
	return c.Publish(SubjectConversationDeleted, ev)
}

func (c *Client) DocumentIngested(ev DocumentIngested) error {
	return c.Publish(SubjectDocumentIngested, ev)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	if c == nil {
		return fmt.Errorf("subscribe %s: event bus not configured", subject)
	}
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
