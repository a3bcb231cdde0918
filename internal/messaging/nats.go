package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/stan.go"
)

// Handler processes one delivered message. Returning an error leaves the
// message unacknowledged so it is redelivered.
type Handler func(ctx context.Context, subject string, data []byte) error

// Publisher emits domain events after their write has committed.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
}

// Subscriber delivers events of a subject to a handler.
type Subscriber interface {
	Subscribe(subject, queue string, handler Handler) error
}

type NATSClient struct {
	conn stan.Conn
	subs []stan.Subscription
}

type Config struct {
	URL       string
	ClusterID string
	ClientID  string
}

func NewNATSClient(cfg Config) (*NATSClient, error) {
	// unique client ID so replicas do not evict each other
	clientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8])

	conn, err := stan.Connect(cfg.ClusterID, clientID, stan.NatsURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS Streaming: %w", err)
	}

	slog.Info("Connected to NATS Streaming", "url", cfg.URL, "cluster", cfg.ClusterID, "client", clientID)
	return &NATSClient{conn: conn}, nil
}

func (nc *NATSClient) Publish(ctx context.Context, subject string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := nc.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}

	slog.Debug("Published message", "subject", subject)
	return nil
}

// Subscribe joins a durable queue group with manual acks. A message is acked
// only when handler succeeds.
func (nc *NATSClient) Subscribe(subject, queue string, handler Handler) error {
	sub, err := nc.conn.QueueSubscribe(subject, queue, func(msg *stan.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()

		if err := handler(ctx, msg.Subject, msg.Data); err != nil {
			slog.Error("Failed to handle message", "subject", msg.Subject, "sequence", msg.Sequence, "error", err)
			return
		}
		if err := msg.Ack(); err != nil {
			slog.Error("Failed to ack message", "subject", msg.Subject, "sequence", msg.Sequence, "error", err)
		}
	},
		stan.DurableName(subject+"-"+queue+"-durable"),
		stan.SetManualAckMode(),
		stan.AckWait(30*time.Second),
		stan.MaxInflight(1))
	if err != nil {
		return fmt.Errorf("failed to queue subscribe to subject %s: %w", subject, err)
	}

	nc.subs = append(nc.subs, sub)
	slog.Info("Subscribed to subject", "subject", subject, "queue", queue)
	return nil
}

func (nc *NATSClient) Close() error {
	for _, sub := range nc.subs {
		_ = sub.Close()
	}
	if nc.conn != nil {
		return nc.conn.Close()
	}
	return nil
}
