package domain

import (
	"context"
)

// EventBus carries ingest notifications and labeling runs between the
// API and the worker. Community deployments use in-process channels; Pro
// deployments use NATS. Topics are always tenant-scoped.
type EventBus interface {
	// Publish sends payload to the tenant's topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers handler for the tenant's topic and returns a
	// handle for unsubscribing.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes payload and waits for a single reply.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message. A returned error is
// logged; the bus does not redeliver.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus implementation delivers.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is the handle returned by EventBus.Subscribe.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus implementation.
type EventBusConfig struct {
	// Type is "channel" (Community) or "nats" (Pro).
	Type string

	// Channel bus settings.
	ChannelBufferSize int

	// NATS settings.
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the labeling pipeline.
const (
	TopicTransactionIngested = "kestrel.transaction.ingested"
	TopicLabelsRequested     = "kestrel.labels.requested"
	TopicLabelsCompleted     = "kestrel.labels.completed"
	TopicHighRiskAlert       = "kestrel.alert.highrisk"
)
