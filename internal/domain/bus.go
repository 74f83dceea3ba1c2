package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require projectID for strict project isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, projectID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. GlobalProjectID
	// subscribes across all projects.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, projectID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"projectId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the detection pipeline.
const (
	TopicTransactionIngested = "harrier.transaction.ingested"
	TopicReportIngested      = "harrier.report.ingested"
	TopicSweepCompleted      = "harrier.sweep.completed"
	TopicAlertCreated        = "harrier.alert.created"
)

// GlobalProjectID subscribes across all projects: a subscription under
// this id receives every project's messages on the topic. Publishing
// always uses a real project id.
const GlobalProjectID = "_global"
