package bus

import (
	"errors"
	"strings"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// HeaderBatchID carries the batch id so consumers can drop redeliveries.
const HeaderBatchID = "X-Batch-Id"

// DefaultSubject is the subject activity batches are published on.
const DefaultSubject = "activity.batches"

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte

	// Header holds optional string headers. May be nil.
	Header map[string]string
}

// MessageBus provides pub/sub messaging.
type MessageBus interface {
	// Publish sends data to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// PublishMsg sends a message with headers.
	PublishMsg(msg *Message) error

	// Subscribe creates a subscription to a subject.
	// All subscribers receive all messages.
	Subscribe(subject string) (Subscription, error)

	// QueueSubscribe creates a queue subscription.
	// Messages are load-balanced across queue members.
	QueueSubscribe(subject, queue string) (Subscription, error)

	// Close shuts down the bus connection.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks a publish or subscribe subject: dot-separated
// non-empty tokens without whitespace. Wildcards are only meaningful to
// subscribers and are accepted.
func ValidateSubject(subject string) error {
	if subject == "" || strings.HasPrefix(subject, ".") || strings.HasSuffix(subject, ".") ||
		strings.Contains(subject, "..") || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	return nil
}

func copyHeader(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
