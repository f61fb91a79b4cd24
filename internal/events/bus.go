package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors for bus operations.
var (
	// ErrBusClosed is returned when publishing or subscribing on a
	// closed bus.
	ErrBusClosed = errors.New("event bus closed")

	// ErrInvalidTopic is returned for empty topic names.
	ErrInvalidTopic = errors.New("invalid topic")
)

// Event is an immutable named payload. It exists only for the duration
// of dispatch; the bus does not persist events.
type Event struct {
	// ID is a unique identifier assigned at publish time.
	ID string `json:"id"`

	// Topic is the name the event was published under.
	Topic string `json:"topic"`

	// Data is the JSON-encoded payload.
	Data []byte `json:"data"`

	// PublishedAt is the publish timestamp.
	PublishedAt time.Time `json:"published_at"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Handler consumes one event. A handler returning an error (or
// panicking) is logged by the bus; it never affects other subscribers
// or the publisher.
type Handler func(ctx context.Context, ev Event) error

// Subscription identifies one registered handler.
type Subscription interface {
	// Unsubscribe removes the handler. Events already queued for this
	// subscriber may still be delivered.
	Unsubscribe() error
}

// Bus is an asynchronous publish/subscribe channel between installation
// actions and the ingestion work they cause.
type Bus interface {
	// Publish dispatches payload (JSON-encoded) to all current
	// subscribers of topic. Publishing to a topic with no subscribers
	// is a no-op. Publish returns once the event is enqueued; it does
	// not wait for handlers.
	Publish(ctx context.Context, topic string, payload any) error

	// Subscribe registers handler for every subsequent publish on topic.
	Subscribe(topic string, handler Handler) (Subscription, error)

	// Close stops dispatch and releases resources.
	Close() error
}

// InstallationEvent is the payload published when a connector link is
// installed or (re)configured for an organisation. The ingestion
// orchestrator consumes it to start a crawl.
type InstallationEvent struct {
	OrganisationID string `json:"organisation_id"`
	ConnectorName  string `json:"connector_name"`
	LinkID         string `json:"link_id"`
	LinkLocation   string `json:"link_location"`
}

// InstalledTopic returns the topic installation events for a connector
// are published on, e.g. "webConnectorInstalled".
func InstalledTopic(connectorName string) string {
	return connectorName + "Installed"
}
