package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/layer-3/parlor/ports"
)

// SessionTopic is the topic session lifecycle events are published to.
const SessionTopic = "parlor.session"

// SessionEvent is the wire payload for session lifecycle notifications.
type SessionEvent struct {
	Kind   string    `json:"kind"`
	Wallet string    `json:"wallet"`
	At     time.Time `json:"at"`
}

// WatermillPublisher implements ports.EventPublisher on a watermill publisher.
// Bots running next to the client subscribe to react to logins and logouts.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a session event publisher.
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     SessionTopic,
	}
}

// PublishSessionEvent publishes one lifecycle event.
func (p *WatermillPublisher) PublishSessionEvent(_ context.Context, kind, wallet string) error {
	event := SessionEvent{
		Kind:   kind,
		Wallet: wallet,
		At:     time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
