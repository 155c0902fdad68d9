// Package feed delivers participation row changes to subscribers, filtered
// by lobby name. Delivery is at-most-once and unordered across lobbies;
// consumers treat each event as a hint to refetch.
package feed

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mcoot/bunker/internal/model"
)

// ErrClosed is returned when publishing or subscribing on a closed feed
var ErrClosed = errors.New("feed closed")

// Publisher emits change events
type Publisher interface {
	Publish(ctx context.Context, event model.ChangeEvent) error
}

// Subscriber opens a filtered stream of change events
type Subscriber interface {
	// Subscribe returns once the subscription is established. A failed
	// handshake is reported as an error.
	Subscribe(ctx context.Context, lobby model.LobbyName) (Subscription, error)
}

// Subscription is a live stream for one lobby
type Subscription interface {
	// Events is closed when the subscription drops or is closed
	Events() <-chan model.ChangeEvent
	// Err reports why Events was closed; nil after a clean Close
	Err() error
	Close() error
}

// Feed is a complete change feed backend
type Feed interface {
	Publisher
	Subscriber
	Close() error
}

// EventBuffer is the per-subscription channel capacity
const EventBuffer = 64

// Encode serialises an event for the wire
func Encode(event model.ChangeEvent) ([]byte, error) {
	return json.Marshal(event)
}

// Decode parses an event from the wire
func Decode(data []byte) (model.ChangeEvent, error) {
	var event model.ChangeEvent
	err := json.Unmarshal(data, &event)
	return event, err
}

// PublishAll publishes events in order and returns the first error
func PublishAll(ctx context.Context, p Publisher, events ...model.ChangeEvent) error {
	for _, e := range events {
		if err := p.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
