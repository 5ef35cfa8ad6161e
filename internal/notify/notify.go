// Package notify fans approval events out to the realtime hub and to external
// subscribers over Redis pub/sub and Kafka.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rwaadmin/internal/approval"
)

// Message is the wire envelope published to external subscribers.
type Message struct {
	Recipients approval.Recipients `json:"recipients"`
	Event      approval.Event      `json:"event"`
}

func encode(to approval.Recipients, event approval.Event) ([]byte, error) {
	b, err := json.Marshal(Message{Recipients: to, Event: event})
	if err != nil {
		return nil, fmt.Errorf("encode approval event: %w", err)
	}
	return b, nil
}

// Fanout delivers every event to all of its notifiers. One failing sink does
// not stop the others; their errors are joined.
type Fanout []approval.Notifier

var _ approval.Notifier = Fanout(nil)

func (f Fanout) Notify(ctx context.Context, to approval.Recipients, event approval.Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, to, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
