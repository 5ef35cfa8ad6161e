package notify

import (
	"context"
	"fmt"
	"strings"

	"rwaadmin/internal/approval"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "rwa.approvals"

// RedisPublisher publishes events on a Redis pub/sub channel, and additionally
// on "<channel>.<event type>" so subscribers can pattern-match.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

var _ approval.Notifier = (*RedisPublisher)(nil)

func NewRedisPublisher(client redis.UniversalClient, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

func (p *RedisPublisher) Notify(ctx context.Context, to approval.Recipients, event approval.Event) error {
	payload, err := encode(to, event)
	if err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, payload)
	if event.Type != "" {
		pipe.Publish(ctx, p.channel+"."+event.Type, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", event.Type, err)
	}
	return nil
}
