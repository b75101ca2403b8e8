package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// EventTTL covers the provider's webhook redelivery window.
const EventTTL = 24 * time.Hour

// EventDeduplicator remembers inbound webhook message ids so a redelivered
// reply is processed once.
type EventDeduplicator struct {
	client goredis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewEventDeduplicator(client goredis.Cmdable, ttl time.Duration) (*EventDeduplicator, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = EventTTL
	}

	return &EventDeduplicator{
		client: client,
		prefix: "webhook:event:",
		ttl:    ttl,
	}, nil
}

// FirstSeen atomically claims eventID and reports whether this call was the
// first to see it.
func (d *EventDeduplicator) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		return true, nil
	}

	claimed, err := d.client.SetNX(ctx, d.prefix+id, time.Now().UTC().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	return claimed, nil
}
