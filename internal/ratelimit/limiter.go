package ratelimit

import "context"

// ProviderKey is the shared bucket for every outbound call to the messaging
// provider, across API and worker processes.
const ProviderKey = "whatsapp"

// RateLimiter caps outbound calls per key and per second.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
