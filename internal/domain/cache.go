package domain

import (
	"context"
	"time"
)

// SignalBus publishes and subscribes to raw byte payloads on named channels.
// The redis implementation backs it with Pub/Sub for fan-out and Streams
// for durable delivery.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// StreamMessage is a single durable message read from a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// LockManager provides distributed mutual exclusion. The service layer
// takes a per-asset lock around settlement so that two replicas never
// settle the same token concurrently.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when
	// another party holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter limits request rates per key across replicas.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the
	// limit-per-window budget, counting the request when it is.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
