package cache

import "context"

// Invalidator purges cached objects after a write. Keys may carry a
// trailing '*' wildcard, which expands at the cache backend.
type Invalidator interface {
	Purge(ctx context.Context, keys ...string) error
}

// Noop satisfies Invalidator when no cache backend is configured.
type Noop struct{}

func (Noop) Purge(context.Context, ...string) error { return nil }
