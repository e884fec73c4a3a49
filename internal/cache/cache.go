// Package cache provides the read-through user snapshot cache that sits in
// the authorization path of every authenticated request. A hit answers
// without touching persistent storage; a miss loads from the user table and
// repopulates the cache before returning.
package cache

import (
	"context"
	"time"

	"github.com/dkostenko/carnet/internal/user/entity"
)

// DefaultTTL bounds how stale a cached snapshot can get.
const DefaultTTL = 600 * time.Second

// Loader resolves a subject (email) against the authoritative store.
// It must return a NotFound error when no matching user exists.
type Loader func(ctx context.Context, subject string) (*entity.Snapshot, error)

// UserCache is the injected cache component. Constructed once at startup,
// closed at shutdown; never a package-level singleton.
type UserCache interface {
	// GetOrLoad returns the cached snapshot for subject, loading and
	// storing it on a miss.
	GetOrLoad(ctx context.Context, subject string) (*entity.Snapshot, error)
	// Invalidate drops the entry for subject so the next read reloads.
	Invalidate(ctx context.Context, subject string) error
	// Clear drops every entry.
	Clear(ctx context.Context) error
	// Close releases any underlying resources.
	Close() error
}

func cacheKey(subject string) string { return "user:" + subject }
