package cache

import (
	"context"
	"time"
)

// Cache is a small JSON cache used to keep session/participant id
// resolutions warm across flush cycles and process restarts.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
