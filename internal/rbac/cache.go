package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CachedResolver wraps an AccessChecker with a Redis read-through cache on
// the effective permission set. Concurrent misses for the same user are
// collapsed into a single storage round-trip.
type CachedResolver struct {
	inner  AccessChecker
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedResolver constructs a CachedResolver. The ttl bounds how long a
// stale permission set may be served after role or grant changes.
func NewCachedResolver(inner AccessChecker, client *redis.Client, ttl time.Duration) *CachedResolver {
	return &CachedResolver{inner: inner, client: client, ttl: ttl}
}

func permsCacheKey(userID int64) string {
	return "authz:perms:" + strconv.FormatInt(userID, 10)
}

// EffectivePermissions serves the user's permission set from cache,
// rebuilding it from storage on a miss. Cache failures degrade to a direct
// storage read.
func (c *CachedResolver) EffectivePermissions(ctx context.Context, userID int64) ([]Permission, error) {
	key := permsCacheKey(userID)
	if perms, ok := c.lookup(ctx, key); ok {
		return perms, nil
	}

	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		perms, err := c.inner.EffectivePermissions(ctx, userID)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(perms); err == nil {
			c.client.Set(ctx, key, payload, c.ttl)
		}
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Permission), nil
	}
}

// HasPermission answers from the cached permission set when present, and
// otherwise delegates without rebuilding the cache.
func (c *CachedResolver) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	if perms, ok := c.lookup(ctx, permsCacheKey(userID)); ok {
		for _, p := range perms {
			if p.Name == permission {
				return true, nil
			}
		}
		return false, nil
	}
	return c.inner.HasPermission(ctx, userID, permission)
}

// HasRole always delegates: role membership is not part of the cached set.
func (c *CachedResolver) HasRole(ctx context.Context, userID int64, role string) (bool, error) {
	return c.inner.HasRole(ctx, userID, role)
}

// InvalidateUser drops the cached permission set of one user, called after
// the user's role assignments change.
func (c *CachedResolver) InvalidateUser(ctx context.Context, userID int64) error {
	if err := c.client.Del(ctx, permsCacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("rbac: invalidate cache: %w", err)
	}
	return nil
}

func (c *CachedResolver) lookup(ctx context.Context, key string) ([]Permission, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		// redis.Nil and transport errors are both treated as a miss.
		return nil, false
	}
	var perms []Permission
	if err := json.Unmarshal(payload, &perms); err != nil {
		c.client.Del(ctx, key)
		return nil, false
	}
	if perms == nil {
		perms = []Permission{}
	}
	return perms, true
}
