// Package usercache caches user rows in Redis so profile reads skip PostgreSQL.
package usercache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Proton-105/himera-billing/internal/domain"
	appredis "github.com/Proton-105/himera-billing/pkg/redis"
)

// DefaultTTL bounds staleness for entries whose invalidation was lost.
const DefaultTTL = 10 * time.Minute

// Cache provides Redis-backed caching for user profiles.
type Cache struct {
	kv  appredis.KV
	ttl time.Duration
}

// NewCache constructs a user cache. A non-positive ttl selects DefaultTTL.
func NewCache(kv appredis.KV, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{kv: kv, ttl: ttl}
}

// Get fetches a cached user if it exists. A miss returns nil without error.
func (c *Cache) Get(ctx context.Context, userID int64) (*domain.User, error) {
	if c == nil || c.kv == nil {
		return nil, nil
	}

	data, err := c.kv.Get(ctx, cacheKey(userID))
	if err != nil {
		if appredis.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached user: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("decode cached user: %w", err)
	}

	return &user, nil
}

// Set stores the user in cache.
func (c *Cache) Set(ctx context.Context, user *domain.User) error {
	if c == nil || c.kv == nil || user == nil {
		return nil
	}

	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user for cache: %w", err)
	}

	if err := c.kv.Set(ctx, cacheKey(user.ID), payload, c.ttl); err != nil {
		return fmt.Errorf("set cached user: %w", err)
	}

	return nil
}

// Invalidate removes the cached entries of the given users.
func (c *Cache) Invalidate(ctx context.Context, userIDs ...int64) error {
	if c == nil || c.kv == nil || len(userIDs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, cacheKey(id))
	}

	if err := c.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("delete cached user: %w", err)
	}

	return nil
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("billing:user:%d", userID)
}
