package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/fieldhand/pkg/logging"
)

// CachedDirectory keeps resolved actors in Redis for a short TTL. Unknown
// phones are never cached so a freshly registered user is seen immediately.
type CachedDirectory struct {
	inner  Directory
	redis  redis.Cmdable
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedDirectory(inner Directory, client redis.Cmdable, ttl time.Duration, logger *logging.Logger) *CachedDirectory {
	if inner == nil {
		panic("identity: inner directory cannot be nil")
	}
	if client == nil {
		panic("identity: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedDirectory{inner: inner, redis: client, ttl: ttl, logger: logger}
}

func actorKey(phone string) string {
	return fmt.Sprintf("identity:actor:%s", phone)
}

func (c *CachedDirectory) Resolve(ctx context.Context, phone string) (*Actor, error) {
	if c.ttl > 0 {
		data, err := c.redis.Get(ctx, actorKey(phone)).Bytes()
		switch {
		case err == nil:
			var actor Actor
			if jsonErr := json.Unmarshal(data, &actor); jsonErr == nil {
				return &actor, nil
			}
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("actor cache read failed", "error", err)
		}
	}

	actor, err := c.inner.Resolve(ctx, phone)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		if data, err := json.Marshal(actor); err == nil {
			if err := c.redis.Set(ctx, actorKey(phone), data, c.ttl).Err(); err != nil {
				c.logger.Warn("actor cache write failed", "error", err)
			}
		}
	}
	return actor, nil
}

func (c *CachedDirectory) ListTenants(ctx context.Context, userID string) ([]Tenant, error) {
	return c.inner.ListTenants(ctx, userID)
}

func (c *CachedDirectory) SetActiveTenant(ctx context.Context, userID, tenantID string) error {
	return c.inner.SetActiveTenant(ctx, userID, tenantID)
}

func (c *CachedDirectory) Invalidate(ctx context.Context, phone string) error {
	if err := c.redis.Del(ctx, actorKey(phone)).Err(); err != nil {
		return fmt.Errorf("identity: invalidate actor cache: %w", err)
	}
	return nil
}
