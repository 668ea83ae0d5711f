package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	appconfig "github.com/wolfman30/fieldhand/internal/config"
	"github.com/wolfman30/fieldhand/internal/events"
	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/internal/registration"
	"github.com/wolfman30/fieldhand/internal/session"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Session backends accepted in SESSION_BACKEND.
const (
	SessionBackendRedis  = "redis"
	SessionBackendDynamo = "dynamodb"
	SessionBackendMemory = "memory"
)

// BuildSessionStore picks the continuation store and the per-phone lock.
// The lock lives in Redis whenever Redis is reachable so that several
// workers serialize on the same phone.
func BuildSessionStore(cfg *appconfig.Config, redisClient redis.Cmdable, dynamo *dynamodb.Client) (session.Store, session.Locker, error) {
	if cfg == nil {
		return nil, nil, errors.New("bootstrap: config is required")
	}
	ttl := session.TTLs{Continuation: cfg.ContinuationTTL, Registration: cfg.RegistrationTTL}

	var locker session.Locker = session.NewLocalLocker()
	if redisClient != nil {
		locker = session.NewRedisLocker(redisClient, cfg.LockTTL)
	}

	switch cfg.SessionBackend {
	case SessionBackendRedis, "":
		if redisClient == nil {
			return nil, nil, errors.New("bootstrap: redis session backend selected but redis is unavailable")
		}
		return session.NewRedisStore(redisClient, ttl, otel.Tracer("fieldhand.internal.session")), locker, nil
	case SessionBackendDynamo, "dynamo":
		if dynamo == nil {
			return nil, nil, errors.New("bootstrap: dynamodb session backend selected without a client")
		}
		return session.NewDynamoStore(dynamo, cfg.SessionTable, ttl), locker, nil
	case SessionBackendMemory:
		return session.NewMemoryStore(ttl), locker, nil
	}
	return nil, nil, fmt.Errorf("bootstrap: unknown session backend %q", cfg.SessionBackend)
}

// BuildDirectory reads identities from Postgres, cached in Redis when
// available.
func BuildDirectory(cfg *appconfig.Config, db *sql.DB, redisClient redis.Cmdable, logger *logging.Logger) (identity.Directory, error) {
	if db == nil {
		return nil, errors.New("bootstrap: DATABASE_URL is required for the identity directory")
	}
	var dir identity.Directory = identity.NewPostgresDirectory(db)
	if redisClient != nil && cfg != nil && cfg.ReferenceTTL > 0 {
		dir = identity.NewCachedDirectory(dir, redisClient, cfg.ReferenceTTL, logger)
	}
	return dir, nil
}

// BuildInvites returns the invite store.
func BuildInvites(pool *pgxpool.Pool) (registration.Invites, error) {
	if pool == nil {
		return nil, errors.New("bootstrap: DATABASE_URL is required for invites")
	}
	return registration.NewPostgresInvites(pool), nil
}

// ProcessedEvents is the idempotency store as both the pipeline and the
// purger see it.
type ProcessedEvents interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BuildProcessedEvents keeps provider message ids in Postgres, or in memory
// when no database is configured.
func BuildProcessedEvents(pool *pgxpool.Pool, logger *logging.Logger) ProcessedEvents {
	if pool == nil {
		if logger != nil {
			logger.Warn("no database configured; duplicate detection is per process")
		}
		return events.NewMemoryProcessedStore()
	}
	return events.NewProcessedStore(pool)
}
