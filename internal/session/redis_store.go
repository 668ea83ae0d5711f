package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RedisStore keeps one key per phone per record type.
type RedisStore struct {
	redis  redis.Cmdable
	ttl    TTLs
	tracer trace.Tracer
}

func NewRedisStore(client redis.Cmdable, ttl TTLs, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("fieldhand.internal.session")
	}
	return &RedisStore{redis: client, ttl: ttl, tracer: tracer}
}

func pendingKey(phone string) string {
	return fmt.Sprintf("session:pending:%s", phone)
}

func registrationKey(phone string) string {
	return fmt.Sprintf("session:registration:%s", phone)
}

func (s *RedisStore) Get(ctx context.Context, phone string) (*PendingConfirmation, error) {
	ctx, span := s.tracer.Start(ctx, "session.get", trace.WithAttributes(attribute.String("phone", phone)))
	defer span.End()

	data, err := s.redis.Get(ctx, pendingKey(phone)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load continuation: %w", err)
	}
	var pending PendingConfirmation
	if err := json.Unmarshal(data, &pending); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to decode continuation: %w", err)
	}
	return &pending, nil
}

func (s *RedisStore) Upsert(ctx context.Context, pending PendingConfirmation) error {
	ctx, span := s.tracer.Start(ctx, "session.upsert", trace.WithAttributes(
		attribute.String("phone", pending.Phone),
		attribute.String("tag", string(pending.Tag)),
	))
	defer span.End()

	data, err := json.Marshal(pending)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to marshal continuation: %w", err)
	}
	if err := s.redis.Set(ctx, pendingKey(pending.Phone), data, s.ttl.Continuation).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist continuation: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, phone string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "session.delete", trace.WithAttributes(attribute.String("phone", phone)))
	defer span.End()

	n, err := s.redis.Del(ctx, pendingKey(phone)).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("session: failed to delete continuation: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) GetRegistration(ctx context.Context, phone string) (*PendingRegistration, error) {
	ctx, span := s.tracer.Start(ctx, "session.get_registration")
	defer span.End()

	data, err := s.redis.Get(ctx, registrationKey(phone)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load registration: %w", err)
	}
	var reg PendingRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to decode registration: %w", err)
	}
	return &reg, nil
}

func (s *RedisStore) UpsertRegistration(ctx context.Context, reg PendingRegistration) error {
	ctx, span := s.tracer.Start(ctx, "session.upsert_registration")
	defer span.End()

	data, err := json.Marshal(reg)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to marshal registration: %w", err)
	}
	if err := s.redis.Set(ctx, registrationKey(reg.Phone), data, s.ttl.Registration).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist registration: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteRegistration(ctx context.Context, phone string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "session.delete_registration")
	defer span.End()

	n, err := s.redis.Del(ctx, registrationKey(phone)).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("session: failed to delete registration: %w", err)
	}
	return n > 0, nil
}
