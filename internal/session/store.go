package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Store keeps at most one PendingConfirmation and one PendingRegistration per
// phone. Get methods return nil, nil when nothing is stored. Writes always
// replace the whole record.
type Store interface {
	Get(ctx context.Context, phone string) (*PendingConfirmation, error)
	Upsert(ctx context.Context, pending PendingConfirmation) error
	Delete(ctx context.Context, phone string) (bool, error)

	GetRegistration(ctx context.Context, phone string) (*PendingRegistration, error)
	UpsertRegistration(ctx context.Context, reg PendingRegistration) error
	DeleteRegistration(ctx context.Context, phone string) (bool, error)
}

// TTLs controls record expiry. Zero disables expiry for that record type.
type TTLs struct {
	Continuation time.Duration
	Registration time.Duration
}

// MemoryStore is an in-process Store for tests and single-binary development.
type MemoryStore struct {
	mu            sync.Mutex
	ttl           TTLs
	now           func() time.Time
	pending       map[string]memEntry[PendingConfirmation]
	registrations map[string]memEntry[PendingRegistration]
}

type memEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e memEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func NewMemoryStore(ttl TTLs) *MemoryStore {
	return &MemoryStore{
		ttl:           ttl,
		now:           time.Now,
		pending:       make(map[string]memEntry[PendingConfirmation]),
		registrations: make(map[string]memEntry[PendingRegistration]),
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (s *MemoryStore) Get(ctx context.Context, phone string) (*PendingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[phone]
	if !ok || e.expired(s.now()) {
		return nil, nil
	}
	v := e.value
	return &v, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, pending PendingConfirmation) error {
	// Round-trip through JSON so callers cannot alias stored payloads.
	stored, err := clonePending(pending)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pending[pending.Phone] = memEntry[PendingConfirmation]{value: stored, expiresAt: expiry(now, s.ttl.Continuation)}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[phone]
	delete(s.pending, phone)
	return ok && !e.expired(s.now()), nil
}

func (s *MemoryStore) GetRegistration(ctx context.Context, phone string) (*PendingRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.registrations[phone]
	if !ok || e.expired(s.now()) {
		return nil, nil
	}
	v := e.value
	return &v, nil
}

func (s *MemoryStore) UpsertRegistration(ctx context.Context, reg PendingRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[reg.Phone] = memEntry[PendingRegistration]{value: reg, expiresAt: expiry(s.now(), s.ttl.Registration)}
	return nil
}

func (s *MemoryStore) DeleteRegistration(ctx context.Context, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.registrations[phone]
	delete(s.registrations, phone)
	return ok && !e.expired(s.now()), nil
}

func clonePending(p PendingConfirmation) (PendingConfirmation, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return PendingConfirmation{}, err
	}
	var out PendingConfirmation
	if err := json.Unmarshal(data, &out); err != nil {
		return PendingConfirmation{}, err
	}
	return out, nil
}
