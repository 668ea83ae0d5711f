package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a lock could not be acquired before the
// context ended.
var ErrLockTimeout = errors.New("session: lock wait exceeded")

// Locker serializes work per key. The returned unlock func is idempotent.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is a per-key semaphore for a single process. An entry lives
// only while somebody holds or waits on it.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localLock{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry)
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(key, entry)
		})
	}, nil
}

func (l *LocalLocker) release(key string, entry *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 && l.locks[key] == entry {
		delete(l.locks, key)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a lease-based lock shared by every worker pointing at the
// same Redis. A holder keeps extending its lease until it unlocks, so the
// lease only bounds how long a crashed holder blocks the phone.
type RedisLocker struct {
	redis redis.Cmdable
	lease time.Duration
	retry time.Duration
	renew time.Duration
}

func NewRedisLocker(client redis.Cmdable, lease time.Duration) *RedisLocker {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if lease <= 0 {
		lease = time.Minute
	}
	renew := lease / 3
	if renew <= 0 {
		renew = lease
	}
	return &RedisLocker{redis: client, lease: lease, retry: 50 * time.Millisecond, renew: renew}
}

func lockKey(key string) string {
	return "lock:phone:" + key
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	rkey := lockKey(key)
	for {
		ok, err := l.redis.SetNX(ctx, rkey, token, l.lease).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("session: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(rkey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's context may already be done.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.redis, []string{rkey}, token).Err()
		})
	}, nil
}

// keepAlive extends the lease while the lock is held. It gives up once the
// key no longer carries this holder's token.
func (l *RedisLocker) keepAlive(rkey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.renew)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.renew)
		n, err := renewScript.Run(ctx, l.redis, []string{rkey}, token, l.lease.Milliseconds()).Int64()
		cancel()
		if err == nil && n == 0 {
			return
		}
	}
}
