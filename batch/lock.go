package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLock serializes batch runs of the same kind. Acquire fails with
// ErrRunInProgress when the run is already held; the returned release
// function is safe to call once.
type RunLock interface {
	Acquire(ctx context.Context, name string) (release func(), err error)
}

// ---------------------------------------------------------------------------
// LocalLock
// ---------------------------------------------------------------------------

// LocalLock is an in-process RunLock.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]bool
}

var _ RunLock = (*LocalLock)(nil)

// NewLocalLock creates an in-process lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]bool)}
}

// Acquire marks name as running.
func (l *LocalLock) Acquire(ctx context.Context, name string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, name)
	}
	l.held[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}

// ---------------------------------------------------------------------------
// RedisLock
// ---------------------------------------------------------------------------

// DefaultLockTTL bounds how long a crashed runner can hold a lease.
const DefaultLockTTL = 30 * time.Minute

const lockKeyPrefix = "payplan:batch:"

// releaseScript deletes the lease only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock is a RunLock shared by every runner pointed at the same Redis,
// so a batch started from the CLI and one started over HTTP cannot
// overlap. Leases expire after the TTL.
type RedisLock struct {
	client redis.UniversalClient
	// TODO: extend the lease from a heartbeat for runs that outlive the TTL.
	ttl time.Duration
}

var _ RunLock = (*RedisLock)(nil)

// NewRedisLock creates a RedisLock. A non-positive ttl uses DefaultLockTTL.
func NewRedisLock(client redis.UniversalClient, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLock{client: client, ttl: ttl}
}

// Acquire takes the lease for name with SET NX.
func (l *RedisLock) Acquire(ctx context.Context, name string) (func(), error) {
	key := lockKeyPrefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("batch: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, name)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// An expired lease already taken by another runner is left alone.
			_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
		})
	}, nil
}
