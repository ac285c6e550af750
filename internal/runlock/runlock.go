// Package runlock keeps pipeline runs from overlapping.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrLocked is returned when another run holds the lock.
	ErrLocked = errors.New("run already in progress")
	// ErrNotHeld means the key expired or was taken over before release.
	ErrNotHeld = errors.New("lock no longer held")
)

// Locker hands out the run lock. Acquire never blocks waiting for a holder.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Local is an in-process lock.
type Local struct {
	mu sync.Mutex
}

func NewLocal() *Local { return &Local{} }

func (l *Local) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.mu.TryLock() {
		return nil, ErrLocked
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a lock shared by every process pointed at the same key.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed lock. The TTL bounds how long a crashed holder
// keeps others out.
func NewRedis(client redis.UniversalClient, key string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: key, ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", r.key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// the run context may already be done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.release(ctx, token); err != nil {
				log.Warn().Err(err).Str("key", r.key).Dur("ttl", r.ttl).Msg("run lock release failed, key stays until ttl")
			}
		})
	}, nil
}

func (r *Redis) release(ctx context.Context, token string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", r.key, err)
	}
	if n == 0 {
		return fmt.Errorf("release %s: %w", r.key, ErrNotHeld)
	}
	return nil
}

// Noop never blocks anything.
type Noop struct{}

func (Noop) Acquire(context.Context) (func(), error) { return func() {}, nil }
