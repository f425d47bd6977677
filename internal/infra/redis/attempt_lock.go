package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"school-quiz-service/internal/app"
	"school-quiz-service/internal/domain"
)

const defaultPollInterval = 25 * time.Millisecond

// releaseScript deletes the lock only while it still carries the caller's token, so an
// expired holder cannot release a lock someone else has taken since.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AttemptLock serializes attempt recording across service instances. Each key is held
// with SET NX PX; the TTL bounds how long a crashed holder can block others.
type AttemptLock struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
	prefix string
}

var _ app.AttemptLocker = (*AttemptLock)(nil)

func NewAttemptLock(client *redis.Client, ttl time.Duration) *AttemptLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &AttemptLock{
		client: client,
		ttl:    ttl,
		poll:   defaultPollInterval,
		prefix: "quiz:lock:",
	}
}

// Lock blocks until key is acquired or ctx ends. A ctx that ends first yields
// domain.ErrConflict; Redis failures yield domain.ErrStoreUnavailable.
func (l *AttemptLock) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: lock %s: %v", domain.ErrConflict, key, ctxErr)
			}
			return nil, fmt.Errorf("%w: lock %s: %v", domain.ErrStoreUnavailable, key, err)
		}
		if ok {
			return l.unlocker(redisKey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: lock %s still held: %v", domain.ErrConflict, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *AttemptLock) unlocker(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The request context may already be gone. A failed release is reclaimed by the TTL.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
		})
	}
}
