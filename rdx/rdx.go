package rdx

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("lock not acquired")

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// Locker hands out short-lived SETNX locks.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// Acquire takes key and returns a release func. ErrLockNotAcquired means
// someone else holds it.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	release := func() {
		// only delete our own lock; it may have expired and been retaken
		if err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			log.Printf("redis lock release %s: %v", key, err)
		}
	}
	return release, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// EventLog remembers processed external event ids for a retention window.
type EventLog struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewEventLog(client *redis.Client, prefix string, ttl time.Duration) *EventLog {
	return &EventLog{client: client, prefix: prefix, ttl: ttl}
}

func (e *EventLog) Seen(ctx context.Context, id string) (bool, error) {
	n, err := e.client.Exists(ctx, e.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (e *EventLog) MarkSeen(ctx context.Context, id string) error {
	if err := e.client.Set(ctx, e.prefix+id, "1", e.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
