// README: Dispatch log for scheduled reservations, so the scheduler does
// not re-notify on every tick.
package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"wheels/internal/types"
)

type DispatchLog interface {
	LastDispatch(ctx context.Context, entryID types.ID) (time.Time, bool, error)
	MarkDispatched(ctx context.Context, entryID types.ID) error
}

const (
	dispatchKeyPrefix = "match:entry:%s:dispatched_at"
	// Reservations resolve well within a week.
	dispatchKeyTTL = 7 * 24 * time.Hour
)

type RedisDispatchLog struct {
	redis *redis.Client
}

func NewRedisDispatchLog(redis *redis.Client) *RedisDispatchLog {
	return &RedisDispatchLog{redis: redis}
}

func (l *RedisDispatchLog) LastDispatch(ctx context.Context, entryID types.ID) (time.Time, bool, error) {
	val, err := l.redis.Get(ctx, dispatchKey(entryID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (l *RedisDispatchLog) MarkDispatched(ctx context.Context, entryID types.ID) error {
	return l.redis.Set(ctx, dispatchKey(entryID), time.Now().UTC().Format(time.RFC3339), dispatchKeyTTL).Err()
}

func dispatchKey(entryID types.ID) string {
	return fmt.Sprintf(dispatchKeyPrefix, string(entryID))
}

type MemDispatchLog struct {
	mu   sync.Mutex
	last map[types.ID]time.Time
}

func NewMemDispatchLog() *MemDispatchLog {
	return &MemDispatchLog{last: make(map[types.ID]time.Time)}
}

func (l *MemDispatchLog) LastDispatch(_ context.Context, entryID types.ID) (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.last[entryID]
	return t, ok, nil
}

func (l *MemDispatchLog) MarkDispatched(_ context.Context, entryID types.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last[entryID] = time.Now().UTC()
	return nil
}
