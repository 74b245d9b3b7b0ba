package quota

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger keys one counter per caller per UTC day and relies on INCR
// atomicity for the check-and-consume contract. Keys expire shortly after the
// day rolls over, so no explicit reset is needed.
type RedisLedger struct {
	rdb    *redis.Client
	limits Limits
	now    func() time.Time
}

func NewRedisLedger(rdb *redis.Client, limits Limits) *RedisLedger {
	return &RedisLedger{rdb: rdb, limits: limits, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (r *RedisLedger) WithClock(now func() time.Time) *RedisLedger {
	r.now = now
	return r
}

// Key returns the ledger key for a caller at the given instant.
func (r *RedisLedger) Key(caller Caller, now time.Time) string {
	return "quota:" + caller.Key + ":" + DayKey(now)
}

func (r *RedisLedger) CheckAndConsume(ctx context.Context, caller Caller) (Remaining, error) {
	limit := r.limits.ForClass(caller.Class)
	now := r.now()
	key := r.Key(caller, now)

	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Remaining{}, err
	}
	if n == 1 {
		// Keep the key an hour past rollover so slow readers still see it.
		_ = r.rdb.ExpireAt(ctx, key, EndOfDay(now).Add(time.Hour)).Err()
	}
	if n > limit {
		return Remaining{}, ErrExceeded{Max: limit}
	}
	return Remaining{Remaining: limit - n, Max: limit}, nil
}
