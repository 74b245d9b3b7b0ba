package quota

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/switchboard/internal/store"
)

// StoreLedger persists usage in Postgres via the store's single-statement
// upsert, which performs the ceiling check and the increment atomically.
type StoreLedger struct {
	st     *store.Store
	limits Limits
	now    func() time.Time
}

func NewStoreLedger(st *store.Store, limits Limits) *StoreLedger {
	return &StoreLedger{st: st, limits: limits, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (l *StoreLedger) WithClock(now func() time.Time) *StoreLedger {
	l.now = now
	return l
}

func (l *StoreLedger) CheckAndConsume(ctx context.Context, caller Caller) (Remaining, error) {
	limit := l.limits.ForClass(caller.Class)
	used, ok, err := l.st.ConsumeQuota(ctx, caller.Key, l.now(), limit)
	if err != nil {
		return Remaining{}, err
	}
	if !ok {
		return Remaining{}, ErrExceeded{Max: limit}
	}
	return Remaining{Remaining: limit - used, Max: limit}, nil
}
