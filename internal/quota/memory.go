package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-process ledger guarded by a single mutex. It is the
// dev-mode and test backend; durability across restarts comes from the redis
// or postgres backends.
type MemoryLedger struct {
	limits Limits
	now    func() time.Time

	mu   sync.Mutex
	used map[string]int64 // caller key + day -> used
}

func NewMemoryLedger(limits Limits) *MemoryLedger {
	return &MemoryLedger{limits: limits, now: time.Now, used: make(map[string]int64)}
}

// WithClock overrides the time source. Tests only.
func (m *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	m.now = now
	return m
}

func (m *MemoryLedger) CheckAndConsume(ctx context.Context, caller Caller) (Remaining, error) {
	limit := m.limits.ForClass(caller.Class)
	key := caller.Key + "@" + DayKey(m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used[key] >= limit {
		return Remaining{}, ErrExceeded{Max: limit}
	}
	m.used[key]++
	return Remaining{Remaining: limit - m.used[key], Max: limit}, nil
}
