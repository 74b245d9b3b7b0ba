package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/switchboard/internal/store"
)

// Maintenance prunes expired quota ledger rows on a schedule. The redis lock
// keeps multiple instances from pruning at the same time.
type Maintenance struct {
	Store  *store.Store
	Rdb    *redis.Client
	Cron   string
	Stop   chan struct{}
	Logger *log.Logger

	lastRun time.Time
}

func (m *Maintenance) Start() {
	if m.Logger == nil {
		m.Logger = log.New(log.Writer(), "[MAINT] ", log.LstdFlags)
	}
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-m.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
}

func (m *Maintenance) tick() {
	ctx := context.Background()
	if !isDue(m.Cron, m.lastRun) {
		return
	}

	if m.Rdb != nil {
		ok, _ := m.Rdb.SetNX(ctx, "maintenance:lock:quota-prune", "1", 2*time.Minute).Result()
		if !ok {
			return
		}
		defer m.Rdb.Del(ctx, "maintenance:lock:quota-prune")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -1)
	n, err := m.Store.PruneQuotaBefore(ctx, cutoff)
	if err != nil {
		m.Logger.Printf("quota prune failed: %v", err)
		return
	}
	m.lastRun = time.Now()
	if n > 0 {
		m.Logger.Printf("pruned %d expired quota rows", n)
	}
}

// isDue determines whether the schedule fires now given the last run time.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		return last.IsZero() || now.Sub(last) >= 24*time.Hour
	case "@hourly":
		return last.IsZero() || now.Sub(last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			return last.IsZero() || now.Sub(last) >= 24*time.Hour
		}
		if last.IsZero() {
			return true
		}
		return !expr.Next(last).After(now)
	}
}
