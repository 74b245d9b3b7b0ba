package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryLedgerConsumesDownToZero(t *testing.T) {
	led := NewMemoryLedger(Limits{User: 5, Guest: 1})
	caller := Caller{Key: "u1", Class: ClassUser}

	for want := int64(4); want >= 0; want-- {
		rem, err := led.CheckAndConsume(context.Background(), caller)
		if err != nil {
			t.Fatalf("CheckAndConsume: %v", err)
		}
		if rem.Remaining != want || rem.Max != 5 {
			t.Fatalf("expected remaining=%d max=5, got %+v", want, rem)
		}
	}

	_, err := led.CheckAndConsume(context.Background(), caller)
	var exceeded ErrExceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ErrExceeded, got %v", err)
	}
	if exceeded.Max != 5 {
		t.Fatalf("expected max=5 in error, got %+v", exceeded)
	}
}

func TestMemoryLedgerGuestLimit(t *testing.T) {
	led := NewMemoryLedger(Limits{User: 5, Guest: 1})
	caller := Caller{Key: "fp-abc", Class: ClassGuest}

	rem, err := led.CheckAndConsume(context.Background(), caller)
	if err != nil {
		t.Fatalf("CheckAndConsume: %v", err)
	}
	if rem.Remaining != 0 || rem.Max != 1 {
		t.Fatalf("expected 0/1 after first guest use, got %+v", rem)
	}
	if _, err := led.CheckAndConsume(context.Background(), caller); err == nil {
		t.Fatal("expected second guest use to be rejected")
	}
}

// With one unit left, exactly one of K concurrent consumers may succeed.
func TestMemoryLedgerConcurrentSingleUnit(t *testing.T) {
	led := NewMemoryLedger(Limits{User: 1, Guest: 1})
	caller := Caller{Key: "u-race", Class: ClassUser}

	const k = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := led.CheckAndConsume(context.Background(), caller); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly 1 success out of %d concurrent consumers, got %d", k, successes)
	}
}

func TestMemoryLedgerDayRollover(t *testing.T) {
	day1 := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	now := day1
	led := NewMemoryLedger(Limits{User: 5, Guest: 1}).WithClock(func() time.Time { return now })
	caller := Caller{Key: "fp-roll", Class: ClassGuest}

	if _, err := led.CheckAndConsume(context.Background(), caller); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if _, err := led.CheckAndConsume(context.Background(), caller); err == nil {
		t.Fatal("expected exhaustion on same day")
	}

	now = day1.Add(2 * time.Hour) // past midnight UTC
	rem, err := led.CheckAndConsume(context.Background(), caller)
	if err != nil {
		t.Fatalf("expected fresh allowance after rollover: %v", err)
	}
	if rem.Remaining != 0 || rem.Max != 1 {
		t.Fatalf("unexpected remaining after rollover: %+v", rem)
	}
}

func TestDayHelpers(t *testing.T) {
	at := time.Date(2024, 3, 9, 17, 30, 0, 0, time.FixedZone("UTC+3", 3*3600))
	if got := DayKey(at); got != "2024-03-09" {
		t.Fatalf("DayKey = %q", got)
	}
	end := EndOfDay(at)
	if !end.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("EndOfDay = %v", end)
	}
}

func TestRedisLedgerKeyShape(t *testing.T) {
	led := NewRedisLedger(nil, Limits{User: 5, Guest: 1})
	at := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	got := led.Key(Caller{Key: "user:u1", Class: ClassUser}, at)
	if got != "quota:user:u1:2024-03-09" {
		t.Fatalf("Key = %q", got)
	}
}
