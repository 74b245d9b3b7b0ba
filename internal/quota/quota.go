package quota

import (
	"context"
	"fmt"
	"time"
)

// Class distinguishes caller allowance tiers.
type Class string

const (
	ClassUser  Class = "user"
	ClassGuest Class = "guest"
)

// Caller is an opaque quota key plus its allowance class. For authenticated
// callers the key is the user id; for guests it is a fingerprint derived by
// the integration layer.
type Caller struct {
	Key   string
	Class Class
}

// Remaining reports the allowance left after a successful consumption.
type Remaining struct {
	Remaining int64
	Max       int64
}

// ErrExceeded is returned when the caller's daily allowance is spent.
type ErrExceeded struct {
	Max int64
}

func (e ErrExceeded) Error() string {
	return fmt.Sprintf("daily quota exceeded (%d/day)", e.Max)
}

// Limits holds per-class daily allowances.
type Limits struct {
	User  int64
	Guest int64
}

// ForClass returns the allowance for a caller class.
func (l Limits) ForClass(c Class) int64 {
	if c == ClassUser {
		return l.User
	}
	return l.Guest
}

// Ledger atomically checks and consumes one unit of a caller's daily
// allowance. Implementations must guarantee that concurrent calls for the
// same caller never over-consume: with one unit left, exactly one of K
// simultaneous calls succeeds.
type Ledger interface {
	CheckAndConsume(ctx context.Context, caller Caller) (Remaining, error)
}

// DayKey formats the calendar day (UTC) used to key ledger records.
func DayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// EndOfDay returns the instant the current UTC day rolls over.
func EndOfDay(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
