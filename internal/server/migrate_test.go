package server

import (
	"errors"
	"fmt"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

func TestIgnoreNoChange(t *testing.T) {
	if err := ignoreNoChange(migrate.ErrNoChange); err != nil {
		t.Fatalf("ErrNoChange must not fail startup: %v", err)
	}
	if err := ignoreNoChange(fmt.Errorf("apply 0001: %w", migrate.ErrNoChange)); err != nil {
		t.Fatalf("wrapped ErrNoChange must not fail startup: %v", err)
	}
	boom := errors.New("dirty database version 1")
	if err := ignoreNoChange(boom); !errors.Is(err, boom) {
		t.Fatalf("real migration error was swallowed: %v", err)
	}
	if err := ignoreNoChange(nil); err != nil {
		t.Fatalf("nil error: %v", err)
	}
}
