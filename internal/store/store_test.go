package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestConsumeQuotaBelowLimit(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO quota_usage`).
		WithArgs("user:u1", "2024-03-09", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(int64(3)))

	day := time.Date(2024, 3, 9, 15, 4, 0, 0, time.UTC)
	used, ok, err := s.ConsumeQuota(context.Background(), "user:u1", day, 5)
	if err != nil {
		t.Fatalf("ConsumeQuota: %v", err)
	}
	if !ok || used != 3 {
		t.Fatalf("expected ok with used=3, got ok=%v used=%d", ok, used)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConsumeQuotaExhausted(t *testing.T) {
	s, mock := newMock(t)

	// The upsert's WHERE clause filters the row out when used >= limit,
	// which surfaces as no rows returned.
	mock.ExpectQuery(`INSERT INTO quota_usage`).
		WithArgs("guest:abc", "2024-03-09", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"used"}))

	day := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	_, ok, err := s.ConsumeQuota(context.Background(), "guest:abc", day, 1)
	if err != nil {
		t.Fatalf("ConsumeQuota: %v", err)
	}
	if ok {
		t.Fatal("expected exhausted quota to report ok=false")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindAgentsByCategoryVisibility(t *testing.T) {
	s, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"id", "name", "url", "owner_id", "visibility", "categories", "description", "public_key", "created_at", "updated_at"}).
		AddRow("cinebot", "CineBot", "https://cine.example.com/ask", "owner-1", "public", pq.Array([]string{"Movie"}), "", "", time.Now(), time.Now()).
		AddRow("privmovies", "My Movies", "https://priv.example.com/ask", "caller-9", "private", pq.Array([]string{"Movie"}), "", "", time.Now(), time.Now())

	mock.ExpectQuery(`FROM agents\s+WHERE \$1 = ANY\(categories\) AND \(visibility='public' OR owner_id::text=\$2\)`).
		WithArgs("Movie", "caller-9").
		WillReturnRows(rows)

	agents, err := s.FindAgentsByCategory(context.Background(), "Movie", "caller-9")
	if err != nil {
		t.Fatalf("FindAgentsByCategory: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].ID != "cinebot" || agents[1].ID != "privmovies" {
		t.Fatalf("unexpected agents: %+v", agents)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateAgentNotOwner(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(`UPDATE agents SET`).
		WithArgs("cinebot", "intruder", "CineBot", "https://cine.example.com/ask", "public", pq.Array([]string{"Movie"}), "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateAgent(context.Background(), Agent{
		ID:         "CineBot",
		OwnerID:    "intruder",
		Name:       "CineBot",
		URL:        "https://cine.example.com/ask",
		Visibility: "public",
		Categories: []string{"Movie"},
	})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteAgentOwner(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(`DELETE FROM agents WHERE id=\$1 AND owner_id::text=\$2`).
		WithArgs("cinebot", "owner-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.DeleteAgent(context.Background(), "CineBot", "owner-1"); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
