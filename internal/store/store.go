package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/switchboard/config"
)

// Store wraps the Postgres connection used for users, the agent registry and
// the durable quota ledger.
type Store struct {
	DB *sql.DB
}

// ErrNotFound indicates the requested row does not exist or the caller does
// not own it.
var ErrNotFound = errors.New("not found")

// Agent is a registered remote agent descriptor.
type Agent struct {
	ID          string
	Name        string
	URL         string
	OwnerID     string
	Visibility  string
	Categories  []string
	Description string
	PublicKey   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// New constructs the Store from config.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Agent registry operations

func (s *Store) CreateAgent(ctx context.Context, a Agent) error {
	if len(a.Categories) == 0 {
		return fmt.Errorf("agent must declare at least one category")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO agents (id, name, url, owner_id, visibility, categories, description, public_key)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		strings.ToLower(a.ID), a.Name, a.URL, a.OwnerID, a.Visibility, pq.Array(a.Categories), a.Description, a.PublicKey)
	return err
}

func (s *Store) GetAgent(ctx context.Context, id string) (Agent, bool, error) {
	var a Agent
	err := s.DB.QueryRowContext(ctx, `
SELECT id, name, url, owner_id, visibility, categories, description, public_key, created_at, updated_at
FROM agents WHERE id=$1`, strings.ToLower(id)).
		Scan(&a.ID, &a.Name, &a.URL, &a.OwnerID, &a.Visibility, pq.Array(&a.Categories), &a.Description, &a.PublicKey, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, err
	}
	return a, true, nil
}

func (s *Store) ListAgentsByOwner(ctx context.Context, ownerID string) ([]Agent, error) {
	return s.queryAgents(ctx, `
SELECT id, name, url, owner_id, visibility, categories, description, public_key, created_at, updated_at
FROM agents WHERE owner_id::text=$1 ORDER BY created_at DESC`, ownerID)
}

func (s *Store) ListAllAgents(ctx context.Context) ([]Agent, error) {
	return s.queryAgents(ctx, `
SELECT id, name, url, owner_id, visibility, categories, description, public_key, created_at, updated_at
FROM agents ORDER BY created_at DESC`)
}

// FindAgentsByCategory returns the union of public agents matching category
// and the caller's own private agents matching category.
func (s *Store) FindAgentsByCategory(ctx context.Context, category, callerID string) ([]Agent, error) {
	return s.queryAgents(ctx, `
SELECT id, name, url, owner_id, visibility, categories, description, public_key, created_at, updated_at
FROM agents
WHERE $1 = ANY(categories) AND (visibility='public' OR owner_id::text=$2)
ORDER BY id`, category, callerID)
}

// UpdateAgent mutates url, name, categories, visibility and description.
// Only the owner may update; ErrNotFound otherwise.
func (s *Store) UpdateAgent(ctx context.Context, a Agent) error {
	if len(a.Categories) == 0 {
		return fmt.Errorf("agent must declare at least one category")
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE agents SET name=$3, url=$4, visibility=$5, categories=$6, description=$7, updated_at=now()
WHERE id=$1 AND owner_id::text=$2`,
		strings.ToLower(a.ID), a.OwnerID, a.Name, a.URL, a.Visibility, pq.Array(a.Categories), a.Description)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent removes an agent. Only the owner may delete.
func (s *Store) DeleteAgent(ctx context.Context, id, ownerID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM agents WHERE id=$1 AND owner_id::text=$2`, strings.ToLower(id), ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryAgents(ctx context.Context, q string, args ...interface{}) ([]Agent, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.URL, &a.OwnerID, &a.Visibility, pq.Array(&a.Categories), &a.Description, &a.PublicKey, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Quota ledger operations

// ConsumeQuota atomically increments the caller's usage for the given day if
// and only if it is still below limit. The check and increment are a single
// statement, so concurrent calls for the same caller cannot both pass with
// one unit remaining.
func (s *Store) ConsumeQuota(ctx context.Context, callerID string, day time.Time, limit int64) (used int64, ok bool, err error) {
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO quota_usage (caller_id, day, used) VALUES ($1,$2,1)
ON CONFLICT (caller_id, day) DO UPDATE SET used = quota_usage.used + 1, updated_at = now()
WHERE quota_usage.used < $3
RETURNING used`, callerID, day.UTC().Format("2006-01-02"), limit).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return used, true, nil
}

// PruneQuotaBefore deletes ledger rows older than the given day.
func (s *Store) PruneQuotaBefore(ctx context.Context, day time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM quota_usage WHERE day < $1`, day.UTC().Format("2006-01-02"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
