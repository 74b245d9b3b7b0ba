package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/switchboard/internal/store"
)

func TestStoreAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "switchboard",
				"POSTGRES_PASSWORD": "switchboard",
				"POSTGRES_DB":       "switchboard",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://switchboard:switchboard@%s:%s/switchboard?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		t.Fatalf("migrate init: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}

	if err := st.CreateUser(ctx, "owner@example.com", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	ownerID, _, err := st.GetUserByEmail(ctx, "owner@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}

	agent := store.Agent{
		ID:          "movie-bot",
		Name:        "Movie Bot",
		URL:         "https://agents.example.com/movies",
		OwnerID:     ownerID,
		Visibility:  store.VisibilityPublic,
		Categories:  []string{"Movie"},
		Description: "finds movies",
	}
	if err := st.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	found, err := st.FindAgentsByCategory(ctx, "Movie", "someone-else")
	if err != nil {
		t.Fatalf("find agents: %v", err)
	}
	if len(found) != 1 || found[0].ID != "movie-bot" {
		t.Fatalf("unexpected agents: %+v", found)
	}

	day := time.Now().UTC()
	for i := int64(1); i <= 2; i++ {
		used, ok, err := st.ConsumeQuota(ctx, "caller-1", day, 2)
		if err != nil || !ok || used != i {
			t.Fatalf("consume %d: used=%d ok=%v err=%v", i, used, ok, err)
		}
	}
	if _, ok, err := st.ConsumeQuota(ctx, "caller-1", day, 2); err != nil || ok {
		t.Fatalf("expected quota exhausted, ok=%v err=%v", ok, err)
	}

	pruned, err := st.PruneQuotaBefore(ctx, day.AddDate(0, 0, 1))
	if err != nil || pruned != 1 {
		t.Fatalf("prune: pruned=%d err=%v", pruned, err)
	}
}
