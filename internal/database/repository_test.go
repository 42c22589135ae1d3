package database

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"spreadwatch/internal/config"
	"spreadwatch/internal/model"
)

var (
	pool *pgxpool.Pool
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "watch",
			"POSTGRES_PASSWORD": "watch-secret",
			"POSTGRES_DB":       "spreads",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("could not start postgres container: %s", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		log.Fatalf("could not get container host: %s", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("could not get mapped port: %s", err)
	}

	cfg := config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "watch",
		Password: "watch-secret",
		DBName:   "spreads",
	}

	// The listening port can open before postgres accepts connections.
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err = NewPool(ctx, cfg)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		log.Fatalf("could not connect to database: %s", err)
	}

	code := m.Run()

	pool.Close()
	if err := pgContainer.Terminate(ctx); err != nil {
		log.Fatalf("could not stop postgres container: %s", err)
	}
	os.Exit(code)
}

func TestConnString(t *testing.T) {
	got := ConnString(config.DatabaseConfig{Host: "db", Port: 5432, User: "watch", Password: "p@ss", DBName: "spreads"})
	assert.Equal(t, "postgres://watch:p%40ss@db:5432/spreads", got)
}

func TestPostgresRepository_SpreadAlerts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()
	repo := &PostgresRepository{Pool: pool}

	require.NoError(t, repo.Migrate(ctx))
	require.NoError(t, repo.Migrate(ctx), "migrate is repeatable")

	base := time.Now().UTC().Truncate(time.Millisecond)
	alerts := []model.SpreadAlert{
		{ID: uuid.NewString(), Timestamp: base, Symbol: "BTC", HighVenue: model.VenueVertex, LowVenue: model.VenueReya, HighPrice: 64100, LowPrice: 62000, SpreadPercent: 3.387097},
		{ID: uuid.NewString(), Timestamp: base.Add(time.Second), Symbol: "ETH", HighVenue: model.VenueReya, LowVenue: model.VenueVertex, HighPrice: 3200, LowPrice: 3100, SpreadPercent: 3.225806},
		{ID: uuid.NewString(), Timestamp: base.Add(2 * time.Second), Symbol: "BTC", HighVenue: model.VenueReya, LowVenue: model.VenueVertex, HighPrice: 65000, LowPrice: 63000, SpreadPercent: 3.174603},
	}
	for _, a := range alerts {
		assert.NoError(t, repo.LogSpreadAlert(ctx, a))
	}

	btc, err := repo.RecentSpreadAlerts(ctx, "BTC", 10)
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, alerts[2].ID, btc[0].ID)
	assert.Equal(t, model.VenueReya, btc[0].HighVenue)
	assert.Equal(t, model.VenueVertex, btc[0].LowVenue)
	assert.InDelta(t, 65000.0, btc[0].HighPrice, 1e-9)
	assert.InDelta(t, 3.174603, btc[0].SpreadPercent, 1e-9)
	assert.True(t, alerts[2].Timestamp.Equal(btc[0].Timestamp))

	all, err := repo.RecentSpreadAlerts(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "BTC", all[0].Symbol)
	assert.Equal(t, "ETH", all[1].Symbol)

	assert.Error(t, repo.LogSpreadAlert(ctx, alerts[0]), "duplicate id")
}
