//go:build integration

package service

import (
	"context"
	"database/sql"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/ledger"
	"github.com/DukeRupert/gambit/internal/migrations"
	"github.com/DukeRupert/gambit/internal/repository"
)

func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := migrations.Up(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// uniqueVisitor returns an address no other run has used.
func uniqueVisitor() netip.Addr {
	return netip.AddrFrom16([16]byte(uuid.New()))
}

func insertAccount(t *testing.T, db *sql.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`INSERT INTO accounts (id) VALUES ($1)`, id)
	require.NoError(t, err)
	return id
}

// seedAnonymousRecords creates one profile, two games and one analysis owned
// by visitor.
func seedAnonymousRecords(t *testing.T, db *sql.DB, visitor netip.Addr) {
	t.Helper()
	key := visitor.String()

	var profileID, gameID uuid.UUID
	require.NoError(t, db.QueryRow(
		`INSERT INTO chess_profiles (anonymous_key, platform, username) VALUES ($1, 'lichess', 'visitor') RETURNING id`,
		key).Scan(&profileID))
	require.NoError(t, db.QueryRow(
		`INSERT INTO games (anonymous_key, profile_id, pgn) VALUES ($1, $2, '1. e4 e5') RETURNING id`,
		key, profileID).Scan(&gameID))
	_, err := db.Exec(`INSERT INTO games (anonymous_key, profile_id, pgn) VALUES ($1, $2, '1. d4 d5')`, key, profileID)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO game_analyses (game_id, anonymous_key) VALUES ($1, $2)`, gameID, key)
	require.NoError(t, err)
}

func TestPostgresClaimStore_Claim(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	window := domain.RollingWindow(24 * time.Hour)

	visitor := uniqueVisitor()
	bystander := uniqueVisitor()
	account := insertAccount(t, db)

	seedAnonymousRecords(t, db, visitor)
	seedAnonymousRecords(t, db, bystander)

	usage := ledger.NewPostgresLedger(db)
	_, _, err := usage.Record(ctx, ledger.Delta{
		Identity:  domain.Anonymous(visitor),
		PeriodKey: window.PeriodKey(),
		Action:    domain.ActionAnalyze,
		Amount:    1,
		Now:       now,
		Cutoff:    window.Cutoff(now),
	})
	require.NoError(t, err)

	store := NewPostgresClaimStore(db)

	first, err := store.Claim(ctx, account, visitor)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimResult{Profiles: 1, Games: 2, Analyses: 1, UsagePeriods: 1}, first)

	second, err := store.Claim(ctx, account, visitor)
	require.NoError(t, err)
	assert.Zero(t, second.Total(), "a second claim re-parents nothing")

	var owned int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM games WHERE user_id = $1`, account).Scan(&owned))
	assert.Equal(t, 2, owned)

	var unclaimed int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM games WHERE anonymous_key = $1 AND user_id IS NULL`, bystander.String()).Scan(&unclaimed))
	assert.Equal(t, 2, unclaimed, "other visitors keep their records")

	p, err := usage.Current(ctx, domain.Anonymous(visitor), window.PeriodKey(), window.Cutoff(now))
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.ClaimedBy)
	assert.Equal(t, domain.Authenticated(account), *p.ClaimedBy)
	assert.Equal(t, 1, p.AnalysesUsed, "claims never merge counters")
}

func TestPostgresClaimStore_UnknownAccountChangesNothing(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()

	visitor := uniqueVisitor()
	seedAnonymousRecords(t, db, visitor)

	_, err := NewPostgresClaimStore(db).Claim(ctx, uuid.New(), visitor)
	require.Error(t, err)

	var unclaimed int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM chess_profiles WHERE anonymous_key = $1 AND user_id IS NULL`, visitor.String()).Scan(&unclaimed))
	assert.Equal(t, 1, unclaimed)
}

func TestPostgresLedger_RestartDropsClaim(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	window := domain.RollingWindow(24 * time.Hour)
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	visitor := uniqueVisitor()
	first := insertAccount(t, db)
	second := insertAccount(t, db)
	usage := ledger.NewPostgresLedger(db)
	queries := repository.New(db)

	record := func(at time.Time) bool {
		_, started, err := usage.Record(ctx, ledger.Delta{
			Identity:  domain.Anonymous(visitor),
			PeriodKey: window.PeriodKey(),
			Action:    domain.ActionImport,
			Amount:    1,
			Now:       at,
			Cutoff:    window.Cutoff(at),
		})
		require.NoError(t, err)
		return started
	}
	claim := func(account uuid.UUID) int64 {
		n, err := queries.ClaimAnonymousUsagePeriods(ctx, repository.ClaimAnonymousUsagePeriodsParams{
			ClaimedBy: account,
			IpAddress: repository.InetFromAddr(visitor),
		})
		require.NoError(t, err)
		return n
	}

	assert.True(t, record(t0))
	assert.False(t, record(t0.Add(time.Hour)))
	assert.Equal(t, int64(1), claim(first))

	later := t0.Add(48 * time.Hour)
	assert.True(t, record(later))

	p, err := usage.Current(ctx, domain.Anonymous(visitor), window.PeriodKey(), window.Cutoff(later))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Nil(t, p.ClaimedBy)
	assert.Equal(t, 1, p.ImportsUsed)

	assert.Equal(t, int64(1), claim(second))
}
