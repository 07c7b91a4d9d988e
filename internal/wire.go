package internal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/gambit/internal/ledger"
	"github.com/DukeRupert/gambit/internal/storage"
)

// monthlyTTL outlives the longest calendar month.
const monthlyTTL = 32 * 24 * time.Hour

// OpenDatabase opens the Postgres pool through the pgx stdlib driver and
// verifies it is reachable.
func OpenDatabase(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenLedger builds the consumption ledger selected by LEDGER_BACKEND. The
// returned close func releases backend connections and is never nil.
func OpenLedger(ctx context.Context, cfg *Config, db *sql.DB, logger *slog.Logger) (ledger.Ledger, func() error, error) {
	noop := func() error { return nil }

	switch cfg.LedgerBackend {
	case LedgerPostgres:
		logger.Info("ledger ready", "backend", LedgerPostgres)
		return ledger.NewPostgresLedger(db), noop, nil

	case LedgerRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("ping redis: %w", err)
		}
		l := ledger.NewRedisLedger(client, ledger.RedisOptions{
			Prefix: cfg.RedisPrefix,
			TTL:    cfg.redisTTL(),
		})
		logger.Info("ledger ready", "backend", LedgerRedis, "addr", opts.Addr, "prefix", cfg.RedisPrefix)
		return l, client.Close, nil

	case LedgerMemory:
		logger.Warn("ledger ready", "backend", LedgerMemory, "note", "usage is lost on restart")
		return ledger.NewMemoryLedger(), noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

// redisTTL keeps idle Redis periods at least as long as the sweeper would.
func (c *Config) redisTTL() time.Duration {
	ttl := c.RetentionHorizon
	if ttl < c.UsageWindow {
		ttl = c.UsageWindow
	}
	if c.AccountWindowPolicy == WindowPolicyMonthly && ttl < monthlyTTL {
		ttl = monthlyTTL
	}
	return ttl
}

// OpenArchive returns the sweep archive store, or nil when archiving is off.
func OpenArchive(cfg *Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.ArchiveProvider {
	case storage.ProviderNone, "":
		return nil, nil

	case storage.ProviderLocal:
		s, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.ArchiveLocalPath}, logger)
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		logger.Info("archive storage ready", "provider", storage.ProviderLocal, "path", cfg.ArchiveLocalPath)
		return s, nil

	case storage.ProviderR2:
		s, err := storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("r2 archive: %w", err)
		}
		logger.Info("archive storage ready", "provider", storage.ProviderR2, "bucket", cfg.R2BucketName)
		return s, nil

	default:
		return nil, fmt.Errorf("unknown archive provider %q", cfg.ArchiveProvider)
	}
}
