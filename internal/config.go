package internal

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/ledger"
	"github.com/DukeRupert/gambit/internal/service"
	"github.com/DukeRupert/gambit/internal/storage"
	"github.com/DukeRupert/gambit/internal/sweeper"
)

// Ledger backends.
const (
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
	LedgerMemory   = "memory"
)

// Account window policies.
const (
	WindowPolicyRolling = "rolling"
	WindowPolicyMonthly = "monthly"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Ledger
	LedgerBackend string // "postgres", "redis" or "memory"
	RedisURL      string
	RedisPrefix   string

	// Quota policy
	UsageWindow         time.Duration // rolling window length
	AccountWindowPolicy string        // "rolling" or "monthly"
	AnonImportLimit     int
	AnonAnalysisLimit   int
	MaxUsageAmount      int
	TierCacheTTL        time.Duration

	// Retention sweeper
	SweeperEnabled   bool
	SweeperInterval  time.Duration
	RetentionHorizon time.Duration

	// Archive storage for swept periods
	ArchiveProvider  string // "none", "local" or "r2"
	ArchiveLocalPath string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string // optional S3-compatible endpoint override

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string

	// Proxies whose X-Forwarded-For and X-Real-IP headers are believed.
	// Empty means the peer address is always the client.
	TrustedProxies []netip.Prefix
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		LedgerBackend: getEnv("LEDGER_BACKEND", LedgerPostgres),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:   getEnv("REDIS_PREFIX", ledger.DefaultRedisPrefix),

		UsageWindow:         getEnvDuration("USAGE_WINDOW", domain.DefaultWindowLength),
		AccountWindowPolicy: getEnv("ACCOUNT_WINDOW_POLICY", WindowPolicyRolling),
		AnonImportLimit:     getEnvInt("ANON_IMPORT_LIMIT", service.DefaultFreeLimits.Import.Value()),
		AnonAnalysisLimit:   getEnvInt("ANON_ANALYSIS_LIMIT", service.DefaultFreeLimits.Analysis.Value()),
		MaxUsageAmount:      getEnvInt("MAX_USAGE_AMOUNT", service.DefaultMaxUsageAmount),
		TierCacheTTL:        getEnvDuration("TIER_CACHE_TTL", service.DefaultTierCacheTTL),

		// The sweeper CLI is the primary trigger; the in-process loop is opt-in.
		SweeperEnabled:   getEnvBool("SWEEPER_ENABLED", false),
		SweeperInterval:  getEnvDuration("SWEEPER_INTERVAL", time.Hour),
		RetentionHorizon: getEnvDuration("RETENTION_HORIZON", sweeper.DefaultHorizon),

		ArchiveProvider:  getEnv("ARCHIVE_PROVIDER", storage.ProviderNone),
		ArchiveLocalPath: getEnv("ARCHIVE_LOCAL_PATH", "./data/archive"),

		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// The default horizon grows to cover the configured windows.
	if os.Getenv("RETENTION_HORIZON") == "" {
		cfg.RetentionHorizon = max(cfg.RetentionHorizon, cfg.horizonFloor())
	}

	proxies, err := parsePrefixes(getEnv("TRUSTED_PROXIES", ""))
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no safe fallback.
func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case LedgerPostgres, LedgerMemory:
	case LedgerRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LEDGER_BACKEND is 'redis'")
		}
	default:
		return fmt.Errorf("LEDGER_BACKEND must be 'postgres', 'redis' or 'memory', got: %s", c.LedgerBackend)
	}

	if c.AccountWindowPolicy != WindowPolicyRolling && c.AccountWindowPolicy != WindowPolicyMonthly {
		return fmt.Errorf("ACCOUNT_WINDOW_POLICY must be 'rolling' or 'monthly', got: %s", c.AccountWindowPolicy)
	}
	if c.UsageWindow < time.Minute {
		return fmt.Errorf("USAGE_WINDOW must be at least 1m, got: %v", c.UsageWindow)
	}
	if c.AnonImportLimit < 0 || c.AnonAnalysisLimit < 0 {
		return fmt.Errorf("ANON_IMPORT_LIMIT and ANON_ANALYSIS_LIMIT must not be negative")
	}
	if c.MaxUsageAmount < 1 {
		return fmt.Errorf("MAX_USAGE_AMOUNT must be at least 1, got: %d", c.MaxUsageAmount)
	}

	if err := c.SweeperConfig().Validate(); err != nil {
		return fmt.Errorf("sweeper: RETENTION_HORIZON: %w", err)
	}

	switch c.ArchiveProvider {
	case storage.ProviderNone:
	case storage.ProviderLocal:
		if c.ArchiveLocalPath == "" {
			return fmt.Errorf("ARCHIVE_LOCAL_PATH is required when ARCHIVE_PROVIDER is 'local'")
		}
	case storage.ProviderR2:
		if c.R2AccountID == "" && c.R2Endpoint == "" {
			return fmt.Errorf("R2_ACCOUNT_ID or R2_ENDPOINT is required when ARCHIVE_PROVIDER is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when ARCHIVE_PROVIDER is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when ARCHIVE_PROVIDER is 'r2'")
		}
		if c.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when ARCHIVE_PROVIDER is 'r2'")
		}
	default:
		return fmt.Errorf("ARCHIVE_PROVIDER must be 'none', 'local' or 'r2', got: %s", c.ArchiveProvider)
	}

	return nil
}

// QuotaConfig returns the quota policy for the quota service.
func (c *Config) QuotaConfig() service.QuotaConfig {
	accountWindow := domain.RollingWindow(c.UsageWindow)
	if c.AccountWindowPolicy == WindowPolicyMonthly {
		accountWindow = domain.CalendarMonthWindow()
	}
	return service.QuotaConfig{
		AnonymousLimits: domain.TierLimits{
			Import:   domain.LimitOf(c.AnonImportLimit),
			Analysis: domain.LimitOf(c.AnonAnalysisLimit),
		},
		AccountWindow:   accountWindow,
		AnonymousWindow: domain.RollingWindow(c.UsageWindow),
		MaxAmount:       c.MaxUsageAmount,
	}
}

// SweeperConfig returns the retention sweeper settings. Its floor keeps the
// sweeper away from periods still open under the quota windows.
func (c *Config) SweeperConfig() sweeper.Config {
	cfg := sweeper.DefaultConfig()
	cfg.Interval = c.SweeperInterval
	cfg.Horizon = c.RetentionHorizon
	cfg.Floor = c.horizonFloor()
	return cfg
}

func (c *Config) horizonFloor() time.Duration {
	qc := c.QuotaConfig()
	return sweeper.HorizonFloor(qc.AccountWindow, qc.AnonymousWindow)
}

// parsePrefixes reads a comma-separated list of CIDRs. A bare address is
// taken as a single-host prefix.
func parsePrefixes(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if p, err := netip.ParsePrefix(field); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(field)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: want a CIDR or an address", field)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
