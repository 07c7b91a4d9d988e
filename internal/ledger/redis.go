package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/gambit/internal/domain"
)

//go:embed consume.lua
var consumeScriptSource string

//go:embed sweep.lua
var sweepScriptSource string

var (
	consumeScript = redis.NewScript(consumeScriptSource)
	sweepScript   = redis.NewScript(sweepScriptSource)
)

// DefaultRedisPrefix namespaces ledger keys.
const DefaultRedisPrefix = "gambit:usage"

// RedisOptions configures a RedisLedger.
type RedisOptions struct {
	// Prefix is prepended to every key. Defaults to DefaultRedisPrefix.
	Prefix string

	// TTL expires idle periods. It must exceed the window length or live
	// periods would vanish early; the retention horizon is a natural choice.
	TTL time.Duration

	// ScanCount is the COUNT hint used while sweeping.
	ScanCount int64
}

// RedisLedger stores each period as a hash and mutates it with Lua scripts,
// which Redis runs atomically. Timestamps are stored as unix milliseconds;
// Lua formats numbers with 14 significant digits, too few for microseconds.
type RedisLedger struct {
	client    redis.UniversalClient
	prefix    string
	ttl       time.Duration
	scanCount int64
}

// NewRedisLedger creates a ledger on client.
func NewRedisLedger(client redis.UniversalClient, opts RedisOptions) *RedisLedger {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * 24 * time.Hour
	}
	if opts.ScanCount <= 0 {
		opts.ScanCount = 100
	}
	return &RedisLedger{
		client:    client,
		prefix:    opts.Prefix,
		ttl:       opts.TTL,
		scanCount: opts.ScanCount,
	}
}

var (
	_ Ledger  = (*RedisLedger)(nil)
	_ Claimer = (*RedisLedger)(nil)
)

func (l *RedisLedger) key(identity domain.Identity, periodKey string) string {
	return l.prefix + ":" + periodKey + ":" + identity.Key()
}

func (l *RedisLedger) Current(ctx context.Context, identity domain.Identity, periodKey string, cutoff time.Time) (*domain.ConsumptionPeriod, error) {
	fields, err := l.client.HGetAll(ctx, l.key(identity, periodKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("read usage period: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	p, err := periodFromHash(fields)
	if err != nil {
		return nil, err
	}
	if p.WindowAnchor.Before(cutoff) {
		return nil, nil
	}
	return &p, nil
}

func (l *RedisLedger) Record(ctx context.Context, d Delta) (domain.ConsumptionPeriod, bool, error) {
	if err := d.Validate(); err != nil {
		return domain.ConsumptionPeriod{}, false, err
	}
	res, err := l.consume(ctx, d, -1)
	if err != nil {
		return domain.ConsumptionPeriod{}, false, fmt.Errorf("record usage: %w", err)
	}
	return res.period, res.started, nil
}

func (l *RedisLedger) TryConsume(ctx context.Context, d Delta, limit int) (domain.ConsumptionPeriod, bool, error) {
	if err := d.Validate(); err != nil {
		return domain.ConsumptionPeriod{}, false, err
	}
	if limit < 0 {
		limit = 0
	}
	res, err := l.consume(ctx, d, limit)
	if err != nil {
		return domain.ConsumptionPeriod{}, false, fmt.Errorf("try consume usage: %w", err)
	}
	return res.period, res.applied, nil
}

type consumeResult struct {
	applied bool
	started bool
	period  domain.ConsumptionPeriod
}

func (l *RedisLedger) consume(ctx context.Context, d Delta, limit int) (consumeResult, error) {
	raw, err := consumeScript.Run(ctx, l.client, []string{l.key(d.Identity, d.PeriodKey)},
		d.imports(),              // ARGV[1]
		d.analyses(),             // ARGV[2]
		d.Now.UnixMilli(),        // ARGV[3]
		d.Cutoff.UnixMilli(),     // ARGV[4]
		int64(l.ttl/time.Second), // ARGV[5]
		limit,                    // ARGV[6]
		d.Identity.Key(),         // ARGV[7]
		d.PeriodKey,              // ARGV[8]
	).Int64Slice()
	if err != nil {
		return consumeResult{}, err
	}
	if len(raw) != 6 {
		return consumeResult{}, errors.New("invalid lua response format")
	}

	res := consumeResult{
		applied: raw[0] == 1,
		started: raw[1] == 1,
		period: domain.ConsumptionPeriod{
			Identity:     d.Identity,
			PeriodKey:    d.PeriodKey,
			ImportsUsed:  int(raw[2]),
			AnalysesUsed: int(raw[3]),
		},
	}
	if raw[4] > 0 {
		res.period.WindowAnchor = time.UnixMilli(raw[4]).UTC()
		res.period.UpdatedAt = time.UnixMilli(raw[5]).UTC()
	}
	return res, nil
}

// Sweep scans every ledger key and deletes periods anchored before before.
// Each delete re-checks the anchor inside Redis, so a write racing the sweep
// keeps its period.
func (l *RedisLedger) Sweep(ctx context.Context, before time.Time, archive ArchiveFunc) (int64, error) {
	var (
		keys    []string
		periods []domain.ConsumptionPeriod
	)

	iter := l.client.Scan(ctx, 0, l.prefix+":*", l.scanCount).Iterator()
	for iter.Next(ctx) {
		fields, err := l.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return 0, fmt.Errorf("read usage period: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		p, err := periodFromHash(fields)
		if err != nil {
			return 0, fmt.Errorf("decode %s: %w", iter.Val(), err)
		}
		if p.WindowAnchor.Before(before) {
			keys = append(keys, iter.Val())
			periods = append(periods, p)
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan usage periods: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if archive != nil {
		if err := archive(ctx, periods); err != nil {
			return 0, err
		}
	}

	var removed int64
	for _, key := range keys {
		n, err := sweepScript.Run(ctx, l.client, []string{key}, before.UnixMilli()).Int64()
		if err != nil {
			return removed, fmt.Errorf("delete usage period: %w", err)
		}
		removed += n
	}
	return removed, nil
}

// Claim marks the periods of anonymous as claimed by account.
func (l *RedisLedger) Claim(ctx context.Context, anonymous, account domain.Identity) (int64, error) {
	var claimed int64
	iter := l.client.Scan(ctx, 0, l.prefix+":*:"+anonymous.Key(), l.scanCount).Iterator()
	for iter.Next(ctx) {
		ok, err := l.client.HSetNX(ctx, iter.Val(), "claimed_by", account.AccountID.String()).Result()
		if err != nil {
			return claimed, fmt.Errorf("claim usage period: %w", err)
		}
		if ok {
			claimed++
		}
	}
	if err := iter.Err(); err != nil {
		return claimed, fmt.Errorf("scan usage periods: %w", err)
	}
	return claimed, nil
}

func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func periodFromHash(fields map[string]string) (domain.ConsumptionPeriod, error) {
	kind, raw, ok := strings.Cut(fields["identity"], ":")
	if !ok {
		return domain.ConsumptionPeriod{}, fmt.Errorf("malformed identity %q", fields["identity"])
	}
	identity, err := domain.ParseIdentity(kind, raw)
	if err != nil {
		return domain.ConsumptionPeriod{}, err
	}

	p := domain.ConsumptionPeriod{
		Identity:     identity,
		PeriodKey:    fields["period"],
		ImportsUsed:  int(parseInt(fields["imports"])),
		AnalysesUsed: int(parseInt(fields["analyses"])),
		WindowAnchor: time.UnixMilli(parseInt(fields["anchor"])).UTC(),
		UpdatedAt:    time.UnixMilli(parseInt(fields["updated"])).UTC(),
	}
	if v, ok := fields["claimed_by"]; ok {
		if id, err := uuid.Parse(v); err == nil {
			p.ClaimedBy = claimant(id)
		}
	}
	return p, nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
