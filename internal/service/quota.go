// Package service contains the business logic layer.
//
// This file implements the quota service: admission checks, consumption
// recording and usage summaries for both identity kinds.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/ledger"
	"github.com/DukeRupert/gambit/internal/metrics"
)

// DefaultMaxUsageAmount caps a single record call.
const DefaultMaxUsageAmount = 1000

// QuotaConfig holds the limits and windows that do not come from the catalog.
type QuotaConfig struct {
	// AnonymousLimits apply to every anonymous identity.
	AnonymousLimits domain.TierLimits

	// AccountWindow is used for authenticated identities.
	AccountWindow domain.Window

	// AnonymousWindow is used for anonymous identities. Always rolling.
	AnonymousWindow domain.Window

	// MaxAmount is the largest amount accepted by a single record call.
	MaxAmount int
}

// DefaultQuotaConfig returns rolling 24h windows with free-tier anonymous limits.
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		AnonymousLimits: DefaultFreeLimits,
		AccountWindow:   domain.RollingWindow(domain.DefaultWindowLength),
		AnonymousWindow: domain.RollingWindow(domain.DefaultWindowLength),
		MaxAmount:       DefaultMaxUsageAmount,
	}
}

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService gates billable actions.
//
// CheckAdmission and RecordUsage form a two-step protocol: callers check,
// perform the action, then record. The steps are not atomic, so concurrent
// callers for one identity can overshoot a limit by up to concurrency-1
// units. TryConsume is the strict single-step alternative.
type QuotaService interface {
	// CheckAdmission decides whether identity may perform action now. It
	// never mutates state. Returns domain.EINVALID for bad input and
	// domain.EUNAVAILABLE when storage cannot be read.
	CheckAdmission(ctx context.Context, identity domain.Identity, action domain.Action) (*domain.Decision, error)

	// RecordUsage adds amount to identity's counter for action, starting a
	// new period when the previous one expired.
	RecordUsage(ctx context.Context, identity domain.Identity, action domain.Action, amount int) (*domain.UsageResult, error)

	// TryConsume checks and records in one storage operation. A refused
	// request writes nothing and returns a decision with CanProceed false.
	TryConsume(ctx context.Context, identity domain.Identity, action domain.Action, amount int) (*domain.Decision, error)

	// GetUsage returns both counters and limits for identity.
	GetUsage(ctx context.Context, identity domain.Identity) (*domain.QuotaUsage, error)
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	tiers    TierResolver
	accounts AccountDirectory
	ledger   ledger.Ledger
	cfg      QuotaConfig
	clock    quartz.Clock
	logger   *slog.Logger
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(
	tiers TierResolver,
	accounts AccountDirectory,
	store ledger.Ledger,
	cfg QuotaConfig,
	clock quartz.Clock,
	logger *slog.Logger,
) QuotaService {
	if cfg.MaxAmount <= 0 {
		cfg.MaxAmount = DefaultMaxUsageAmount
	}
	if cfg.AccountWindow.Kind == "" {
		cfg.AccountWindow = domain.RollingWindow(domain.DefaultWindowLength)
	}
	if cfg.AnonymousWindow.Kind != domain.WindowRolling {
		cfg.AnonymousWindow = domain.RollingWindow(cfg.AnonymousWindow.Length)
	}
	return &quotaService{
		tiers:    tiers,
		accounts: accounts,
		ledger:   store,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// resolution is everything a decision needs besides the ledger state.
type resolution struct {
	limits domain.TierLimits
	tier   string
	known  bool // false for accounts missing from the directory
	window domain.Window
}

func (s *quotaService) resolve(ctx context.Context, identity domain.Identity) (resolution, error) {
	if identity.IsAnonymous() {
		return resolution{
			limits: s.cfg.AnonymousLimits,
			tier:   "anonymous",
			known:  true,
			window: s.cfg.AnonymousWindow,
		}, nil
	}

	res := resolution{tier: domain.TierFree, known: true, window: s.cfg.AccountWindow}

	account, err := s.accounts.GetAccount(ctx, identity.AccountID)
	switch {
	case domain.ErrorCode(err) == domain.ENOTFOUND:
		res.known = false
	case err != nil:
		return resolution{}, err
	default:
		res.tier = account.EffectiveTier()
	}

	limits, err := s.tiers.ResolveLimits(ctx, res.tier)
	if err != nil {
		return resolution{}, err
	}
	res.limits = limits
	return res, nil
}

func (s *quotaService) validate(op string, identity domain.Identity, action domain.Action) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	if !action.IsValid() {
		return domain.InvalidAction(op, action.String())
	}
	return nil
}

func (s *quotaService) validateAmount(op string, amount int) error {
	if amount <= 0 || amount > s.cfg.MaxAmount {
		return domain.InvalidAmount(op, amount, s.cfg.MaxAmount)
	}
	return nil
}

// CheckAdmission decides whether identity may perform action now.
func (s *quotaService) CheckAdmission(ctx context.Context, identity domain.Identity, action domain.Action) (*domain.Decision, error) {
	const op = "quota.check_admission"

	if err := s.validate(op, identity, action); err != nil {
		return nil, err
	}

	res, err := s.resolve(ctx, identity)
	if err != nil {
		return nil, err
	}

	limit := res.limits.For(action)
	decision := &domain.Decision{
		Identity: identity,
		Action:   action,
		Tier:     res.tier,
		Limit:    limit,
	}

	// Unlimited tier - always allow
	if limit.IsUnlimited() {
		decision.CanProceed = true
		decision.Reason = domain.ReasonUnlimited
		metrics.DecisionMade(*decision)
		return decision, nil
	}

	now := s.clock.Now()
	period, err := s.ledger.Current(ctx, identity, res.window.PeriodKey(), res.window.Cutoff(now))
	if err != nil {
		metrics.LedgerFailed("current")
		return nil, domain.Unavailable(err, op, "failed to read usage")
	}
	if period != nil {
		decision.Used = period.Used(action)
		decision.WindowAnchor = period.WindowAnchor
		decision.ResetAt = res.window.ResetAt(period.WindowAnchor)
	}

	decision.CanProceed = limit.Allows(decision.Used)
	decision.Reason = admissionReason(decision.CanProceed, res.known)
	metrics.DecisionMade(*decision)

	if !decision.CanProceed {
		s.logger.Info("Quota exceeded",
			"identity", identity.Key(),
			"action", action,
			"tier", res.tier,
			"used", decision.Used,
			"limit", limit,
			"reset_at", decision.ResetAt,
		)
	}

	return decision, nil
}

// RecordUsage adds amount to identity's counter for action.
func (s *quotaService) RecordUsage(ctx context.Context, identity domain.Identity, action domain.Action, amount int) (*domain.UsageResult, error) {
	const op = "quota.record_usage"

	if err := s.validate(op, identity, action); err != nil {
		return nil, err
	}
	if err := s.validateAmount(op, amount); err != nil {
		return nil, err
	}

	// Limits are resolved before writing so a catalog outage fails the call
	// without touching the ledger.
	res, err := s.resolve(ctx, identity)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	period, reset, err := s.ledger.Record(ctx, s.delta(res.window, identity, action, amount, now))
	if err != nil {
		metrics.LedgerFailed("record")
		return nil, domain.Unavailable(err, op, "failed to record usage")
	}

	limit := res.limits.For(action)
	result := &domain.UsageResult{
		Identity:     identity,
		Action:       action,
		NewUsed:      period.Used(action),
		Limit:        limit,
		WindowAnchor: period.WindowAnchor,
		ResetAt:      res.window.ResetAt(period.WindowAnchor),
		Reset:        reset,
	}
	metrics.UsageRecorded(*result, amount)

	if !limit.IsUnlimited() && result.NewUsed > limit.Value() {
		metrics.Overshoot(*result)
		s.logger.Warn("Usage recorded above limit",
			"identity", identity.Key(),
			"action", action,
			"tier", res.tier,
			"used", result.NewUsed,
			"limit", limit,
		)
	}

	s.logger.Debug("Usage recorded",
		"identity", identity.Key(),
		"action", action,
		"amount", amount,
		"used", result.NewUsed,
		"reset", reset,
	)

	return result, nil
}

// TryConsume checks and records in one storage operation.
func (s *quotaService) TryConsume(ctx context.Context, identity domain.Identity, action domain.Action, amount int) (*domain.Decision, error) {
	const op = "quota.try_consume"

	if err := s.validate(op, identity, action); err != nil {
		return nil, err
	}
	if err := s.validateAmount(op, amount); err != nil {
		return nil, err
	}

	res, err := s.resolve(ctx, identity)
	if err != nil {
		return nil, err
	}

	limit := res.limits.For(action)
	now := s.clock.Now()
	d := s.delta(res.window, identity, action, amount, now)

	var (
		period   domain.ConsumptionPeriod
		admitted bool
		reset    bool
	)
	if limit.IsUnlimited() {
		// Still recorded so summaries stay accurate.
		period, reset, err = s.ledger.Record(ctx, d)
		admitted = true
	} else {
		period, admitted, err = s.ledger.TryConsume(ctx, d, limit.Value())
	}
	if err != nil {
		metrics.LedgerFailed("try_consume")
		return nil, domain.Unavailable(err, op, "failed to consume usage")
	}

	decision := &domain.Decision{
		Identity:   identity,
		Action:     action,
		CanProceed: admitted,
		Tier:       res.tier,
		Used:       period.Used(action),
		Limit:      limit,
	}
	if !period.WindowAnchor.IsZero() {
		decision.WindowAnchor = period.WindowAnchor
		decision.ResetAt = res.window.ResetAt(period.WindowAnchor)
	}
	if limit.IsUnlimited() {
		decision.Reason = domain.ReasonUnlimited
	} else {
		decision.Reason = admissionReason(admitted, res.known)
	}
	metrics.DecisionMade(*decision)

	if admitted {
		metrics.UsageRecorded(domain.UsageResult{
			Identity: identity,
			Action:   action,
			NewUsed:  decision.Used,
			Limit:    limit,
			Reset:    reset,
		}, amount)
	} else {
		s.logger.Info("Quota exceeded",
			"identity", identity.Key(),
			"action", action,
			"tier", res.tier,
			"used", decision.Used,
			"amount", amount,
			"limit", limit,
		)
	}

	return decision, nil
}

// GetUsage returns both counters and limits for identity.
func (s *quotaService) GetUsage(ctx context.Context, identity domain.Identity) (*domain.QuotaUsage, error) {
	const op = "quota.get_usage"

	if err := identity.Validate(); err != nil {
		return nil, err
	}

	res, err := s.resolve(ctx, identity)
	if err != nil {
		return nil, err
	}

	usage := &domain.QuotaUsage{
		Identity:      identity,
		Tier:          res.tier,
		ImportLimit:   res.limits.Import,
		AnalysisLimit: res.limits.Analysis,
	}

	now := s.clock.Now()
	period, err := s.ledger.Current(ctx, identity, res.window.PeriodKey(), res.window.Cutoff(now))
	if err != nil {
		metrics.LedgerFailed("current")
		return nil, domain.Unavailable(err, op, "failed to read usage")
	}
	if period != nil {
		usage.ImportsUsed = period.ImportsUsed
		usage.AnalysesUsed = period.AnalysesUsed
		usage.WindowAnchor = period.WindowAnchor
		usage.ResetAt = res.window.ResetAt(period.WindowAnchor)
	}

	return usage, nil
}

func (s *quotaService) delta(window domain.Window, identity domain.Identity, action domain.Action, amount int, now time.Time) ledger.Delta {
	return ledger.Delta{
		Identity:  identity,
		PeriodKey: window.PeriodKey(),
		Action:    action,
		Amount:    amount,
		Now:       now,
		Cutoff:    window.Cutoff(now),
	}
}

// admissionReason picks the reason for a finite limit.
func admissionReason(canProceed, known bool) domain.Reason {
	switch {
	case !canProceed:
		return domain.ReasonLimitExceeded
	case !known:
		return domain.ReasonAnonymousUser
	default:
		return domain.ReasonWithinLimit
	}
}
