// Package domain contains core business types and interfaces.
//
// This file defines caller identities and the read-only account view the
// quota engine consumes from the identity store.
package domain

import (
	"net/netip"
	"strings"

	"github.com/google/uuid"
)

// IdentityKind distinguishes the two ledgers.
type IdentityKind int

const (
	IdentityAuthenticated IdentityKind = iota + 1
	IdentityAnonymous
)

// String returns the wire name of the kind.
func (k IdentityKind) String() string {
	switch k {
	case IdentityAuthenticated:
		return "account"
	case IdentityAnonymous:
		return "anonymous"
	}
	return "unknown"
}

// Identity scopes usage tracking. Exactly one of AccountID or Address is set.
type Identity struct {
	Kind      IdentityKind
	AccountID uuid.UUID
	Address   netip.Addr
}

// Authenticated returns the identity of a registered account.
func Authenticated(id uuid.UUID) Identity {
	return Identity{Kind: IdentityAuthenticated, AccountID: id}
}

// Anonymous returns the identity of a visitor keyed by network address.
// IPv4-mapped IPv6 addresses are unmapped so both spellings share a ledger.
func Anonymous(addr netip.Addr) Identity {
	return Identity{Kind: IdentityAnonymous, Address: addr.Unmap()}
}

// ParseIdentity builds an identity from its wire form. kind is "account" or
// "anonymous"; raw is a UUID or an IP address respectively.
func ParseIdentity(kind, raw string) (Identity, error) {
	const op = "identity.parse"

	raw = strings.TrimSpace(raw)
	switch kind {
	case "account", "authenticated":
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			return Identity{}, Wrap(ErrInvalidIdentity, EINVALID, op, "account id must be a UUID")
		}
		return Authenticated(id), nil
	case "anonymous":
		addr, err := ParseAnonymousKey(raw)
		if err != nil {
			return Identity{}, err
		}
		return Anonymous(addr), nil
	}
	return Identity{}, Wrap(ErrInvalidIdentity, EINVALID, op, "identity kind must be 'account' or 'anonymous'")
}

// ParseAnonymousKey validates a visitor's network address.
func ParseAnonymousKey(raw string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return netip.Addr{}, Wrap(ErrInvalidIdentity, EINVALID, "identity.parse", "anonymous identity must be an IP address")
	}
	return addr.Unmap(), nil
}

// Validate checks that the identity is fully formed.
func (i Identity) Validate() error {
	switch i.Kind {
	case IdentityAuthenticated:
		if i.AccountID == uuid.Nil {
			return Wrap(ErrInvalidIdentity, EINVALID, "identity.validate", "account id is required")
		}
		return nil
	case IdentityAnonymous:
		if !i.Address.IsValid() {
			return Wrap(ErrInvalidIdentity, EINVALID, "identity.validate", "anonymous address is required")
		}
		return nil
	}
	return Wrap(ErrInvalidIdentity, EINVALID, "identity.validate", "identity kind is required")
}

// IsAnonymous reports whether the identity is a network address.
func (i Identity) IsAnonymous() bool {
	return i.Kind == IdentityAnonymous
}

// ID returns the raw identifier: the account UUID or the address.
func (i Identity) ID() string {
	if i.Kind == IdentityAnonymous {
		return i.Address.String()
	}
	return i.AccountID.String()
}

// Key returns a stable key unique across both ledgers.
func (i Identity) Key() string {
	return i.Kind.String() + ":" + i.ID()
}

func (i Identity) String() string {
	return i.Key()
}

// =============================================================================
// Accounts
// =============================================================================

// SubscriptionStatus represents the possible states of an account's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Well-known tier identifiers. The catalog may define more.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// Account is the quota engine's view of a registered user.
type Account struct {
	ID                 uuid.UUID
	Tier               string
	SubscriptionStatus SubscriptionStatus
}

// IsActive returns true if the account has an active subscription or is trialing.
func (a *Account) IsActive() bool {
	return a.SubscriptionStatus == SubscriptionStatusActive ||
		a.SubscriptionStatus == SubscriptionStatusTrialing
}

// EffectiveTier returns the tier whose limits apply. Paid tiers only count
// while the subscription is active.
func (a *Account) EffectiveTier() string {
	if a.Tier == "" || a.Tier == TierFree {
		return TierFree
	}
	if !a.IsActive() {
		return TierFree
	}
	return a.Tier
}

// AccountTier is a catalog entry. A nil limit means unlimited.
type AccountTier struct {
	ID            string
	ImportLimit   *int
	AnalysisLimit *int
	IsActive      bool
}

// =============================================================================
// Claims
// =============================================================================

// ClaimResult counts the anonymous records re-parented onto an account.
type ClaimResult struct {
	Profiles     int64
	Games        int64
	Analyses     int64
	UsagePeriods int64
}

// Total returns the number of records claimed.
func (r ClaimResult) Total() int64 {
	return r.Profiles + r.Games + r.Analyses + r.UsagePeriods
}
