package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type AccountTier struct {
	TierID        string        `json:"tier_id"`
	ImportLimit   sql.NullInt32 `json:"import_limit"`
	AnalysisLimit sql.NullInt32 `json:"analysis_limit"`
	IsActive      bool          `json:"is_active"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Account struct {
	ID                 uuid.UUID `json:"id"`
	AccountTier        string    `json:"account_tier"`
	SubscriptionStatus string    `json:"subscription_status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type UsagePeriod struct {
	AccountID    uuid.UUID `json:"account_id"`
	PeriodKey    string    `json:"period_key"`
	UsedImport   int32     `json:"used_import"`
	UsedAnalyze  int32     `json:"used_analyze"`
	WindowAnchor time.Time `json:"window_anchor"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type AnonymousUsagePeriod struct {
	IpAddress    pqtype.Inet   `json:"ip_address"`
	PeriodKey    string        `json:"period_key"`
	UsedImport   int32         `json:"used_import"`
	UsedAnalyze  int32         `json:"used_analyze"`
	WindowAnchor time.Time     `json:"window_anchor"`
	UpdatedAt    time.Time     `json:"updated_at"`
	ClaimedBy    uuid.NullUUID `json:"claimed_by"`
}
