package types

import (
	"time"
)

// User represents an account identified by a normalized email.
// Users are never hard-deleted; deactivation is a soft flag.
type User struct {
	ID            string     `json:"id" db:"id"`
	Email         string     `json:"email" db:"email"`
	Handle        string     `json:"handle,omitempty" db:"handle"`
	PasswordHash  string     `json:"-" db:"password_hash"`
	Verified      bool       `json:"verified" db:"verified"`
	Timezone      string     `json:"timezone,omitempty" db:"timezone"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	DeactivatedAt *time.Time `json:"-" db:"deactivated_at"`
}

// Session binds an opaque access/refresh token pair to a user.
// Tokens are stored as SHA-256 hashes; raw values never touch the store.
// ChainID groups the rotations derived from one signin so that replay of
// a rotated refresh token can revoke the whole chain.
type Session struct {
	ID               string     `json:"id" db:"id"`
	UserID           string     `json:"user_id" db:"user_id"`
	ChainID          string     `json:"-" db:"chain_id"`
	AccessTokenHash  string     `json:"-" db:"access_token_hash"`
	RefreshTokenHash string     `json:"-" db:"refresh_token_hash"`
	AccessExpiresAt  time.Time  `json:"access_expires_at" db:"access_expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at" db:"refresh_expires_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	RevokedAt        *time.Time `json:"-" db:"revoked_at"`
	RotatedAt        *time.Time `json:"-" db:"rotated_at"`
}

// OTP is a one-time numeric code bound to an email and a purpose.
// The code is stored hashed. Attempts are bounded; a newer issue for the
// same (email, purpose) supersedes this row.
type OTP struct {
	ID          string     `json:"id" db:"id"`
	Email       string     `json:"email" db:"email"`
	Purpose     OTPPurpose `json:"purpose" db:"purpose"`
	CodeHash    string     `json:"-" db:"code_hash"`
	State       OTPState   `json:"state" db:"state"`
	Attempts    int        `json:"attempts" db:"attempts"`
	MaxAttempts int        `json:"max_attempts" db:"max_attempts"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty" db:"consumed_at"`
}

// QuotaCounter is the per-(user, feature) usage pair. Ceilings are not
// stored; they come from the plan catalog at check time.
type QuotaCounter struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Feature   Feature   `json:"feature" db:"feature"`
	Used      int       `json:"used" db:"used"`
	ResetAt   time.Time `json:"reset_at" db:"reset_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FeatureQuota is the wire snapshot of one feature's quota window.
// Remaining is -1 for unbounded ceilings.
type FeatureQuota struct {
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Total     int       `json:"total"`
	ResetAt   time.Time `json:"reset_at"`
}

// Subscription is the per-user entitlement row. ExpiresAt is nil for
// free and lifetime tiers. LastEventAt guards against out-of-order
// gateway events (stale events no-op).
type Subscription struct {
	UserID      string         `json:"user_id" db:"user_id"`
	Tier        PlanTier       `json:"tier" db:"tier"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
	Source      PaymentGateway `json:"source,omitempty" db:"source"`
	NonRenewing bool           `json:"non_renewing" db:"non_renewing"`
	UpgradedAt  *time.Time     `json:"last_upgraded_at,omitempty" db:"last_upgraded_at"`
	LastEventAt *time.Time     `json:"-" db:"last_event_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// Order is a payment order created before redirecting to a gateway.
type Order struct {
	OutTradeNo     string         `json:"out_trade_no" db:"out_trade_no"`
	UserID         string         `json:"user_id" db:"user_id"`
	PlanID         string         `json:"plan_id" db:"plan_id"`
	Amount         string         `json:"amount" db:"amount"`
	Currency       string         `json:"currency" db:"currency"`
	Gateway        PaymentGateway `json:"gateway" db:"gateway"`
	State          OrderState     `json:"state" db:"state"`
	GatewayTradeNo string         `json:"gateway_trade_no,omitempty" db:"gateway_trade_no"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	PaidAt         *time.Time     `json:"paid_at,omitempty" db:"paid_at"`
}

// WebhookRecord is one row of the idempotency ledger, keyed by
// (gateway, gateway_trade_no). Insert-if-absent on this key gates all
// side-effecting fulfillment work.
type WebhookRecord struct {
	ID             string         `json:"id" db:"id"`
	Gateway        PaymentGateway `json:"gateway" db:"gateway"`
	GatewayTradeNo string         `json:"gateway_trade_no" db:"gateway_trade_no"`
	OutTradeNo     string         `json:"out_trade_no" db:"out_trade_no"`
	RawPayload     string         `json:"-" db:"raw_payload"`
	SignatureValid bool           `json:"signature_valid" db:"signature_valid"`
	Outcome        string         `json:"outcome" db:"outcome"`
	ReceivedAt     time.Time      `json:"received_at" db:"received_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty" db:"processed_at"`
}

// Ledger outcome values. "applied" means entitlement side effects ran to
// completion; "apply_failed" permits a safe replay without reverting the
// paid order.
const (
	LedgerOutcomePending     = "pending"
	LedgerOutcomeApplied     = "applied"
	LedgerOutcomeApplyFailed = "apply_failed"
)

// Style is one entry of the progress-bar theme catalog. Styles above
// the caller's tier are listed but marked locked.
type Style struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	MinTier  PlanTier `json:"min_tier"`
	Featured bool     `json:"featured"`
	Locked   bool     `json:"locked"`
}

// Plan describes one purchasable plan from the static catalog.
// DurationDays is 0 for lifetime plans.
type Plan struct {
	ID           string   `json:"id"`
	Tier         PlanTier `json:"tier"`
	DurationDays int      `json:"duration_days"`
	Currency     string   `json:"currency"`
	Price        string   `json:"price"`
}

// Lifetime reports whether the plan grants a non-expiring entitlement.
func (p Plan) Lifetime() bool {
	return p.DurationDays == 0
}
