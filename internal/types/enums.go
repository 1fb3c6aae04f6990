package types

// PlanTier identifies the entitlement tier of a user.
type PlanTier string

const (
	TierFree     PlanTier = "free"
	TierPro      PlanTier = "pro"
	TierLifetime PlanTier = "lifetime"
)

// Rank orders tiers by entitlement so upgrades can be checked for
// monotonicity. Higher rank never regresses except by expiry.
func (t PlanTier) Rank() int {
	switch t {
	case TierPro:
		return 1
	case TierLifetime:
		return 2
	default:
		return 0
	}
}

// IsValid reports whether the tier is a known value.
func (t PlanTier) IsValid() bool {
	return t == TierFree || t == TierPro || t == TierLifetime
}

// OTPPurpose identifies why a one-time code was issued.
type OTPPurpose string

const (
	OTPPurposeSignup        OTPPurpose = "signup"
	OTPPurposePasswordReset OTPPurpose = "password_reset"
)

// IsValid reports whether the purpose is a known value.
func (p OTPPurpose) IsValid() bool {
	return p == OTPPurposeSignup || p == OTPPurposePasswordReset
}

// OTPState represents the lifecycle state of an OTP row.
// Terminal states (verified, exhausted, expired, superseded) are absorbing.
type OTPState string

const (
	OTPStateIssued     OTPState = "issued"
	OTPStateVerified   OTPState = "verified"
	OTPStateExhausted  OTPState = "exhausted"
	OTPStateExpired    OTPState = "expired"
	OTPStateSuperseded OTPState = "superseded"
)

// OrderState represents the lifecycle state of a payment order.
// Transitions are monotone forward except paid -> refunded.
type OrderState string

const (
	OrderStateCreated  OrderState = "created"
	OrderStatePaid     OrderState = "paid"
	OrderStateFailed   OrderState = "failed"
	OrderStateExpired  OrderState = "expired"
	OrderStateRefunded OrderState = "refunded"
)

// PaymentGateway identifies the payment provider for an order or callback.
type PaymentGateway string

const (
	GatewayZPay   PaymentGateway = "zpay"
	GatewayStripe PaymentGateway = "stripe"
	GatewayManual PaymentGateway = "manual"
)

// IsValid reports whether the gateway is accepted for order creation.
// Manual is reserved for operator actions and is not client-selectable.
func (g PaymentGateway) IsValid() bool {
	return g == GatewayZPay || g == GatewayStripe
}

// Feature identifies a quota-metered AI feature.
type Feature string

const (
	FeatureDailyPlan      Feature = "daily_plan"
	FeatureWeeklyReport   Feature = "weekly_report"
	FeatureChat           Feature = "chat"
	FeatureThemeRecommend Feature = "theme_recommend"
	FeatureThemeGenerate  Feature = "theme_generate"
)

// AllFeatures lists every metered feature. Used by quota status to
// report a complete snapshot and by validators to check feature names.
var AllFeatures = []Feature{
	FeatureDailyPlan,
	FeatureWeeklyReport,
	FeatureChat,
	FeatureThemeRecommend,
	FeatureThemeGenerate,
}

// IsValid reports whether the feature is a known metered feature.
func (f Feature) IsValid() bool {
	for _, known := range AllFeatures {
		if f == known {
			return true
		}
	}
	return false
}

// ResetFrequency defines how often a usage counter resets.
type ResetFrequency string

const (
	ResetDaily  ResetFrequency = "daily"
	ResetWeekly ResetFrequency = "weekly"
)

// ResetFrequencyFor returns the reset window kind for a feature.
// Weekly report is the only weekly-windowed feature; the rest roll
// over at local midnight.
func ResetFrequencyFor(f Feature) ResetFrequency {
	if f == FeatureWeeklyReport {
		return ResetWeekly
	}
	return ResetDaily
}
