package types

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	// SubscriptionStatusCanceled is terminal; no transition leaves it.
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonTrialStart   SubscriptionChangeReason = "trialStart"
	SubscriptionChangeReasonPurchase     SubscriptionChangeReason = "purchase"
	SubscriptionChangeReasonUpgrade      SubscriptionChangeReason = "upgrade"
	SubscriptionChangeReasonAutoUpgrade  SubscriptionChangeReason = "autoUpgrade"
	SubscriptionChangeReasonBillingEvent SubscriptionChangeReason = "billingEvent"
)

type DecisionReason string

const (
	DecisionReasonNoSubscription       DecisionReason = "no_subscription"
	DecisionReasonInvalidPlan          DecisionReason = "invalid_plan"
	DecisionReasonLimitExceeded        DecisionReason = "limit_exceeded"
	DecisionReasonSubscriptionInactive DecisionReason = "subscription_inactive"
)

// Decision is the outcome of a quota check. Used/Limit/Remaining are set
// only when counting was performed; Remaining is UnlimitedRemaining for
// plans without a cap.
type Decision struct {
	Allowed   bool           `json:"allowed"`
	Reason    DecisionReason `json:"reason,omitempty"`
	Used      *int64         `json:"used,omitempty"`
	Limit     *int64         `json:"limit,omitempty"`
	Remaining *int64         `json:"remaining,omitempty"`
}

// UsageSnapshot is the per-user metering view for the current billing
// period. It is derived on demand and never persisted.
type UsageSnapshot struct {
	PlanID                string             `json:"plan_id"`
	PlanName              string             `json:"plan_name"`
	Status                SubscriptionStatus `json:"status"`
	IsUnlimited           bool               `json:"is_unlimited"`
	BuildsUsed            int64              `json:"builds_used"`
	BuildsLimit           int64              `json:"builds_limit"`
	BuildsRemaining       int64              `json:"builds_remaining"`
	BonusUnlocksUsed      int64              `json:"bonus_unlocks_used"`
	BonusUnlocksLimit     int64              `json:"bonus_unlocks_limit"`
	BonusUnlocksRemaining int64              `json:"bonus_unlocks_remaining"`
	CurrentPeriodStart    time.Time          `json:"current_period_start"`
	CurrentPeriodEnd      time.Time          `json:"current_period_end"`
	TrialEnd              *time.Time         `json:"trial_end,omitempty"`
}
