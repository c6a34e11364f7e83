package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/brandforge/metering/pkg/types"
)

// Subscription is the single current billing record per user. Plan changes
// mutate it in place; history lives in SubscriptionLog.
type Subscription struct {
	ID     string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string                   `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	PlanID string                   `gorm:"column:plan_id;type:varchar(64);not null" json:"plan_id"`
	Status types.SubscriptionStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	// CurrentPeriodStart/End bound the billing cycle quotas are counted in.
	CurrentPeriodStart time.Time `gorm:"column:current_period_start;not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time `gorm:"column:current_period_end;not null" json:"current_period_end"`
	// TrialEnd is set only while on the trial plan.
	TrialEnd          *time.Time `gorm:"column:trial_end;default:null" json:"trial_end"`
	CancelAtPeriodEnd bool       `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	// External billing processor references; nil until checkout completes.
	StripeCustomerID     *string `gorm:"column:stripe_customer_id;type:varchar(128)" json:"stripe_customer_id"`
	StripeSubscriptionID *string `gorm:"column:stripe_subscription_id;type:varchar(128)" json:"stripe_subscription_id"`
	// Extra stores additional JSON data (for example promotion details).
	Extra datatypes.JSON `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	// CreatedAt is managed by GORM and records the creation time.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is managed by GORM and records the update time.
	UpdatedAt time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// Valid reports whether the subscription grants access at the given time:
// status active or trialing, with the billing period still open.
func (s *Subscription) Valid(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status != types.SubscriptionStatusActive && s.Status != types.SubscriptionStatusTrialing {
		return false
	}
	return now.Before(s.CurrentPeriodEnd)
}

// InTrial reports whether the subscription is a live trial at the given time.
func (s *Subscription) InTrial(now time.Time) bool {
	return s != nil &&
		s.PlanID == types.PlanIDTrial &&
		s.Status == types.SubscriptionStatusTrialing &&
		s.TrialEnd != nil &&
		now.Before(*s.TrialEnd)
}

// TrialDue reports whether the trial window has lapsed and the record is
// waiting for the auto-upgrade charge, regardless of status.
func (s *Subscription) TrialDue(now time.Time) bool {
	return s != nil &&
		s.PlanID == types.PlanIDTrial &&
		s.TrialEnd != nil &&
		!now.Before(*s.TrialEnd)
}
