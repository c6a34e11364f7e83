package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/brandforge/metering/internal/app/service/plan"
	"github.com/brandforge/metering/internal/models"
	"github.com/brandforge/metering/internal/store"
	"github.com/brandforge/metering/pkg/config"
	"github.com/brandforge/metering/pkg/logctx"
	"github.com/brandforge/metering/pkg/types"
)

// ChangeRecorder persists subscription change history. A nil recorder
// disables history (used by tests).
type ChangeRecorder interface {
	Record(ctx context.Context, reason types.SubscriptionChangeReason, before, after *models.Subscription)
}

// Manager owns the subscription lifecycle and quota metering. All methods
// are short-lived read/write sequences against the store; the check-then-
// record build protocol is intentionally not atomic (concurrent callers may
// both pass a check before either records, bounding over-grant to the
// concurrent burst size).
type Manager struct {
	cfg     *config.Config
	catalog *plan.Catalog
	store   store.UsageStore
	audit   ChangeRecorder
	log     *zap.SugaredLogger

	now func() time.Time
}

func NewManager(cfg *config.Config, catalog *plan.Catalog, st store.UsageStore, audit ChangeRecorder, log *zap.SugaredLogger) *Manager {
	return &Manager{
		cfg:     cfg,
		catalog: catalog,
		store:   st,
		audit:   audit,
		log:     log,
		now:     time.Now,
	}
}

// find returns (nil, nil) when the user has no subscription row.
func (m *Manager) find(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := m.store.GetSubscriptionByUserID(ctx, userID)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// HasActiveSubscription reports whether the user holds an open subscription
// (active or trialing, period not yet over). No side effects.
func (m *Manager) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	sub, err := m.find(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.Valid(m.now()), nil
}

// GetUserPlan returns the plan id of an open subscription, or "" when the
// user has none.
func (m *Manager) GetUserPlan(ctx context.Context, userID string) (string, error) {
	sub, err := m.find(ctx, userID)
	if err != nil {
		return "", err
	}
	if !sub.Valid(m.now()) {
		return "", nil
	}
	return sub.PlanID, nil
}

// consumesQuota applies the status gate: trialing and active always meter;
// past_due only when configured; canceled never.
func (m *Manager) consumesQuota(sub *models.Subscription) bool {
	switch sub.Status {
	case types.SubscriptionStatusTrialing, types.SubscriptionStatusActive:
		return true
	case types.SubscriptionStatusPastDue:
		return m.cfg.Billing.AllowPastDueUsage
	default:
		return false
	}
}

// CanPerformBuild is the pure quota check of the build gate. It performs no
// reservation; the caller must follow check / perform / record.
func (m *Manager) CanPerformBuild(ctx context.Context, userID string, buildType types.BuildType) (*types.Decision, error) {
	if !buildType.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBuildType, buildType)
	}
	sub, err := m.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &types.Decision{Allowed: false, Reason: types.DecisionReasonNoSubscription}, nil
	}
	if !m.consumesQuota(sub) {
		return &types.Decision{Allowed: false, Reason: types.DecisionReasonSubscriptionInactive}, nil
	}
	planDef, err := m.catalog.Get(sub.PlanID)
	if err != nil {
		if errors.Is(err, plan.ErrUnknownPlan) {
			logctx.FromCtx(ctx, m.log).Errorw("subscription references unknown plan", "user_id", userID, "plan_id", sub.PlanID)
			return &types.Decision{Allowed: false, Reason: types.DecisionReasonInvalidPlan}, nil
		}
		return nil, err
	}
	if planDef.Unlimited() {
		return &types.Decision{Allowed: true, Remaining: lo.ToPtr(types.UnlimitedRemaining)}, nil
	}
	used, err := m.store.CountBuildsSince(ctx, userID, sub.CurrentPeriodStart)
	if err != nil {
		return nil, err
	}
	limit := planDef.Features.BuildsPerMonth
	if used >= limit {
		return &types.Decision{
			Allowed: false,
			Reason:  types.DecisionReasonLimitExceeded,
			Used:    lo.ToPtr(used),
			Limit:   lo.ToPtr(limit),
		}, nil
	}
	return &types.Decision{
		Allowed:   true,
		Used:      lo.ToPtr(used),
		Limit:     lo.ToPtr(limit),
		Remaining: lo.ToPtr(limit - used),
	}, nil
}

// RecordBuild re-checks the quota and appends a usage event. The re-check
// and append are not atomic with the caller's original check; the race
// window is an accepted property of the protocol, not a bug to hide.
func (m *Manager) RecordBuild(ctx context.Context, userID string, buildType types.BuildType) error {
	decision, err := m.CanPerformBuild(ctx, userID, buildType)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &BuildNotAllowedError{Decision: decision}
	}
	if _, err := m.store.RecordBuildUsage(ctx, userID, buildType, m.now()); err != nil {
		return err
	}
	return nil
}

// CanUnlockBonusPrize mirrors CanPerformBuild for the bonus-unlock quota.
func (m *Manager) CanUnlockBonusPrize(ctx context.Context, userID string) (*types.Decision, error) {
	sub, err := m.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &types.Decision{Allowed: false, Reason: types.DecisionReasonNoSubscription}, nil
	}
	if !m.consumesQuota(sub) {
		return &types.Decision{Allowed: false, Reason: types.DecisionReasonSubscriptionInactive}, nil
	}
	planDef, err := m.catalog.Get(sub.PlanID)
	if err != nil {
		if errors.Is(err, plan.ErrUnknownPlan) {
			logctx.FromCtx(ctx, m.log).Errorw("subscription references unknown plan", "user_id", userID, "plan_id", sub.PlanID)
			return &types.Decision{Allowed: false, Reason: types.DecisionReasonInvalidPlan}, nil
		}
		return nil, err
	}
	used, err := m.store.CountBonusUnlocksSince(ctx, userID, sub.CurrentPeriodStart)
	if err != nil {
		return nil, err
	}
	limit := planDef.Features.BonusPrizeUnlocks
	if used >= limit {
		return &types.Decision{
			Allowed: false,
			Reason:  types.DecisionReasonLimitExceeded,
			Used:    lo.ToPtr(used),
			Limit:   lo.ToPtr(limit),
		}, nil
	}
	return &types.Decision{
		Allowed:   true,
		Used:      lo.ToPtr(used),
		Limit:     lo.ToPtr(limit),
		Remaining: lo.ToPtr(limit - used),
	}, nil
}

// RecordBonusUnlock re-checks the bonus quota and appends an unlock event.
func (m *Manager) RecordBonusUnlock(ctx context.Context, userID string, mvpID *string, feature string) error {
	decision, err := m.CanUnlockBonusPrize(ctx, userID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &BuildNotAllowedError{Decision: decision}
	}
	if _, err := m.store.RecordBonusUnlock(ctx, userID, mvpID, feature, m.now()); err != nil {
		return err
	}
	return nil
}

// IsInTrial reports whether the user is inside a live trial window.
func (m *Manager) IsInTrial(ctx context.Context, userID string) (bool, error) {
	sub, err := m.find(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.InTrial(m.now()), nil
}

// ShouldUpgradeFromTrial is the signal the external billing job polls: the
// trial window has lapsed, regardless of status.
func (m *Manager) ShouldUpgradeFromTrial(ctx context.Context, userID string) (bool, error) {
	sub, err := m.find(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.TrialDue(m.now()), nil
}

// GetUsageStats aggregates the current-period usage view. Returns nil when
// the user has no subscription.
func (m *Manager) GetUsageStats(ctx context.Context, userID string) (*types.UsageSnapshot, error) {
	sub, err := m.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}
	planDef, err := m.catalog.Get(sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	buildsUsed, err := m.store.CountBuildsSince(ctx, userID, sub.CurrentPeriodStart)
	if err != nil {
		return nil, err
	}
	unlocksUsed, err := m.store.CountBonusUnlocksSince(ctx, userID, sub.CurrentPeriodStart)
	if err != nil {
		return nil, err
	}
	snap := &types.UsageSnapshot{
		PlanID:             sub.PlanID,
		PlanName:           planDef.Name,
		Status:             sub.Status,
		IsUnlimited:        planDef.Unlimited(),
		BuildsUsed:         buildsUsed,
		BuildsLimit:        planDef.Features.BuildsPerMonth,
		BonusUnlocksUsed:   unlocksUsed,
		BonusUnlocksLimit:  planDef.Features.BonusPrizeUnlocks,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		TrialEnd:           sub.TrialEnd,
	}
	if planDef.Unlimited() {
		snap.BuildsRemaining = types.UnlimitedRemaining
	} else {
		snap.BuildsRemaining = max(0, planDef.Features.BuildsPerMonth-buildsUsed)
	}
	snap.BonusUnlocksRemaining = max(0, planDef.Features.BonusPrizeUnlocks-unlocksUsed)
	return snap, nil
}

// CreateTrialSubscription opens the time-boxed trial. Duplicate creation is
// rejected by the store's one-record-per-user rule.
func (m *Manager) CreateTrialSubscription(ctx context.Context, userID, customerRef string) (*models.Subscription, error) {
	if _, err := m.catalog.Get(types.PlanIDTrial); err != nil {
		return nil, err
	}
	now := m.now()
	trialEnd := now.Add(time.Duration(m.cfg.Billing.TrialDays) * 24 * time.Hour)
	sub := &models.Subscription{
		UserID:             userID,
		PlanID:             types.PlanIDTrial,
		Status:             types.SubscriptionStatusTrialing,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   trialEnd,
		TrialEnd:           &trialEnd,
	}
	if customerRef != "" {
		sub.StripeCustomerID = lo.ToPtr(customerRef)
	}
	if err := m.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	m.recordChange(ctx, types.SubscriptionChangeReasonTrialStart, nil, sub)
	logctx.FromCtx(ctx, m.log).Infow("trial subscription created", "user_id", userID, "trial_end", trialEnd)
	return sub, nil
}

// CreatePaidSubscription opens an active subscription on a paid plan
// directly, skipping the trial.
func (m *Manager) CreatePaidSubscription(ctx context.Context, userID, planID, customerRef, subscriptionRef string) (*models.Subscription, error) {
	if planID == types.PlanIDTrial {
		return m.CreateTrialSubscription(ctx, userID, customerRef)
	}
	if _, err := m.catalog.Get(planID); err != nil {
		return nil, err
	}
	now := m.now()
	sub := &models.Subscription{
		UserID:             userID,
		PlanID:             planID,
		Status:             types.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	if customerRef != "" {
		sub.StripeCustomerID = lo.ToPtr(customerRef)
	}
	if subscriptionRef != "" {
		sub.StripeSubscriptionID = lo.ToPtr(subscriptionRef)
	}
	if err := m.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	m.recordChange(ctx, types.SubscriptionChangeReasonPurchase, nil, sub)
	logctx.FromCtx(ctx, m.log).Infow("paid subscription created", "user_id", userID, "plan_id", planID)
	return sub, nil
}

// UpgradeSubscription moves an existing record to a new plan, resetting the
// billing period. The record is mutated in place; plan history lives only
// in the change log.
func (m *Manager) UpgradeSubscription(ctx context.Context, userID, newPlanID, subscriptionRef string) (*models.Subscription, error) {
	return m.upgrade(ctx, userID, newPlanID, subscriptionRef, types.SubscriptionChangeReasonUpgrade)
}

func (m *Manager) upgrade(ctx context.Context, userID, newPlanID, subscriptionRef string, reason types.SubscriptionChangeReason) (*models.Subscription, error) {
	sub, err := m.store.GetSubscriptionByUserID(ctx, userID)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSubscription, userID)
	}
	if err != nil {
		return nil, err
	}
	if _, err := m.catalog.Get(newPlanID); err != nil {
		return nil, err
	}
	before := *sub

	now := m.now()
	sub.PlanID = newPlanID
	sub.Status = types.SubscriptionStatusActive
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = now.AddDate(0, 1, 0)
	sub.TrialEnd = nil
	sub.CancelAtPeriodEnd = false
	if subscriptionRef != "" {
		sub.StripeSubscriptionID = lo.ToPtr(subscriptionRef)
	}
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	m.recordChange(ctx, reason, &before, sub)
	logctx.FromCtx(ctx, m.log).Infow("subscription upgraded", "user_id", userID, "plan_id", newPlanID, "reason", reason)
	return sub, nil
}

// UpgradeFromTrial is the auto-conversion path; identical to
// UpgradeSubscription but logged with its own change reason.
func (m *Manager) UpgradeFromTrial(ctx context.Context, userID, newPlanID, subscriptionRef string) (*models.Subscription, error) {
	return m.upgrade(ctx, userID, newPlanID, subscriptionRef, types.SubscriptionChangeReasonAutoUpgrade)
}

// ApplyBillingStatus applies an external billing-status update (webhook
// driven). Canceled is terminal. A transition to active at or past the
// period end rolls the period forward, since the processor has collected
// the next cycle.
func (m *Manager) ApplyBillingStatus(ctx context.Context, userID string, status types.SubscriptionStatus, cancelAtPeriodEnd *bool) (*models.Subscription, error) {
	switch status {
	case types.SubscriptionStatusActive, types.SubscriptionStatusPastDue, types.SubscriptionStatusCanceled:
	default:
		return nil, fmt.Errorf("invalid billing status: %s", status)
	}
	sub, err := m.store.GetSubscriptionByUserID(ctx, userID)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSubscription, userID)
	}
	if err != nil {
		return nil, err
	}
	if sub.Status == types.SubscriptionStatusCanceled {
		return nil, ErrSubscriptionCanceled
	}
	before := *sub

	now := m.now()
	if status == types.SubscriptionStatusActive && !now.Before(sub.CurrentPeriodEnd) {
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = now.AddDate(0, 1, 0)
	}
	sub.Status = status
	if status == types.SubscriptionStatusActive && sub.PlanID == types.PlanIDTrial {
		// processor confirmed payment for a trial record; trial bookkeeping
		// no longer applies
		sub.TrialEnd = nil
	}
	if cancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *cancelAtPeriodEnd
	}
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	m.recordChange(ctx, types.SubscriptionChangeReasonBillingEvent, &before, sub)
	logctx.FromCtx(ctx, m.log).Infow("billing status applied", "user_id", userID, "status", status)
	return sub, nil
}

// SetCancelAtPeriodEnd mirrors the processor's renewal flag without
// touching status or period.
func (m *Manager) SetCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) (*models.Subscription, error) {
	sub, err := m.store.GetSubscriptionByUserID(ctx, userID)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSubscription, userID)
	}
	if err != nil {
		return nil, err
	}
	if sub.Status == types.SubscriptionStatusCanceled {
		return nil, ErrSubscriptionCanceled
	}
	if sub.CancelAtPeriodEnd == cancel {
		return sub, nil
	}
	before := *sub
	sub.CancelAtPeriodEnd = cancel
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	m.recordChange(ctx, types.SubscriptionChangeReasonBillingEvent, &before, sub)
	logctx.FromCtx(ctx, m.log).Infow("cancel-at-period-end updated", "user_id", userID, "cancel", cancel)
	return sub, nil
}

func (m *Manager) recordChange(ctx context.Context, reason types.SubscriptionChangeReason, before, after *models.Subscription) {
	if m.audit == nil {
		return
	}
	m.audit.Record(ctx, reason, before, after)
}
