package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brandforge/metering/internal/app/service/plan"
	"github.com/brandforge/metering/internal/models"
	"github.com/brandforge/metering/internal/store"
	"github.com/brandforge/metering/internal/store/memstore"
	"github.com/brandforge/metering/pkg/config"
	"github.com/brandforge/metering/pkg/types"
)

var testBase = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestConfig() *config.Config {
	return &config.Config{
		Billing: config.BillingConfig{TrialDays: 7},
		Plans: map[string]*types.PlanDefinition{
			"trial": {
				Name:             "Trial",
				Price:            0,
				AutoUpgradePrice: lo.ToPtr(int64(999)),
				AutoUpgradePlan:  "pro",
				Features:         types.PlanFeatures{BuildsPerMonth: 2, BonusPrizeUnlocks: 1},
			},
			"basic": {
				Name:     "Basic",
				Price:    1900,
				Features: types.PlanFeatures{BuildsPerMonth: 4, BonusPrizeUnlocks: 1},
			},
			"pro": {
				Name:     "Pro",
				Price:    4900,
				Features: types.PlanFeatures{UnlimitedBuilds: true, BonusPrizeUnlocks: 3},
			},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *memstore.Store) {
	t.Helper()
	cfg := newTestConfig()
	catalog, err := plan.NewCatalog(cfg)
	require.NoError(t, err)
	st := memstore.New()
	mgr := NewManager(cfg, catalog, st, nil, zap.NewNop().Sugar())
	mgr.now = func() time.Time { return testBase }
	return mgr, st
}

func TestCanPerformBuild_NoSubscription(t *testing.T) {
	mgr, _ := newTestManager(t)

	decision, err := mgr.CanPerformBuild(context.Background(), "u1", types.BuildTypeMVP)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, types.DecisionReasonNoSubscription, decision.Reason)
	assert.Nil(t, decision.Used)
}

func TestCanPerformBuild_InvalidBuildType(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.CanPerformBuild(context.Background(), "u1", "podcast")
	require.ErrorIs(t, err, ErrInvalidBuildType)
}

func TestCanPerformBuild_LimitedPlan(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		decision, err := mgr.CanPerformBuild(ctx, "u1", types.BuildTypeMVP)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		assert.Equal(t, int64(i), *decision.Used)
		assert.Equal(t, int64(4), *decision.Limit)
		assert.Equal(t, int64(4-i), *decision.Remaining)
		require.NoError(t, mgr.RecordBuild(ctx, "u1", types.BuildTypeMVP))
	}

	decision, err := mgr.CanPerformBuild(ctx, "u1", types.BuildTypeBranding)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, types.DecisionReasonLimitExceeded, decision.Reason)
	assert.Equal(t, int64(4), *decision.Used)
	assert.Equal(t, int64(4), *decision.Limit)
	assert.Nil(t, decision.Remaining)
}

func TestCanPerformBuild_UnlimitedPlan(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreatePaidSubscription(ctx, "u1", "pro", "", "")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, mgr.RecordBuild(ctx, "u1", types.BuildTypeMarketing))
	}
	decision, err := mgr.CanPerformBuild(ctx, "u1", types.BuildTypeMVP)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, types.UnlimitedRemaining, *decision.Remaining)
	assert.Nil(t, decision.Used)
}

func TestRecordBuild_DeniedAppendsNothing(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, mgr.RecordBuild(ctx, "u1", types.BuildTypeMVP))
	}

	err = mgr.RecordBuild(ctx, "u1", types.BuildTypeMVP)
	var denied *BuildNotAllowedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, types.DecisionReasonLimitExceeded, denied.Decision.Reason)

	count, err := st.CountBuildsSince(ctx, "u1", testBase.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestRecordBuild_ConcurrentAtLastSlot(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.RecordBuild(ctx, "u1", types.BuildTypeMVP))
	}

	// one slot left; check and record are separate steps, so two racing
	// writers may both pass the check and over-grant by the burst size
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = mgr.RecordBuild(ctx, "u1", types.BuildTypeMVP)
		}(i)
	}
	wg.Wait()

	count, err := st.CountBuildsSince(ctx, "u1", testBase.Add(-time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, int64(4))
	assert.LessOrEqual(t, count, int64(5))
	for _, e := range errs {
		if e != nil {
			var denied *BuildNotAllowedError
			require.ErrorAs(t, e, &denied)
			assert.Equal(t, types.DecisionReasonLimitExceeded, denied.Decision.Reason)
		}
	}
}

func TestQuotaGate_StatusRules(t *testing.T) {
	tests := []struct {
		name              string
		status            types.SubscriptionStatus
		allowPastDueUsage bool
		wantAllowed       bool
		wantReason        types.DecisionReason
	}{
		{name: "active allowed", status: types.SubscriptionStatusActive, wantAllowed: true},
		{name: "trialing allowed", status: types.SubscriptionStatusTrialing, wantAllowed: true},
		{name: "past_due denied by default", status: types.SubscriptionStatusPastDue, wantAllowed: false, wantReason: types.DecisionReasonSubscriptionInactive},
		{name: "past_due allowed when configured", status: types.SubscriptionStatusPastDue, allowPastDueUsage: true, wantAllowed: true},
		{name: "canceled always denied", status: types.SubscriptionStatusCanceled, allowPastDueUsage: true, wantAllowed: false, wantReason: types.DecisionReasonSubscriptionInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, st := newTestManager(t)
			mgr.cfg.Billing.AllowPastDueUsage = tt.allowPastDueUsage
			ctx := context.Background()
			sub, err := mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
			require.NoError(t, err)
			sub.Status = tt.status
			require.NoError(t, st.UpdateSubscription(ctx, sub))

			decision, err := mgr.CanPerformBuild(ctx, "u1", types.BuildTypeMVP)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, decision.Allowed)
			if !tt.wantAllowed {
				assert.Equal(t, tt.wantReason, decision.Reason)
			}
		})
	}
}

func TestCanPerformBuild_UnknownPlanOnRecord(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()
	sub, err := mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
	require.NoError(t, err)
	sub.PlanID = "legacy_gold"
	require.NoError(t, st.UpdateSubscription(ctx, sub))

	decision, err := mgr.CanPerformBuild(ctx, "u1", types.BuildTypeMVP)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, types.DecisionReasonInvalidPlan, decision.Reason)
}

func TestBonusUnlockQuota(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
	require.NoError(t, err)

	decision, err := mgr.CanUnlockBonusPrize(ctx, "u1")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	assert.Equal(t, int64(1), *decision.Limit)

	require.NoError(t, mgr.RecordBonusUnlock(ctx, "u1", lo.ToPtr("mvp-1"), "analytics"))

	decision, err = mgr.CanUnlockBonusPrize(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, types.DecisionReasonLimitExceeded, decision.Reason)

	err = mgr.RecordBonusUnlock(ctx, "u1", nil, "analytics")
	var denied *BuildNotAllowedError
	require.ErrorAs(t, err, &denied)
}

func TestCreateTrialSubscription(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	sub, err := mgr.CreateTrialSubscription(ctx, "u1", "cus_123")
	require.NoError(t, err)
	assert.Equal(t, types.PlanIDTrial, sub.PlanID)
	assert.Equal(t, types.SubscriptionStatusTrialing, sub.Status)
	require.NotNil(t, sub.TrialEnd)
	assert.Equal(t, testBase.Add(7*24*time.Hour), *sub.TrialEnd)
	assert.Equal(t, sub.CurrentPeriodEnd, *sub.TrialEnd)
	require.NotNil(t, sub.StripeCustomerID)
	assert.Equal(t, "cus_123", *sub.StripeCustomerID)

	_, err = mgr.CreateTrialSubscription(ctx, "u1", "")
	require.ErrorIs(t, err, store.ErrDuplicateSubscription)
}

func TestCreatePaidSubscription_TrialPlanDelegates(t *testing.T) {
	mgr, _ := newTestManager(t)

	sub, err := mgr.CreatePaidSubscription(context.Background(), "u1", types.PlanIDTrial, "", "")
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusTrialing, sub.Status)
	assert.NotNil(t, sub.TrialEnd)
}

func TestCreatePaidSubscription_UnknownPlan(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.CreatePaidSubscription(context.Background(), "u1", "platinum", "", "")
	require.ErrorIs(t, err, plan.ErrUnknownPlan)
}

func TestTrialWindowBoundaries(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	sub, err := mgr.CreateTrialSubscription(ctx, "u1", "")
	require.NoError(t, err)
	trialEnd := *sub.TrialEnd

	mgr.now = func() time.Time { return trialEnd.Add(-time.Millisecond) }
	inTrial, err := mgr.IsInTrial(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, inTrial)
	due, err := mgr.ShouldUpgradeFromTrial(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, due)

	// trial end is exclusive
	mgr.now = func() time.Time { return trialEnd }
	inTrial, err = mgr.IsInTrial(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, inTrial)
	due, err = mgr.ShouldUpgradeFromTrial(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, due)
}

func TestUpgradeSubscription(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreateTrialSubscription(ctx, "u1", "")
	require.NoError(t, err)

	upgradeAt := testBase.Add(3 * 24 * time.Hour)
	mgr.now = func() time.Time { return upgradeAt }

	sub, err := mgr.UpgradeSubscription(ctx, "u1", "pro", "sub_456")
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.TrialEnd)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, upgradeAt, sub.CurrentPeriodStart)
	assert.Equal(t, upgradeAt.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
	require.NotNil(t, sub.StripeSubscriptionID)
	assert.Equal(t, "sub_456", *sub.StripeSubscriptionID)
}

func TestUpgradeSubscription_Errors(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.UpgradeSubscription(ctx, "missing", "pro", "")
	require.ErrorIs(t, err, ErrNoSubscription)

	_, err = mgr.CreateTrialSubscription(ctx, "u1", "")
	require.NoError(t, err)
	_, err = mgr.UpgradeSubscription(ctx, "u1", "platinum", "")
	require.ErrorIs(t, err, plan.ErrUnknownPlan)
}

func TestUpgradeResetsUsageWindow(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, mgr.RecordBuild(ctx, "u1", types.BuildTypeMVP))
	}

	mgr.now = func() time.Time { return testBase.Add(time.Hour) }
	_, err = mgr.UpgradeSubscription(ctx, "u1", "basic", "")
	require.NoError(t, err)

	// old events fall outside the new period
	decision, err := mgr.CanPerformBuild(ctx, "u1", types.BuildTypeMVP)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(0), *decision.Used)
}

func TestApplyBillingStatus(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
	require.NoError(t, err)

	sub, err := mgr.ApplyBillingStatus(ctx, "u1", types.SubscriptionStatusPastDue, nil)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusPastDue, sub.Status)

	// renewal at period end rolls the window forward
	renewAt := sub.CurrentPeriodEnd
	mgr.now = func() time.Time { return renewAt }
	sub, err = mgr.ApplyBillingStatus(ctx, "u1", types.SubscriptionStatusActive, nil)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, renewAt, sub.CurrentPeriodStart)
	assert.Equal(t, renewAt.AddDate(0, 1, 0), sub.CurrentPeriodEnd)

	_, err = mgr.ApplyBillingStatus(ctx, "u1", types.SubscriptionStatusCanceled, nil)
	require.NoError(t, err)
	_, err = mgr.ApplyBillingStatus(ctx, "u1", types.SubscriptionStatusActive, nil)
	require.ErrorIs(t, err, ErrSubscriptionCanceled)
}

func TestApplyBillingStatus_InvalidStatus(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.ApplyBillingStatus(context.Background(), "u1", "paused", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid billing status")
}

func TestApplyBillingStatus_ActiveClearsTrialBookkeeping(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreateTrialSubscription(ctx, "u1", "")
	require.NoError(t, err)

	sub, err := mgr.ApplyBillingStatus(ctx, "u1", types.SubscriptionStatusActive, nil)
	require.NoError(t, err)
	assert.Nil(t, sub.TrialEnd)
}

func TestSetCancelAtPeriodEnd(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
	require.NoError(t, err)

	sub, err := mgr.SetCancelAtPeriodEnd(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)

	// repeat is a no-op
	sub, err = mgr.SetCancelAtPeriodEnd(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)

	_, err = mgr.SetCancelAtPeriodEnd(ctx, "missing", true)
	require.ErrorIs(t, err, ErrNoSubscription)
}

func TestGetUsageStats(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := mgr.GetUsageStats(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, err = mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
	require.NoError(t, err)
	require.NoError(t, mgr.RecordBuild(ctx, "u1", types.BuildTypeMVP))
	require.NoError(t, mgr.RecordBuild(ctx, "u1", types.BuildTypeBranding))
	require.NoError(t, mgr.RecordBonusUnlock(ctx, "u1", nil, "analytics"))

	snap, err = mgr.GetUsageStats(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "basic", snap.PlanID)
	assert.Equal(t, "Basic", snap.PlanName)
	assert.False(t, snap.IsUnlimited)
	assert.Equal(t, int64(2), snap.BuildsUsed)
	assert.Equal(t, int64(4), snap.BuildsLimit)
	assert.Equal(t, int64(2), snap.BuildsRemaining)
	assert.Equal(t, int64(1), snap.BonusUnlocksUsed)
	assert.Equal(t, int64(0), snap.BonusUnlocksRemaining)
}

func TestGetUsageStats_Unlimited(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreatePaidSubscription(ctx, "u1", "pro", "", "")
	require.NoError(t, err)
	require.NoError(t, mgr.RecordBuild(ctx, "u1", types.BuildTypeMVP))

	snap, err := mgr.GetUsageStats(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snap.IsUnlimited)
	assert.Equal(t, int64(1), snap.BuildsUsed)
	assert.Equal(t, types.UnlimitedRemaining, snap.BuildsRemaining)
}

func TestGetUsageStats_UnknownPlanPropagates(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()
	sub, err := mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
	require.NoError(t, err)
	sub.PlanID = "legacy_gold"
	require.NoError(t, st.UpdateSubscription(ctx, sub))

	_, err = mgr.GetUsageStats(ctx, "u1")
	require.ErrorIs(t, err, plan.ErrUnknownPlan)
}

func TestHasActiveSubscription(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	active, err := mgr.HasActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, active)

	sub, err := mgr.CreatePaidSubscription(ctx, "u1", "basic", "", "")
	require.NoError(t, err)
	active, err = mgr.HasActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, active)

	planID, err := mgr.GetUserPlan(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "basic", planID)

	// expired period no longer counts
	mgr.now = func() time.Time { return sub.CurrentPeriodEnd }
	active, err = mgr.HasActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, active)
	planID, err = mgr.GetUserPlan(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "", planID)
}

func TestChangeRecorderReceivesTransitions(t *testing.T) {
	cfg := newTestConfig()
	catalog, err := plan.NewCatalog(cfg)
	require.NoError(t, err)
	rec := &capturingRecorder{}
	mgr := NewManager(cfg, catalog, memstore.New(), rec, zap.NewNop().Sugar())
	mgr.now = func() time.Time { return testBase }
	ctx := context.Background()

	_, err = mgr.CreateTrialSubscription(ctx, "u1", "")
	require.NoError(t, err)
	_, err = mgr.UpgradeFromTrial(ctx, "u1", "pro", "pi_1")
	require.NoError(t, err)

	require.Len(t, rec.reasons, 2)
	assert.Equal(t, types.SubscriptionChangeReasonTrialStart, rec.reasons[0])
	assert.Equal(t, types.SubscriptionChangeReasonAutoUpgrade, rec.reasons[1])
	require.NotNil(t, rec.befores[1])
	assert.Equal(t, types.PlanIDTrial, rec.befores[1].PlanID)
}

type capturingRecorder struct {
	reasons []types.SubscriptionChangeReason
	befores []*models.Subscription
}

func (r *capturingRecorder) Record(_ context.Context, reason types.SubscriptionChangeReason, before, _ *models.Subscription) {
	r.reasons = append(r.reasons, reason)
	r.befores = append(r.befores, before)
}
