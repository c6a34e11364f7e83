package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandforge/metering/internal/models"
	"github.com/brandforge/metering/internal/store"
	"github.com/brandforge/metering/pkg/types"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newSub(userID string) *models.Subscription {
	return &models.Subscription{
		UserID:             userID,
		PlanID:             "basic",
		Status:             types.SubscriptionStatusActive,
		CurrentPeriodStart: base,
		CurrentPeriodEnd:   base.AddDate(0, 1, 0),
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetSubscriptionByUserID(ctx, "u1")
	require.ErrorIs(t, err, store.ErrSubscriptionNotFound)

	sub := newSub("u1")
	require.NoError(t, s.CreateSubscription(ctx, sub))
	assert.NotEmpty(t, sub.ID)

	require.ErrorIs(t, s.CreateSubscription(ctx, newSub("u1")), store.ErrDuplicateSubscription)

	got, err := s.GetSubscriptionByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "basic", got.PlanID)

	// reads return copies
	got.PlanID = "pro"
	again, err := s.GetSubscriptionByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "basic", again.PlanID)

	got.PlanID = "pro"
	require.NoError(t, s.UpdateSubscription(ctx, got))
	again, err = s.GetSubscriptionByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "pro", again.PlanID)

	require.ErrorIs(t, s.UpdateSubscription(ctx, newSub("missing")), store.ErrSubscriptionNotFound)
}

func TestCountBuildsSince_WindowFilter(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.RecordBuildUsage(ctx, "u1", types.BuildTypeMVP, base.Add(-time.Hour))
	require.NoError(t, err)
	_, err = s.RecordBuildUsage(ctx, "u1", types.BuildTypeBranding, base)
	require.NoError(t, err)
	_, err = s.RecordBuildUsage(ctx, "u1", types.BuildTypeMarketing, base.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.RecordBuildUsage(ctx, "u2", types.BuildTypeMVP, base)
	require.NoError(t, err)

	count, err := s.CountBuildsSince(ctx, "u1", base)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = s.CountBuildsSince(ctx, "u1", base.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestCountBonusUnlocksSince(t *testing.T) {
	s := New()
	ctx := context.Background()

	mvpID := "mvp-1"
	ev, err := s.RecordBonusUnlock(ctx, "u1", &mvpID, "analytics", base)
	require.NoError(t, err)
	assert.Equal(t, "analytics", ev.UnlockedFeature)
	_, err = s.RecordBonusUnlock(ctx, "u1", nil, "export", base.Add(-time.Hour))
	require.NoError(t, err)

	count, err := s.CountBonusUnlocksSince(ctx, "u1", base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestListTrialSubscriptionsDue(t *testing.T) {
	s := New()
	ctx := context.Background()

	dueEnd := base.Add(-time.Minute)
	liveEnd := base.Add(time.Hour)

	due := newSub("due")
	due.PlanID = types.PlanIDTrial
	due.Status = types.SubscriptionStatusTrialing
	due.TrialEnd = &dueEnd
	require.NoError(t, s.CreateSubscription(ctx, due))

	live := newSub("live")
	live.PlanID = types.PlanIDTrial
	live.Status = types.SubscriptionStatusTrialing
	live.TrialEnd = &liveEnd
	require.NoError(t, s.CreateSubscription(ctx, live))

	paid := newSub("paid")
	require.NoError(t, s.CreateSubscription(ctx, paid))

	got, err := s.ListTrialSubscriptionsDue(ctx, base)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "due", got[0].UserID)

	// boundary: a trial ending exactly at asOf is due
	got, err = s.ListTrialSubscriptionsDue(ctx, liveEnd)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
