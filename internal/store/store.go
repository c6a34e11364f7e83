package store

import (
	"context"
	"errors"
	"time"

	"github.com/brandforge/metering/internal/models"
	"github.com/brandforge/metering/pkg/types"
)

var (
	// ErrSubscriptionNotFound means the user has no billing record.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrDuplicateSubscription means a subscription row already exists for
	// the user; the store enforces one current record per user.
	ErrDuplicateSubscription = errors.New("subscription already exists for user")
)

// UsageStore is the persistence contract for subscription records and the
// two append-only usage event streams. Implementations fail fast on store
// errors; retries belong to the caller.
type UsageStore interface {
	GetSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	// ListTrialSubscriptionsDue returns trialing records whose trial window
	// ended at or before asOf, for the auto-upgrade driver.
	ListTrialSubscriptionsDue(ctx context.Context, asOf time.Time) ([]*models.Subscription, error)

	RecordBuildUsage(ctx context.Context, userID string, buildType types.BuildType, occurredAt time.Time) (*models.BuildUsageEvent, error)
	CountBuildsSince(ctx context.Context, userID string, since time.Time) (int64, error)

	RecordBonusUnlock(ctx context.Context, userID string, mvpID *string, feature string, occurredAt time.Time) (*models.BonusUnlockEvent, error)
	CountBonusUnlocksSince(ctx context.Context, userID string, since time.Time) (int64, error)
}
