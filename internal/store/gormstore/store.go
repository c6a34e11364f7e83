package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/brandforge/metering/internal/models"
	"github.com/brandforge/metering/internal/store"
	"github.com/brandforge/metering/pkg/tool"
	"github.com/brandforge/metering/pkg/types"
)

// Store is the Postgres-backed UsageStore.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func NewUsageStore(db *gorm.DB) store.UsageStore {
	return New(db)
}

func (s *Store) GetSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = tool.GenerateUUIDV7()
	}
	err := s.db.WithContext(ctx).Create(sub).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// user_id unique index: one current record per user
		return store.ErrDuplicateSubscription
	}
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func (s *Store) ListTrialSubscriptionsDue(ctx context.Context, asOf time.Time) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("plan_id = ?", types.PlanIDTrial).
		Where("status = ?", types.SubscriptionStatusTrialing).
		Where("trial_end IS NOT NULL AND trial_end <= ?", asOf).
		Order("trial_end asc").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due trials: %w", err)
	}
	return subs, nil
}

func (s *Store) RecordBuildUsage(ctx context.Context, userID string, buildType types.BuildType, occurredAt time.Time) (*models.BuildUsageEvent, error) {
	ev := &models.BuildUsageEvent{
		ID:         tool.GenerateUUIDV7(),
		UserID:     userID,
		BuildType:  buildType,
		OccurredAt: occurredAt,
	}
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, fmt.Errorf("failed to record build usage: %w", err)
	}
	return ev, nil
}

func (s *Store) CountBuildsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.BuildUsageEvent{}).
		Where("user_id = ? AND occurred_at >= ?", userID, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count builds: %w", err)
	}
	return count, nil
}

func (s *Store) RecordBonusUnlock(ctx context.Context, userID string, mvpID *string, feature string, occurredAt time.Time) (*models.BonusUnlockEvent, error) {
	ev := &models.BonusUnlockEvent{
		ID:              tool.GenerateUUIDV7(),
		UserID:          userID,
		MVPID:           mvpID,
		UnlockedFeature: feature,
		OccurredAt:      occurredAt,
	}
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, fmt.Errorf("failed to record bonus unlock: %w", err)
	}
	return ev, nil
}

func (s *Store) CountBonusUnlocksSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.BonusUnlockEvent{}).
		Where("user_id = ? AND occurred_at >= ?", userID, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count bonus unlocks: %w", err)
	}
	return count, nil
}

// ReserveBuild is the strict alternative to the two-step check/record
// protocol: one conditional insert that only lands while the period count
// is still under the limit. Returns false when the quota is exhausted.
// The metering manager keeps the documented non-atomic protocol; callers
// that need hard enforcement can use this instead.
func (s *Store) ReserveBuild(ctx context.Context, userID string, buildType types.BuildType, since time.Time, limit int64) (bool, error) {
	res := s.db.WithContext(ctx).Exec(`
INSERT INTO build_usage_event (id, user_id, build_type, occurred_at, created_at)
SELECT ?, ?, ?, NOW(), NOW()
WHERE (SELECT COUNT(*) FROM build_usage_event WHERE user_id = ? AND occurred_at >= ?) < ?`,
		tool.GenerateUUIDV7(), userID, string(buildType), userID, since, limit)
	if res.Error != nil {
		return false, fmt.Errorf("failed to reserve build: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

var Module = fx.Options(
	fx.Provide(NewUsageStore),
)
