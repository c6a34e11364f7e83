package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/brandforge/metering/internal/models"
	"github.com/brandforge/metering/internal/store"
	"github.com/brandforge/metering/pkg/tool"
	"github.com/brandforge/metering/pkg/types"
)

// Store is an in-memory UsageStore for tests and local development. It
// enforces the same one-subscription-per-user rule as the Postgres adapter.
type Store struct {
	mu      sync.Mutex
	subs    map[string]*models.Subscription
	builds  []*models.BuildUsageEvent
	unlocks []*models.BonusUnlockEvent
}

func New() *Store {
	return &Store{subs: make(map[string]*models.Subscription)}
}

func (s *Store) GetSubscriptionByUserID(_ context.Context, userID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.UserID]; ok {
		return store.ErrDuplicateSubscription
	}
	if sub.ID == "" {
		sub.ID = tool.GenerateUUIDV7()
	}
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	cp := *sub
	s.subs[sub.UserID] = &cp
	return nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subs[sub.UserID]
	if !ok {
		return store.ErrSubscriptionNotFound
	}
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = time.Now()
	cp := *sub
	s.subs[sub.UserID] = &cp
	return nil
}

func (s *Store) ListTrialSubscriptionsDue(_ context.Context, asOf time.Time) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.Subscription
	for _, sub := range s.subs {
		if sub.PlanID != types.PlanIDTrial || sub.Status != types.SubscriptionStatusTrialing {
			continue
		}
		if sub.TrialEnd != nil && !sub.TrialEnd.After(asOf) {
			cp := *sub
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (s *Store) RecordBuildUsage(_ context.Context, userID string, buildType types.BuildType, occurredAt time.Time) (*models.BuildUsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := &models.BuildUsageEvent{
		ID:         tool.GenerateUUIDV7(),
		UserID:     userID,
		BuildType:  buildType,
		OccurredAt: occurredAt,
		CreatedAt:  time.Now(),
	}
	s.builds = append(s.builds, ev)
	cp := *ev
	return &cp, nil
}

func (s *Store) CountBuildsSince(_ context.Context, userID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, ev := range s.builds {
		if ev.UserID == userID && !ev.OccurredAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) RecordBonusUnlock(_ context.Context, userID string, mvpID *string, feature string, occurredAt time.Time) (*models.BonusUnlockEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := &models.BonusUnlockEvent{
		ID:              tool.GenerateUUIDV7(),
		UserID:          userID,
		MVPID:           mvpID,
		UnlockedFeature: feature,
		OccurredAt:      occurredAt,
		CreatedAt:       time.Now(),
	}
	s.unlocks = append(s.unlocks, ev)
	cp := *ev
	return &cp, nil
}

func (s *Store) CountBonusUnlocksSince(_ context.Context, userID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, ev := range s.unlocks {
		if ev.UserID == userID && !ev.OccurredAt.Before(since) {
			count++
		}
	}
	return count, nil
}
