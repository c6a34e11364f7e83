package statistics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/brandforge/metering/internal/models"
	"github.com/brandforge/metering/pkg/tool"
	"github.com/brandforge/metering/pkg/types"
)

type StatisticType string

const (
	// Usage event series
	StatisticTypeDailyBuildCount       StatisticType = "daily_build_count"
	StatisticTypeTotalBuildCount       StatisticType = "total_build_count"
	StatisticTypeDailyBonusUnlockCount StatisticType = "daily_bonus_unlock_count"

	// Subscription base series
	StatisticTypeDailySubscriptionCount       StatisticType = "daily_subscription_count"
	StatisticTypeDailyNewSubscriptionCount    StatisticType = "daily_new_subscription_count"
	StatisticTypeTotalActiveSubscriptionCount StatisticType = "total_active_subscription_count"
	StatisticTypePlanDistribution             StatisticType = "plan_distribution"
	StatisticTypeDailyAccumulatedUserCount    StatisticType = "daily_accumulated_user_count"
)

// Filter fields only certain statistic types understand.
type MeteringStatisticFilterType string

const (
	MeteringStatisticFilterTypeBuildType MeteringStatisticFilterType = "build_type"
	MeteringStatisticFilterTypePlanID    MeteringStatisticFilterType = "plan_id"
)

var filterTypes = []MeteringStatisticFilterType{
	MeteringStatisticFilterTypeBuildType,
	MeteringStatisticFilterTypePlanID,
}

var validFilters = map[MeteringStatisticFilterType][]StatisticType{
	MeteringStatisticFilterTypeBuildType: {StatisticTypeDailyBuildCount, StatisticTypeTotalBuildCount},
	MeteringStatisticFilterTypePlanID: {
		StatisticTypeDailySubscriptionCount,
		StatisticTypeTotalActiveSubscriptionCount,
		StatisticTypePlanDistribution,
	},
}

type MeteringStatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type MeteringStatisticRequest struct {
	Filters   []*types.CommonFilter        `json:"filters"`
	DataItems []*MeteringStatisticDataItem `json:"data_items"`
}

func (f *MeteringStatisticRequest) GetFilters(statisticType StatisticType) *MeteringStatisticRequest {
	if f == nil || len(f.Filters) == 0 {
		return f
	}
	var result MeteringStatisticRequest
	for _, filter := range f.Filters {
		if statisticTypes, ok := validFilters[MeteringStatisticFilterType(filter.Field)]; ok {
			if lo.Contains(statisticTypes, statisticType) {
				result.Filters = append(result.Filters, filter)
			}
		} else {
			result.Filters = append(result.Filters, filter)
		}
	}
	return &result
}

// Build composes a WHERE clause from the provided filters.
func (f *MeteringStatisticRequest) Build(builder clause.Builder) {
	if len(f.Filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, filter := range f.Filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		filter.Build(builder)
	}
}

type MeteringStatisticResponseDataItem struct {
	Date  string `json:"date"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type MeteringStatisticResponse struct {
	DataItems map[StatisticType][]MeteringStatisticResponseDataItem `json:"data_items"`
}

// Service answers the admin statistics queries off the event streams and
// the daily subscription snapshots.
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service { return &Service{db: db} }

// SaveSubscriptionDailySnapshot persists a daily snapshot of a user's
// subscription state. The unique index makes the job idempotent per day.
func (s *Service) SaveSubscriptionDailySnapshot(ctx context.Context, subscription *models.Subscription, snapshotDate time.Time) error {
	if subscription == nil {
		return fmt.Errorf("nil subscription")
	}
	snap := &models.SubscriptionDailySnapshot{
		ID:                tool.GenerateUUIDV7(),
		UserID:            subscription.UserID,
		PlanID:            subscription.PlanID,
		Status:            subscription.Status,
		CurrentPeriodEnd:  &subscription.CurrentPeriodEnd,
		CancelAtPeriodEnd: subscription.CancelAtPeriodEnd,
		SnapshotDate:      snapshotDate.Format(time.DateOnly),
		SnapshotCreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(snap).Error
}

func (s *Service) getDailyBuildCount(ctx context.Context, request *MeteringStatisticRequest) ([]MeteringStatisticResponseDataItem, error) {
	var results []MeteringStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.BuildUsageEvent{}).TableName()).
		Select("TO_CHAR(occurred_at, 'YYYY-MM-DD') as date, build_type as label, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeDailyBuildCount)}}).
		Group("TO_CHAR(occurred_at, 'YYYY-MM-DD')").
		Group("build_type").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTotalBuildCount(ctx context.Context, request *MeteringStatisticRequest) ([]MeteringStatisticResponseDataItem, error) {
	var results []MeteringStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.BuildUsageEvent{}).TableName()).
		Select("count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeTotalBuildCount)}})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyBonusUnlockCount(ctx context.Context, request *MeteringStatisticRequest) ([]MeteringStatisticResponseDataItem, error) {
	var results []MeteringStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.BonusUnlockEvent{}).TableName()).
		Select("TO_CHAR(occurred_at, 'YYYY-MM-DD') as date, unlocked_feature as label, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeDailyBonusUnlockCount)}}).
		Group("TO_CHAR(occurred_at, 'YYYY-MM-DD')").
		Group("unlocked_feature").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailySubscriptionCount(ctx context.Context, request *MeteringStatisticRequest) ([]MeteringStatisticResponseDataItem, error) {
	var results []MeteringStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.SubscriptionDailySnapshot{}).TableName()).
		Select("snapshot_date as date, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeDailySubscriptionCount)}}).
		Group("snapshot_date").
		Order("snapshot_date")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyNewSubscriptionCount(ctx context.Context, _ *MeteringStatisticRequest) ([]MeteringStatisticResponseDataItem, error) {
	var results []MeteringStatisticResponseDataItem
	err := s.db.WithContext(ctx).Raw(`
WITH distinct_dates AS (
    SELECT DISTINCT DATE(created_at) as date FROM subscription ORDER BY date
),
user_id_date AS (
    SELECT user_id, DATE(created_at) as date FROM subscription
)
SELECT d.date, COUNT(DISTINCT s.user_id) as value
FROM distinct_dates d
JOIN user_id_date s ON s.date = d.date
GROUP BY d.date
ORDER BY d.date DESC
`).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTotalActiveSubscriptionCount(ctx context.Context, request *MeteringStatisticRequest) ([]MeteringStatisticResponseDataItem, error) {
	var results []MeteringStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeTotalActiveSubscriptionCount)}}).
		Where("status IN ?", []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrialing}).
		Where("current_period_end >= ?", time.Now())
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getPlanDistribution(ctx context.Context, request *MeteringStatisticRequest) ([]MeteringStatisticResponseDataItem, error) {
	var results []MeteringStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("plan_id as label, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypePlanDistribution)}}).
		Where("status != ?", types.SubscriptionStatusCanceled).
		Group("plan_id").
		Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyAccumulatedUserCount(ctx context.Context, _ *MeteringStatisticRequest) ([]MeteringStatisticResponseDataItem, error) {
	var results []MeteringStatisticResponseDataItem
	err := s.db.WithContext(ctx).Raw(`
WITH min_max_dates AS (
    SELECT MIN(DATE(created_at)) as min_date, MAX(DATE(created_at)) as max_date FROM subscription
),
distinct_dates AS (
    SELECT generate_series(min_date, max_date, '1 day'::interval) as date FROM min_max_dates
),
user_id_date AS (
    SELECT user_id, DATE(created_at) as date FROM subscription
)
SELECT TO_CHAR(d.date, 'YYYY-MM-DD') as date, COUNT(DISTINCT s.user_id) as value
FROM distinct_dates d
LEFT JOIN user_id_date s ON s.date <= d.date
GROUP BY d.date
ORDER BY d.date DESC
`).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getMeteringStatistic(ctx context.Context, request *MeteringStatisticRequest, dataItem *MeteringStatisticDataItem) ([]MeteringStatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeDailyBuildCount:
		return s.getDailyBuildCount(ctx, request)
	case StatisticTypeTotalBuildCount:
		return s.getTotalBuildCount(ctx, request)
	case StatisticTypeDailyBonusUnlockCount:
		return s.getDailyBonusUnlockCount(ctx, request)
	case StatisticTypeDailySubscriptionCount:
		return s.getDailySubscriptionCount(ctx, request)
	case StatisticTypeDailyNewSubscriptionCount:
		return s.getDailyNewSubscriptionCount(ctx, request)
	case StatisticTypeTotalActiveSubscriptionCount:
		return s.getTotalActiveSubscriptionCount(ctx, request)
	case StatisticTypePlanDistribution:
		return s.getPlanDistribution(ctx, request)
	case StatisticTypeDailyAccumulatedUserCount:
		return s.getDailyAccumulatedUserCount(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

func (s *Service) GetMeteringStatistic(ctx context.Context, request *MeteringStatisticRequest) (*MeteringStatisticResponse, error) {
	var wg sync.WaitGroup
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []MeteringStatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		wg.Add(1)
		go func(di *MeteringStatisticDataItem) {
			defer wg.Done()
			// skip items a scoped filter does not apply to
			for _, filter := range request.Filters {
				ft := MeteringStatisticFilterType(filter.Field)
				if lo.Contains(filterTypes, ft) && !lo.Contains(validFilters[ft], di.ID) {
					resChan <- &lo.Entry[StatisticType, []MeteringStatisticResponseDataItem]{Key: di.ID, Value: nil}
					return
				}
			}
			res, err := s.getMeteringStatistic(ctx, request, di)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- &lo.Entry[StatisticType, []MeteringStatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	go func() { wg.Wait(); close(errChan); close(resChan) }()

	results := make(map[StatisticType][]MeteringStatisticResponseDataItem)
	for i := 0; i < len(request.DataItems); i++ {
		select {
		case err := <-errChan:
			if err != nil {
				return nil, err
			}
		case entry := <-resChan:
			results[entry.Key] = entry.Value
		}
	}
	return &MeteringStatisticResponse{DataItems: results}, nil
}
