package models

import (
	"time"

	"github.com/brandforge/metering/pkg/types"
)

// BuildUsageEvent is one billable content-generation action. Rows are
// append-only and only ever read in aggregate (count since period start).
type BuildUsageEvent struct {
	ID         string          `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID     string          `gorm:"column:user_id;type:varchar(64);not null;index:idx_build_usage_user_occurred,priority:1" json:"user_id"`
	BuildType  types.BuildType `gorm:"column:build_type;type:varchar(32);not null" json:"build_type"`
	OccurredAt time.Time       `gorm:"column:occurred_at;not null;index:idx_build_usage_user_occurred,priority:2" json:"occurred_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (BuildUsageEvent) TableName() string {
	return "build_usage_event"
}
