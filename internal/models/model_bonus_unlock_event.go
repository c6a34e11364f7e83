package models

import "time"

// BonusUnlockEvent records one redeemed gamified reward. Append-only,
// read in aggregate like BuildUsageEvent.
type BonusUnlockEvent struct {
	ID     string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(64);not null;index:idx_bonus_unlock_user_occurred,priority:1" json:"user_id"`
	// MVPID links the unlock to the product concept it was redeemed on, when
	// the caller provides one.
	MVPID           *string   `gorm:"column:mvp_id;type:varchar(64)" json:"mvp_id"`
	UnlockedFeature string    `gorm:"column:unlocked_feature;type:varchar(128);not null" json:"unlocked_feature"`
	OccurredAt      time.Time `gorm:"column:occurred_at;not null;index:idx_bonus_unlock_user_occurred,priority:2" json:"occurred_at"`
	CreatedAt       time.Time `json:"created_at"`
}

func (BonusUnlockEvent) TableName() string {
	return "bonus_unlock_event"
}
