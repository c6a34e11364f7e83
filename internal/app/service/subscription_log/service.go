package subscription_log

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/brandforge/metering/internal/models"
	"github.com/brandforge/metering/pkg/logctx"
	"github.com/brandforge/metering/pkg/tool"
	"github.com/brandforge/metering/pkg/types"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Record asynchronously persists a subscription change log row. Write
// errors are logged, never returned; history must not block the change
// itself.
func (s *Service) Record(ctx context.Context, reason types.SubscriptionChangeReason, before, after *models.Subscription) {
	if after == nil {
		return
	}
	entry := &models.SubscriptionLog{
		ID:     tool.GenerateUUIDV7(),
		UserID: after.UserID,
		Reason: reason,
		Before: datatypes.NewJSONType(before),
		After:  datatypes.NewJSONType(after),
		Extra:  datatypes.JSONMap{},
	}
	go func() {
		if err := s.db.Save(entry).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save subscription log: %v", err)
		}
	}()
}
