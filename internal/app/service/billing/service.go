package billing

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	billinglog "github.com/brandforge/metering/internal/app/service/billing_log"
	"github.com/brandforge/metering/internal/app/service/plan"
	"github.com/brandforge/metering/internal/app/service/subscription"
	"github.com/brandforge/metering/internal/models"
	"github.com/brandforge/metering/internal/platform/stripegw"
	"github.com/brandforge/metering/internal/store"
	"github.com/brandforge/metering/pkg/config"
	"github.com/brandforge/metering/pkg/types"
)

const providerStripe = "stripe"

// Service ingests processor webhook events and drives trial auto-
// conversion. Subscription mutations always go through the manager so the
// state machine and change log stay in one place.
type Service struct {
	cfg      *config.Config
	catalog  *plan.Catalog
	store    store.UsageStore
	mgr      *subscription.Manager
	charger  stripegw.Charger
	eventLog *billinglog.Service
	log      *zap.SugaredLogger
}

func NewService(cfg *config.Config, catalog *plan.Catalog, st store.UsageStore, mgr *subscription.Manager, charger stripegw.Charger, eventLog *billinglog.Service, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, catalog: catalog, store: st, mgr: mgr, charger: charger, eventLog: eventLog, log: log}
}

// HandleWebhook verifies, logs, and applies one processor event. The
// received and handled/handle_failed log rows bracket the handling so a
// failed event can be replayed from the log.
func (s *Service) HandleWebhook(c *gin.Context) (resErr error) {
	payload, err := c.GetRawData()
	if err != nil {
		return fmt.Errorf("failed to read webhook body: %w", err)
	}
	event, err := stripegw.ParseEvent(s.cfg, payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		return fmt.Errorf("failed to verify webhook signature: %w", err)
	}
	parser, err := NewEventParser(event)
	if err != nil {
		return err
	}

	var userID string
	if v, e := parser.UserID(); e == nil {
		userID = v
	}
	var traceID string
	if v, ok := c.Get("traceID"); ok {
		if str, ok2 := v.(string); ok2 {
			traceID = str
		}
	}

	s.eventLog.Save(c.Request.Context(), &models.BillingEventLog{
		Provider: providerStripe,
		UserID: func() *string {
			if userID == "" {
				return nil
			}
			return lo.ToPtr(userID)
		}(),
		TraceID:   traceID,
		EventID:   parser.EventID(),
		EventType: parser.EventType(),
		EventTime: parser.EventTime(),
		Data:      datatypes.JSON(event.Data.Raw),
		Status:    models.BillingEventLogStatusReceived,
	})

	defer func() {
		resMap := map[string]any{"object_id": parser.ObjectID()}
		if resErr != nil {
			resMap["error"] = resErr.Error()
		}
		resBytes, _ := json.Marshal(resMap)
		status := models.BillingEventLogStatusHandled
		if resErr != nil {
			status = models.BillingEventLogStatusHandleFailed
		}
		s.eventLog.Save(c.Request.Context(), &models.BillingEventLog{
			Provider: providerStripe,
			UserID: func() *string {
				if userID == "" {
					return nil
				}
				return lo.ToPtr(userID)
			}(),
			TraceID:   traceID,
			EventID:   parser.EventID(),
			EventType: parser.EventType(),
			EventTime: parser.EventTime(),
			Data:      datatypes.JSON(event.Data.Raw),
			Result:    func() *datatypes.JSON { j := datatypes.JSON(resBytes); return &j }(),
			Status:    status,
		})
	}()

	resErr = s.applyEvent(c, parser)
	return resErr
}

func (s *Service) applyEvent(c *gin.Context, p *EventParser) error {
	ctx := c.Request.Context()
	switch p.EventType() {
	case "checkout.session.completed":
		userID, err := p.UserID()
		if err != nil {
			return err
		}
		planID := p.PlanID()
		if planID == "" {
			return fmt.Errorf("checkout event %s carries no plan_id metadata", p.EventID())
		}
		if _, err := s.store.GetSubscriptionByUserID(ctx, userID); err == nil {
			_, err = s.mgr.UpgradeSubscription(ctx, userID, planID, p.ObjectID())
			return err
		}
		_, err = s.mgr.CreatePaidSubscription(ctx, userID, planID, p.CustomerRef(), p.ObjectID())
		return err
	case "invoice.paid":
		return s.applyStatus(c, p, types.SubscriptionStatusActive)
	case "invoice.payment_failed":
		return s.applyStatus(c, p, types.SubscriptionStatusPastDue)
	case "customer.subscription.deleted":
		return s.applyStatus(c, p, types.SubscriptionStatusCanceled)
	case "customer.subscription.updated":
		userID, err := p.UserID()
		if err != nil {
			return err
		}
		_, err = s.mgr.SetCancelAtPeriodEnd(ctx, userID, p.CancelAtPeriodEnd())
		return err
	default:
		s.log.Infow("ignoring billing event", "event_type", p.EventType(), "event_id", p.EventID())
		return nil
	}
}

func (s *Service) applyStatus(c *gin.Context, p *EventParser, status types.SubscriptionStatus) error {
	userID, err := p.UserID()
	if err != nil {
		return err
	}
	_, err = s.mgr.ApplyBillingStatus(c.Request.Context(), userID, status, nil)
	return err
}
