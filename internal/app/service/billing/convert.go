package billing

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/brandforge/metering/internal/models"
	"github.com/brandforge/metering/pkg/logctx"
	"github.com/brandforge/metering/pkg/types"
)

// ConvertResult summarizes one auto-conversion sweep.
type ConvertResult struct {
	Due           int      `json:"due"`
	Converted     int      `json:"converted"`
	Failed        int      `json:"failed"`
	FailedUserIDs []string `json:"failed_user_ids,omitempty"`
}

// ConvertDueTrials charges and upgrades every trial whose window has
// lapsed. Per-user failures mark the record past_due and do not stop the
// sweep.
func (s *Service) ConvertDueTrials(ctx context.Context) (*ConvertResult, error) {
	log := logctx.FromCtx(ctx, s.log)

	trialPlan, err := s.catalog.Get(types.PlanIDTrial)
	if err != nil {
		return nil, err
	}
	targetPlan, err := s.catalog.Get(trialPlan.AutoUpgradePlan)
	if err != nil {
		return nil, err
	}
	price := targetPlan.Price
	if trialPlan.AutoUpgradePrice != nil {
		price = *trialPlan.AutoUpgradePrice
	}

	due, err := s.store.ListTrialSubscriptionsDue(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	res := &ConvertResult{Due: len(due)}
	for _, sub := range due {
		if err := s.convertOne(ctx, sub, targetPlan.ID, price); err != nil {
			log.Errorw("trial conversion failed", "user_id", sub.UserID, "error", err)
			res.Failed++
			res.FailedUserIDs = append(res.FailedUserIDs, sub.UserID)
			continue
		}
		res.Converted++
	}
	log.Infow("trial conversion sweep finished", "due", res.Due, "converted", res.Converted, "failed", res.Failed)
	return res, nil
}

func (s *Service) convertOne(ctx context.Context, sub *models.Subscription, targetPlanID string, price int64) error {
	customerRef, err := s.charger.EnsureCustomer(ctx, sub.UserID, lo.FromPtr(sub.StripeCustomerID))
	if err != nil {
		return err
	}
	if lo.FromPtr(sub.StripeCustomerID) != customerRef {
		// keep the minted customer on the record so a failed charge is
		// retried against it instead of minting another
		sub.StripeCustomerID = lo.ToPtr(customerRef)
		if err := s.store.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
	}
	chargeRef, err := s.charger.ChargeAutoUpgrade(ctx, customerRef, price, targetPlanID)
	if err != nil {
		// the record survives as past_due so a later payment can revive it
		if _, applyErr := s.mgr.ApplyBillingStatus(ctx, sub.UserID, types.SubscriptionStatusPastDue, nil); applyErr != nil {
			logctx.FromCtx(ctx, s.log).Errorw("failed to mark trial past_due", "user_id", sub.UserID, "error", applyErr)
		}
		return err
	}
	_, err = s.mgr.UpgradeFromTrial(ctx, sub.UserID, targetPlanID, chargeRef)
	return err
}
