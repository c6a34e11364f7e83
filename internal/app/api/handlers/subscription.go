package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	subsvc "github.com/brandforge/metering/internal/app/service/subscription"
	"github.com/brandforge/metering/internal/store"
	"github.com/brandforge/metering/pkg/response"
	"github.com/brandforge/metering/pkg/types"
)

type CreateSubscriptionRequest struct {
	UserID string `json:"user_id"`
	// PlanID defaults to the trial plan when omitted.
	PlanID      string `json:"plan_id"`
	CustomerRef string `json:"customer_ref"`
}

// @Summary      Create Subscription
// @Description  Opens a subscription for a user. Omitting plan_id (or passing "trial") starts the time-boxed trial; any other plan_id opens an active paid subscription.
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Param        request body CreateSubscriptionRequest true "Create subscription request"
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/subscriptions [post]
func ApiCreateSubscription(mgr *subsvc.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.UserID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user_id"))
			return
		}
		planID := req.PlanID
		if planID == "" {
			planID = types.PlanIDTrial
		}
		sub, err := mgr.CreatePaidSubscription(c.Request.Context(), req.UserID, planID, req.CustomerRef, "")
		if err != nil {
			code := response.APIResponseCodeError
			if errors.Is(err, store.ErrDuplicateSubscription) {
				code = response.APIResponseCodeBadRequest
			}
			c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

// @Summary      Get Subscription
// @Description  Returns the user's current subscription record.
// @Tags         Subscription
// @Produce      json
// @Param        user_id path string true "User ID"
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/subscriptions/{user_id} [get]
func ApiGetSubscription(st store.UsageStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		sub, err := st.GetSubscriptionByUserID(c.Request.Context(), userID)
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, "no subscription for user"))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

// @Summary      Get Usage
// @Description  Returns the current-period usage snapshot for a user.
// @Tags         Subscription
// @Produce      json
// @Param        user_id path string true "User ID"
// @Success      200  {object}  handlers.RespUsageSnapshot
// @Router       /api/v1/usage/{user_id} [get]
func ApiGetUsage(mgr *subsvc.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		snap, err := mgr.GetUsageStats(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		if snap == nil {
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, "no subscription for user"))
			return
		}
		c.JSON(http.StatusOK, response.OKT(snap))
	}
}

func RegisterSubscriptionRoutes(r gin.IRouter, mgr *subsvc.Manager, st store.UsageStore) {
	r.POST("/subscriptions", ApiCreateSubscription(mgr))
	r.GET("/subscriptions/:user_id", ApiGetSubscription(st))
	r.GET("/usage/:user_id", ApiGetUsage(mgr))
}
