package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/brandforge/metering/internal/app/service/billing"
	"github.com/brandforge/metering/pkg/logctx"
	"github.com/brandforge/metering/pkg/response"
)

// @Summary      Stripe Webhook
// @Description  Handles Stripe billing events. The request body is the raw event payload; the signature travels in the Stripe-Signature header.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        payload body string true "Stripe event payload"
// @Success      200  {object}  handlers.RespOK
// @Router       /webhook/stripe [post]
func ApiStripeWebhook(svc *billing.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		logctx.FromCtx(c, log).Infow("webhook_stripe_received")

		if err := svc.HandleWebhook(c); err != nil {
			logctx.FromCtx(c, log).Errorw("webhook_stripe_handle_error", "error", err.Error())
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		logctx.FromCtx(c, log).Infow("webhook_stripe_handled")
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterWebhookRoutes(r gin.IRouter, svc *billing.Service, log *zap.SugaredLogger) {
	r.POST("/stripe", ApiStripeWebhook(svc, log))
}
