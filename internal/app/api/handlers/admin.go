package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brandforge/metering/internal/app/service/billing"
	"github.com/brandforge/metering/internal/app/service/statistics"
	"github.com/brandforge/metering/pkg/response"
)

// @Summary      Get Metering Statistics (Admin)
// @Description  Retrieves aggregate usage and subscription statistics.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.MeteringStatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespMeteringStatistic
// @Router       /api/v1/admin/statistics [post]
func ApiGetMeteringStatistic(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.MeteringStatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.GetMeteringStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Convert Due Trials (Admin)
// @Description  Charges and upgrades every trial whose window has lapsed.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespConvertResult
// @Router       /api/v1/admin/trials/convert_due [post]
func ApiConvertDueTrials(svc *billing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.ConvertDueTrials(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, stats *statistics.Service, bill *billing.Service) {
	r.POST("/statistics", ApiGetMeteringStatistic(stats))
	r.POST("/trials/convert_due", ApiConvertDueTrials(bill))
}
