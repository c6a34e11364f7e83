package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	subsvc "github.com/brandforge/metering/internal/app/service/subscription"
	"github.com/brandforge/metering/pkg/response"
	"github.com/brandforge/metering/pkg/types"
)

type RecordBuildRequest struct {
	UserID    string          `json:"user_id"`
	BuildType types.BuildType `json:"build_type"`
}

type RecordBonusUnlockRequest struct {
	UserID          string  `json:"user_id"`
	MVPID           *string `json:"mvp_id"`
	UnlockedFeature string  `json:"unlocked_feature"`
}

// @Summary      Record Build
// @Description  Checks the user's build quota and records one build usage event. A denied check returns 403 with the decision in the data field.
// @Tags         Usage
// @Accept       json
// @Produce      json
// @Param        request body RecordBuildRequest true "Record build request"
// @Success      200  {object}  handlers.RespOK
// @Failure      403  {object}  handlers.RespDecision
// @Router       /api/v1/builds [post]
func ApiRecordBuild(mgr *subsvc.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RecordBuildRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.UserID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user_id"))
			return
		}
		err := mgr.RecordBuild(c.Request.Context(), req.UserID, req.BuildType)
		if err != nil {
			var denied *subsvc.BuildNotAllowedError
			if errors.As(err, &denied) {
				c.JSON(http.StatusForbidden, response.ErrorT(response.APIResponseCodeForbidden, denied.Decision))
				return
			}
			if errors.Is(err, subsvc.ErrInvalidBuildType) {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

// @Summary      Record Bonus Unlock
// @Description  Checks the user's bonus prize quota and records one unlock event. A denied check returns 403 with the decision in the data field.
// @Tags         Usage
// @Accept       json
// @Produce      json
// @Param        request body RecordBonusUnlockRequest true "Record bonus unlock request"
// @Success      200  {object}  handlers.RespOK
// @Failure      403  {object}  handlers.RespDecision
// @Router       /api/v1/bonus_unlocks [post]
func ApiRecordBonusUnlock(mgr *subsvc.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RecordBonusUnlockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.UserID == "" || req.UnlockedFeature == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user_id or unlocked_feature"))
			return
		}
		err := mgr.RecordBonusUnlock(c.Request.Context(), req.UserID, req.MVPID, req.UnlockedFeature)
		if err != nil {
			var denied *subsvc.BuildNotAllowedError
			if errors.As(err, &denied) {
				c.JSON(http.StatusForbidden, response.ErrorT(response.APIResponseCodeForbidden, denied.Decision))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterUsageRoutes(r gin.IRouter, mgr *subsvc.Manager) {
	r.POST("/builds", ApiRecordBuild(mgr))
	r.POST("/bonus_unlocks", ApiRecordBonusUnlock(mgr))
}
