package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventora/treasury/internal/app/service/snapshot"
	"github.com/eventora/treasury/pkg/logctx"
	"github.com/eventora/treasury/pkg/response"
)

// @Summary      Payment snapshot
// @Description  Returns the denormalized read model for one payment.
// @Tags         Payment
// @Produce      json
// @Param        payment_id path string true "Payment ID"
// @Success      200  {object}  handlers.RespSnapshot
// @Router       /api/v1/payments/{payment_id}/snapshot [get]
func ApiGetPaymentSnapshot(svc *snapshot.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentID := c.Param("payment_id")
		snap, err := svc.Get(c.Request.Context(), paymentID)
		if err != nil {
			logctx.FromGin(c, log).Errorw("snapshot_get_error", "paymentId", paymentID, "error", err.Error())
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		if snap == nil {
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeBadRequest, "snapshot not found"))
			return
		}
		c.JSON(http.StatusOK, response.OKT(snap))
	}
}

func RegisterSnapshotRoutes(r gin.IRouter, svc *snapshot.Service, log *zap.SugaredLogger) {
	r.GET("/payments/:payment_id/snapshot", ApiGetPaymentSnapshot(svc, log))
}
