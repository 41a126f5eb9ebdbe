package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventora/treasury/internal/app/service/ingest"
	"github.com/eventora/treasury/pkg/logctx"
	"github.com/eventora/treasury/pkg/response"
	"github.com/eventora/treasury/pkg/types"
)

// @Summary      Payment provider webhook
// @Description  Ingests provider payment notifications. Unknown event types are acknowledged and dropped.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/webhooks/payments [post]
func ApiPaymentWebhook(svc *ingest.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, nil))
			return
		}

		if err := svc.HandleWebhook(c.Request.Context(), string(types.PaymentProviderStripe), body); err != nil {
			logctx.FromGin(c, log).Errorw("webhook_payment_handle_error", "error", err.Error())
			// Non-2xx makes the provider redeliver the event.
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterWebhookRoutes(r gin.IRouter, svc *ingest.Service, log *zap.SugaredLogger) {
	r.POST("/webhooks/payments", ApiPaymentWebhook(svc, log))
}
