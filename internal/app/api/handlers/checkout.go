package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventora/treasury/internal/app/service/checkout"
	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/pkg/logctx"
	"github.com/eventora/treasury/pkg/response"
	"github.com/eventora/treasury/pkg/types"
)

type CompleteFreeCheckoutRequest struct {
	OrgID         string                 `json:"org_id" binding:"required"`
	SourceType    types.SourceType       `json:"source_type" binding:"required"`
	SourceID      string                 `json:"source_id" binding:"required"`
	PurchaseID    string                 `json:"purchase_id" binding:"required"`
	Scenario      types.CheckoutScenario `json:"scenario"`
	Currency      string                 `json:"currency" binding:"required"`
	DiscountCents int64                  `json:"discount_cents"`
	LineItems     []eventlog.LineItem    `json:"line_items" binding:"required"`
}

type CompleteFreeCheckoutResponse struct {
	PaymentID string `json:"payment_id"`
	Deduped   bool   `json:"deduped"`
}

// @Summary      Complete free checkout
// @Description  Settles a checkout whose discounted total is zero without involving the payment provider.
// @Tags         Checkout
// @Accept       json
// @Produce      json
// @Param        payload body handlers.CompleteFreeCheckoutRequest true "Checkout to complete"
// @Success      200  {object}  handlers.RespFreeCheckout
// @Router       /api/v1/checkouts/free [post]
func ApiCompleteFreeCheckout(svc *checkout.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CompleteFreeCheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		res, err := svc.CompleteFree(c.Request.Context(), &checkout.CompleteFreeInput{
			OrgID:         req.OrgID,
			SourceType:    req.SourceType,
			SourceID:      req.SourceID,
			PurchaseID:    req.PurchaseID,
			Scenario:      req.Scenario,
			Currency:      req.Currency,
			DiscountCents: req.DiscountCents,
			LineItems:     req.LineItems,
		})
		if err != nil {
			if errors.Is(err, checkout.ErrNotFree) {
				c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
			logctx.FromGin(c, log).Errorw("free_checkout_error", "error", err.Error())
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}

		c.JSON(http.StatusOK, response.OKT(&CompleteFreeCheckoutResponse{
			PaymentID: res.PaymentID,
			Deduped:   res.Deduped,
		}))
	}
}

func RegisterCheckoutRoutes(r gin.IRouter, svc *checkout.Service, log *zap.SugaredLogger) {
	r.POST("/checkouts/free", ApiCompleteFreeCheckout(svc, log))
}
