package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/eventora/treasury/internal/app/service/outbox"
	models "github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/logctx"
	"github.com/eventora/treasury/pkg/response"
	"github.com/eventora/treasury/pkg/types"
)

type ScanOutboxRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type OutboxEntryItem struct {
	ID            string              `json:"id"`
	EventID       string              `json:"event_id"`
	EventType     string              `json:"event_type"`
	DedupeKey     string              `json:"dedupe_key"`
	CorrelationID string              `json:"correlation_id"`
	Status        models.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	NextAttemptAt time.Time           `json:"next_attempt_at"`
	LastError     *string             `json:"last_error"`
	ProcessedAt   *time.Time          `json:"processed_at"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func toOutboxEntryItem(m *models.OutboxEntry) *OutboxEntryItem {
	return &OutboxEntryItem{
		ID:            m.ID,
		EventID:       m.EventID,
		EventType:     m.EventType,
		DedupeKey:     m.DedupeKey,
		CorrelationID: m.CorrelationID,
		Status:        m.Status,
		Attempts:      m.Attempts,
		NextAttemptAt: m.NextAttemptAt,
		LastError:     m.LastError,
		ProcessedAt:   m.ProcessedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

type ScanOutboxResponse struct {
	Items []*OutboxEntryItem `json:"items"`
	Total int64              `json:"total"`
}

// @Summary      Scan Outbox Entries (Admin)
// @Description  Retrieves a paginated and filterable list of outbox entries for operations tooling.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        payload body handlers.ScanOutboxRequest true "Scan parameters"
// @Success      200  {object}  handlers.RespScanOutbox
// @Router       /api/v1/admin/outbox/scan [post]
func ApiScanOutbox(admin *outbox.Admin, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ScanOutboxRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		res, err := admin.ScanEntries(c.Request.Context(), &outbox.ScanEntriesRequest{
			Filters:   req.Filters,
			From:      req.From,
			Size:      req.Size,
			SortBy:    req.SortBy,
			SortOrder: req.SortOrder,
		})
		if err != nil {
			logctx.FromGin(c, log).Errorw("outbox_scan_error", "error", err.Error())
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}

		c.JSON(http.StatusOK, response.OKT(&ScanOutboxResponse{
			Items: lo.Map(res.Items, func(m *models.OutboxEntry, _ int) *OutboxEntryItem { return toOutboxEntryItem(m) }),
			Total: res.Total,
		}))
	}
}

// @Summary      Retry Outbox Entry (Admin)
// @Description  Requeues a parked outbox entry for dispatch.
// @Tags         Admin
// @Produce      json
// @Param        id path string true "Outbox entry ID"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/outbox/{id}/retry [post]
func ApiRetryOutboxEntry(admin *outbox.Admin, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		entryID := c.Param("id")
		if err := admin.RetryEntry(c.Request.Context(), entryID); err != nil {
			logctx.FromGin(c, log).Errorw("outbox_retry_error", "entryId", entryID, "error", err.Error())
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterAdminRoutes(r gin.IRouter, admin *outbox.Admin, log *zap.SugaredLogger) {
	r.POST("/outbox/scan", ApiScanOutbox(admin, log))
	r.POST("/outbox/:id/retry", ApiRetryOutboxEntry(admin, log))
}
