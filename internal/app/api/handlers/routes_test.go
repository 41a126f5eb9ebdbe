package handlers

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	log := zap.NewNop().Sugar()

	g := r.Group("/api/v1")
	RegisterWebhookRoutes(g, nil, log)
	RegisterCheckoutRoutes(g, nil, log)
	RegisterSnapshotRoutes(g, nil, log)
	RegisterAdminRoutes(g.Group("/admin"), nil, log)
	RegisterHealthRoutes(r)

	routes := r.Routes()
	contains := func(target string) bool {
		for _, rt := range routes {
			if rt.Method+" "+rt.Path == target {
				return true
			}
		}
		return false
	}

	require.True(t, contains("POST /api/v1/webhooks/payments"))
	require.True(t, contains("POST /api/v1/checkouts/free"))
	require.True(t, contains("GET /api/v1/payments/:payment_id/snapshot"))
	require.True(t, contains("POST /api/v1/admin/outbox/scan"))
	require.True(t, contains("POST /api/v1/admin/outbox/:id/retry"))
	require.True(t, contains("GET /healthz"))
}
