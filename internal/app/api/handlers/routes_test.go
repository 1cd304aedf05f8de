package handlers

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func routeSet(r *gin.Engine) map[string]bool {
	set := make(map[string]bool)
	for _, rt := range r.Routes() {
		set[rt.Method+" "+rt.Path] = true
	}
	return set
}

func TestRegisterSubscriptionRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	idem := func(c *gin.Context) { c.Next() }
	RegisterSubscriptionRoutes(r.Group("/api/v1/subscriptions"), nil, idem)

	routes := routeSet(r)
	require.True(t, routes["POST /api/v1/subscriptions"])
	require.True(t, routes["GET /api/v1/subscriptions"])
	require.True(t, routes["GET /api/v1/subscriptions/stats"])
	require.True(t, routes["GET /api/v1/subscriptions/user/:user_id"])
	require.True(t, routes["GET /api/v1/subscriptions/:id"])
	require.True(t, routes["PATCH /api/v1/subscriptions/:id"])
	require.True(t, routes["POST /api/v1/subscriptions/:id/change-plan"])
	require.True(t, routes["POST /api/v1/subscriptions/:id/renew"])
	require.True(t, routes["POST /api/v1/subscriptions/:id/cancel"])
	require.True(t, routes["DELETE /api/v1/subscriptions/:id"])
}

func TestRegisterPaymentRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	idem := func(c *gin.Context) { c.Next() }
	RegisterPaymentRoutes(r.Group("/api/v1/payments"), nil, idem)

	routes := routeSet(r)
	require.True(t, routes["POST /api/v1/payments/charge"])
	require.True(t, routes["POST /api/v1/payments/customers"])
	require.True(t, routes["POST /api/v1/payments/checkout"])
	require.True(t, routes["POST /api/v1/payments/link-subscription"])
	require.True(t, routes["GET /api/v1/payments/invoices"])
	require.True(t, routes["GET /api/v1/payments/:id"])
}

func TestRegisterWebhookRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterWebhookRoutes(r.Group("/api/v1/webhooks"), nil, zap.NewNop().Sugar())

	routes := routeSet(r)
	require.True(t, routes["POST /api/v1/webhooks/stripe"])
}

func TestRegisterAdminRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterAdminRoutes(r.Group("/api/v1/admin"), nil, nil, nil, nil, nil)

	routes := routeSet(r)
	require.True(t, routes["GET /api/v1/admin/breakers"])
	require.True(t, routes["POST /api/v1/admin/subscriptions/process-expired"])
	require.True(t, routes["POST /api/v1/admin/idempotency/sweep"])
	require.True(t, routes["GET /api/v1/admin/billing/history"])
	require.True(t, routes["GET /api/v1/admin/webhooks/audit"])
}

func TestRegisterUserAndPlanRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterUserRoutes(r.Group("/api/v1/users"), nil)
	RegisterPlanRoutes(r.Group("/api/v1/plans"), nil)
	RegisterHealthRoutes(r)

	routes := routeSet(r)
	require.True(t, routes["POST /api/v1/users"])
	require.True(t, routes["GET /api/v1/users/:id"])
	require.True(t, routes["POST /api/v1/plans"])
	require.True(t, routes["GET /api/v1/plans"])
	require.True(t, routes["GET /api/v1/plans/:id"])
	require.True(t, routes["GET /healthz"])
}
