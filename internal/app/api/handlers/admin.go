package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/idempotency"
	"github.com/fatflowers/billing/internal/app/service/notification_log"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/pkg/breaker"
	"github.com/fatflowers/billing/pkg/response"
)

func ApiBreakerStats(breakers *breaker.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, response.OKT(breakers.AllStats()))
	}
}

// ApiProcessExpired runs the expiry sweep on demand, same code path the
// scheduler drives.
func ApiProcessExpired(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := svc.ProcessExpired(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(map[string]int{"expired": count}))
	}
}

func ApiProcessAutoRenewals(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := svc.ProcessAutoRenewals(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(map[string]int{"renewed": count}))
	}
}

func ApiSweepIdempotencyKeys(svc *idempotency.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := svc.SweepExpired(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(map[string]int64{"swept": count}))
	}
}

func ApiSendRenewalReminders(svc *billing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := svc.SendRenewalReminders(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(map[string]int{"sent": count}))
	}
}

func ApiWeeklySummary(svc *billing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sum, err := svc.BuildWeeklySummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sum))
	}
}

type billingHistoryResponse struct {
	Items any   `json:"items"`
	Total int64 `json:"total"`
}

func ApiBillingHistory(svc *billing.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := c.Query("customer_id")
		if customerID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing customer_id"))
			return
		}
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

		recs, total, err := svc.History(c.Request.Context(), customerID, page, limit)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&billingHistoryResponse{Items: recs, Total: total}))
	}
}

func ApiWebhookAuditLog(svc *notification_log.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		entries, err := svc.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(entries))
	}
}

func RegisterAdminRoutes(r gin.IRouter, subSvc *subscription.Service, billSvc *billing.Service,
	idemSvc *idempotency.Service, auditSvc *notification_log.Service, breakers *breaker.Registry) {
	r.GET("/breakers", ApiBreakerStats(breakers))
	r.POST("/subscriptions/process-expired", ApiProcessExpired(subSvc))
	r.POST("/subscriptions/process-renewals", ApiProcessAutoRenewals(subSvc))
	r.POST("/idempotency/sweep", ApiSweepIdempotencyKeys(idemSvc))
	r.POST("/billing/send-reminders", ApiSendRenewalReminders(billSvc))
	r.GET("/billing/weekly-summary", ApiWeeklySummary(billSvc))
	r.GET("/billing/history", ApiBillingHistory(billSvc))
	r.GET("/webhooks/audit", ApiWebhookAuditLog(auditSvc))
}
