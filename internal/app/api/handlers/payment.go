package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/billing/internal/app/service/payment"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/user"
	"github.com/fatflowers/billing/pkg/response"
)

func paymentErrCode(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, payment.ErrNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, subscription.ErrNotFound):
		return response.APIResponseCodeNotFound
	case errors.Is(err, subscription.ErrCancelled):
		return response.APIResponseCodeConflict
	default:
		return response.APIResponseCodeError
	}
}

func ApiCharge(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.ChargeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		p, err := svc.Charge(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](paymentErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

type ensureCustomerRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func ApiEnsureCustomer(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ensureCustomerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		customerID, err := svc.EnsureCustomer(c.Request.Context(), req.UserID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](paymentErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(map[string]string{"customer_id": customerID}))
	}
}

func ApiCreateCheckout(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		url, err := svc.CreateCheckout(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](paymentErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(map[string]string{"checkout_url": url}))
	}
}

type linkSubscriptionRequest struct {
	SubscriptionID         string `json:"subscription_id" binding:"required"`
	ProviderSubscriptionID string `json:"provider_subscription_id" binding:"required"`
}

func ApiLinkSubscription(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req linkSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		sub, err := svc.LinkSubscription(c.Request.Context(), req.SubscriptionID, req.ProviderSubscriptionID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](paymentErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

func ApiListInvoices(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := c.Query("customer_id")
		if customerID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing customer_id"))
			return
		}
		limit := 10
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid limit"))
				return
			}
			limit = n
		}
		invoices, err := svc.ListInvoices(c.Request.Context(), customerID, limit)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](paymentErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(invoices))
	}
}

func ApiGetPayment(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](paymentErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

func ApiListUserPayments(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ps, err := svc.ListByUser(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](paymentErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(ps))
	}
}

// RegisterPaymentRoutes mounts processor-facing endpoints. Charging and
// checkout creation are retry-sensitive, so they run behind the idempotency
// guard.
func RegisterPaymentRoutes(r gin.IRouter, svc *payment.Service, idem gin.HandlerFunc) {
	r.POST("/charge", idem, ApiCharge(svc))
	r.POST("/customers", idem, ApiEnsureCustomer(svc))
	r.POST("/checkout", idem, ApiCreateCheckout(svc))
	r.POST("/link-subscription", idem, ApiLinkSubscription(svc))
	r.GET("/invoices", ApiListInvoices(svc))
	r.GET("/user/:user_id", ApiListUserPayments(svc))
	r.GET("/:id", ApiGetPayment(svc))
}
