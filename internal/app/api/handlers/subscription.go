package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/billing/internal/app/service/plan"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/user"
	"github.com/fatflowers/billing/pkg/response"
)

// subscriptionErrCode maps lifecycle errors onto response codes. Conflicts are
// state machine rejections; not-found covers the subscription and its
// referenced user/plan.
func subscriptionErrCode(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, plan.ErrNotFound):
		return response.APIResponseCodeNotFound
	case errors.Is(err, subscription.ErrDuplicateActive),
		errors.Is(err, subscription.ErrAlreadyCancelled),
		errors.Is(err, subscription.ErrCancelled),
		errors.Is(err, subscription.ErrSamePlan):
		return response.APIResponseCodeConflict
	case errors.Is(err, subscription.ErrInvalidStatus):
		return response.APIResponseCodeBadRequest
	default:
		return response.APIResponseCodeError
	}
}

func ApiCreateSubscription(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subscription.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		sub, err := svc.Create(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](subscriptionErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

type listSubscriptionsResponse struct {
	Items any   `json:"items"`
	Total int64 `json:"total"`
}

func ApiListSubscriptions(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q subscription.ListQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		subs, total, err := svc.List(c.Request.Context(), &q)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&listSubscriptionsResponse{Items: subs, Total: total}))
	}
}

func ApiGetSubscription(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](subscriptionErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

func ApiGetUserSubscriptions(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		subs, err := svc.GetByUser(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](subscriptionErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(subs))
	}
}

func ApiUpdateSubscription(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subscription.UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		sub, err := svc.Update(c.Request.Context(), c.Param("id"), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](subscriptionErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

type changePlanRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

func ApiChangePlan(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		sub, err := svc.ChangePlan(c.Request.Context(), c.Param("id"), req.PlanID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](subscriptionErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

type renewSubscriptionRequest struct {
	EndDate *time.Time `json:"end_date"`
}

func ApiRenewSubscription(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req renewSubscriptionRequest
		// Body is optional; an absent or empty body means cycle arithmetic.
		_ = c.ShouldBindJSON(&req)
		sub, err := svc.Renew(c.Request.Context(), c.Param("id"), req.EndDate)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](subscriptionErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

type cancelSubscriptionRequest struct {
	Reason string `json:"reason"`
}

func ApiCancelSubscription(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cancelSubscriptionRequest
		_ = c.ShouldBindJSON(&req)
		sub, err := svc.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](subscriptionErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

func ApiDeleteSubscription(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](subscriptionErrCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func ApiSubscriptionStats(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := svc.GetStats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(stats))
	}
}

// RegisterSubscriptionRoutes mounts the lifecycle endpoints. The idem
// middleware guards every mutating route.
func RegisterSubscriptionRoutes(r gin.IRouter, svc *subscription.Service, idem gin.HandlerFunc) {
	r.POST("", idem, ApiCreateSubscription(svc))
	r.GET("", ApiListSubscriptions(svc))
	r.GET("/stats", ApiSubscriptionStats(svc))
	r.GET("/user/:user_id", ApiGetUserSubscriptions(svc))
	r.GET("/:id", ApiGetSubscription(svc))
	r.PATCH("/:id", idem, ApiUpdateSubscription(svc))
	r.POST("/:id/change-plan", idem, ApiChangePlan(svc))
	r.POST("/:id/renew", idem, ApiRenewSubscription(svc))
	r.POST("/:id/cancel", idem, ApiCancelSubscription(svc))
	r.DELETE("/:id", ApiDeleteSubscription(svc))
}
