package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/billing/internal/app/service/plan"
	"github.com/fatflowers/billing/pkg/response"
)

func ApiCreatePlan(svc *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req plan.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		p, err := svc.Create(c.Request.Context(), &req)
		if err != nil {
			switch {
			case errors.Is(err, plan.ErrNameTaken):
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeConflict, err.Error()))
			case errors.Is(err, plan.ErrInvalidCycle):
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			default:
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			}
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

func ApiListPlans(svc *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		plans, err := svc.ListActive(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(plans))
	}
}

func ApiGetPlan(svc *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, plan.ErrNotFound) {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeNotFound, err.Error()))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

func RegisterPlanRoutes(r gin.IRouter, svc *plan.Service) {
	r.POST("", ApiCreatePlan(svc))
	r.GET("", ApiListPlans(svc))
	r.GET("/:id", ApiGetPlan(svc))
}
