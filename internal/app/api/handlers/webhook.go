package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/reconciler"
	"github.com/fatflowers/billing/pkg/logctx"
)

// ApiStripeWebhook receives processor deliveries. The contract with the
// sender uses raw HTTP statuses: 400 tells it the payload failed
// authentication, 200 acks everything else, including deliveries whose
// handler failed. Handler failures live in the audit log, not in the
// response, because a non-2xx would only trigger redelivery of an event that
// will fail the same way.
func ApiStripeWebhook(svc *reconciler.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
			return
		}

		if err := svc.Handle(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
			if errors.Is(err, reconciler.ErrSignature) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			logctx.FromGin(c, log).Errorw("webhook processing error", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func RegisterWebhookRoutes(r gin.IRouter, svc *reconciler.Service, log *zap.SugaredLogger) {
	r.POST("/stripe", ApiStripeWebhook(svc, log))
}
