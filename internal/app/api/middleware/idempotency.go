package middleware

import (
	"bytes"
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/tool"
)

const idempotencyHeader = "Idempotency-Key"

// IdempotencyStore is the subset of the idempotency service the middleware
// needs. Narrowed to an interface so handler tests can run against a fake.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (*models.IdempotencyKey, error)
	Store(ctx context.Context, key string, userID *string, method, path string, statusCode int, body string) error
}

// bodyCapture tees the response body so a successful write can be stored for
// replay without changing what reaches the client.
type bodyCapture struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware makes mutating endpoints safe to retry. A request
// carrying an Idempotency-Key that was already completed gets the stored
// status and body byte for byte; a fresh key executes the handler and stores
// the outcome. Keys must be UUIDs; a malformed key is rejected rather than
// silently bypassing the guarantee. Requests without the header pass through
// untouched.
func IdempotencyMiddleware(store IdempotencyStore, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		reqLog := logctx.FromGin(c, log)

		if !tool.IsUUID(key) {
			// A malformed key is a conflict with the idempotency contract,
			// not a generic validation error.
			reqLog.Warnw("rejected malformed idempotency key", "key", key)
			c.AbortWithStatusJSON(http.StatusOK,
				response.ErrorT[any](response.APIResponseCodeConflict, "idempotency key must be a UUID"))
			return
		}

		ctx := c.Request.Context()
		rec, err := store.Lookup(ctx, key)
		if err != nil {
			// Store unavailable: executing once is better than failing the
			// request, the guarantee degrades rather than the endpoint.
			reqLog.Errorw("idempotency lookup failed", "key", key, "error", err)
		}
		if rec != nil {
			reqLog.Infow("replaying idempotent response", "key", key, "status", rec.StatusCode)
			c.Header("X-Idempotent-Replay", "true")
			c.Data(rec.StatusCode, "application/json; charset=utf-8", []byte(rec.Response))
			c.Abort()
			return
		}

		capture := &bodyCapture{ResponseWriter: c.Writer}
		c.Writer = capture
		c.Next()

		status := c.Writer.Status()
		if status >= 500 {
			// Server errors stay retryable; only settled outcomes replay.
			return
		}

		var userID *string
		if v := c.GetString("userID"); v != "" {
			userID = &v
		}
		if err := store.Store(ctx, key, userID, c.Request.Method, c.Request.URL.Path, status, capture.buf.String()); err != nil {
			reqLog.Errorw("failed to persist idempotent response", "key", key, "error", err)
		}
	}
}
