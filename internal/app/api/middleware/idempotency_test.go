package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/response"
)

type fakeStore struct {
	mu   sync.Mutex
	recs map[string]*models.IdempotencyKey
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: map[string]*models.IdempotencyKey{}}
}

func (f *fakeStore) Lookup(_ context.Context, key string) (*models.IdempotencyKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.recs[key]
	if rec.Expired(time.Now()) {
		delete(f.recs, key)
		return nil, nil
	}
	return rec, nil
}

func (f *fakeStore) Store(_ context.Context, key string, userID *string, method, path string, statusCode int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.recs[key]; ok {
		return nil
	}
	f.recs[key] = &models.IdempotencyKey{
		Key: key, UserID: userID, Method: method, Path: path,
		StatusCode: statusCode, Response: body,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return nil
}

func newTestRouter(store IdempotencyStore, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/pay", IdempotencyMiddleware(store, zap.NewNop().Sugar()), handler)
	return r
}

func doPost(t *testing.T, r *gin.Engine, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/pay", nil)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	r := newTestRouter(store, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"charge": calls})
	})

	key := "0190a8b0-0000-7000-8000-000000000001"
	first := doPost(t, r, key)
	require.Equal(t, http.StatusOK, first.Code)

	second := doPost(t, r, key)
	assert.Equal(t, 1, calls, "handler must run exactly once per key")
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replay"))
}

func TestIdempotencyMiddlewareRejectsMalformedKey(t *testing.T) {
	store := newFakeStore()
	calls := 0
	r := newTestRouter(store, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := doPost(t, r, "not-a-uuid")
	assert.Equal(t, 0, calls)

	var body response.APIResponse[any]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, response.APIResponseCodeConflict, body.Code)
	assert.Contains(t, w.Body.String(), "idempotency key must be a UUID")
}

func TestIdempotencyMiddlewarePassThroughWithoutKey(t *testing.T) {
	store := newFakeStore()
	calls := 0
	r := newTestRouter(store, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	doPost(t, r, "")
	doPost(t, r, "")
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.recs)
}

func TestIdempotencyMiddlewareExpiredKeyReexecutes(t *testing.T) {
	store := newFakeStore()
	calls := 0
	r := newTestRouter(store, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"charge": calls})
	})

	key := "0190a8b0-0000-7000-8000-000000000003"
	store.recs[key] = &models.IdempotencyKey{
		Key:        key,
		StatusCode: http.StatusOK,
		Response:   `{"charge":0}`,
		ExpiresAt:  time.Now().Add(-time.Minute),
	}

	w := doPost(t, r, key)
	assert.Equal(t, 1, calls, "an expired key is a miss, the handler runs again")
	assert.Empty(t, w.Header().Get("X-Idempotent-Replay"))
	assert.Contains(t, w.Body.String(), `"charge":1`)

	// The fresh outcome replaces the expired record and replays from here on.
	second := doPost(t, r, key)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replay"))
}

func TestIdempotencyMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	store := newFakeStore()
	calls := 0
	r := newTestRouter(store, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})

	key := "0190a8b0-0000-7000-8000-000000000002"
	doPost(t, r, key)
	doPost(t, r, key)
	assert.Equal(t, 2, calls, "failed attempts stay retryable")
}
