package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/config"
)

// Service persists completed responses keyed by client-supplied idempotency
// keys so retried mutations replay instead of re-executing.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	ttl time.Duration
}

func NewService(db *gorm.DB, log *zap.SugaredLogger, cfg *config.Config) *Service {
	return &Service{db: db, log: log, ttl: cfg.Idempotency.TTL()}
}

// Lookup returns the stored record for key, or nil when the key is unused.
// Expired records are treated as unused and lazily removed.
func (s *Service) Lookup(ctx context.Context, key string) (*models.IdempotencyKey, error) {
	var rec models.IdempotencyKey
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	if rec.Expired(time.Now()) {
		if err := s.db.WithContext(ctx).Delete(&rec).Error; err != nil {
			s.log.Warnw("failed to delete expired idempotency key", "key", key, "error", err)
		}
		return nil, nil
	}
	return &rec, nil
}

// Store records a completed response under key. A concurrent first writer
// wins; the duplicate insert is not an error because the stored response is
// what replays anyway.
func (s *Service) Store(ctx context.Context, key string, userID *string, method, path string, statusCode int, body string) error {
	now := time.Now()
	rec := &models.IdempotencyKey{
		Key:        key,
		UserID:     userID,
		Response:   body,
		StatusCode: statusCode,
		Method:     method,
		Path:       path,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return nil
}

// SweepExpired deletes all records past their TTL. Driven by the scheduler.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&models.IdempotencyKey{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to sweep idempotency keys: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.log.Infow("swept expired idempotency keys", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
