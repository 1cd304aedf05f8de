package notification_log

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Save asynchronously persists a webhook audit entry. Best effort: a failed
// write is logged, never surfaced, because audit must not block delivery.
func (s *Service) Save(ctx context.Context, entry *models.PaymentNotificationLog) {
	go func() {
		if entry == nil {
			return
		}
		if entry.ID == "" {
			entry.ID = tool.GenerateUUIDV7()
		}
		if err := s.db.Save(entry).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save notification log: %v", err)
		}
	}()
}

// Recent lists the latest audit entries for operators.
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.PaymentNotificationLog, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var entries []*models.PaymentNotificationLog
	if err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
