package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/service/notify"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

var ErrNotFound = errors.New("billing record not found")

// WeeklySummary aggregates the previous seven days of billing activity.
type WeeklySummary struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	PaidCount   int       `json:"paid_count"`
	PaidAmount  int64     `json:"paid_amount"`
	FailedCount int       `json:"failed_count"`
}

// Service owns the billing history ledger and the customer-facing billing
// notifications driven by the scheduler.
type Service struct {
	db     *gorm.DB
	log    *zap.SugaredLogger
	sender notify.Sender
	cfg    *config.Config
}

func NewService(db *gorm.DB, log *zap.SugaredLogger, sender notify.Sender, cfg *config.Config) *Service {
	return &Service{db: db, log: log, sender: sender, cfg: cfg}
}

// RecordReceipt appends a paid entry for an invoice. Redelivery of the same
// invoice is a no-op: the unique provider_invoice_id makes the insert lose
// and the original row stands.
func (s *Service) RecordReceipt(ctx context.Context, invoiceID, customerID string, amount int64, currency, invoiceNumber string) (*models.BillingRecord, error) {
	now := time.Now()
	existing, err := s.byInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == types.BillingRecordStatusPaid {
			return existing, nil
		}
		// The invoice recovered after earlier failures.
		existing.Status = types.BillingRecordStatusPaid
		existing.PaidAt = &now
		if invoiceNumber != "" {
			existing.InvoiceNumber = invoiceNumber
		}
		if err := s.db.WithContext(ctx).Save(existing).Error; err != nil {
			return nil, fmt.Errorf("failed to mark invoice paid: %w", err)
		}
		return existing, nil
	}

	rec := &models.BillingRecord{
		ID:                 tool.GenerateUUIDV7(),
		ProviderCustomerID: customerID,
		ProviderInvoiceID:  invoiceID,
		Amount:             amount,
		Currency:           currency,
		Status:             types.BillingRecordStatusPaid,
		InvoiceNumber:      invoiceNumber,
		PaidAt:             &now,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.mustByInvoiceID(ctx, invoiceID)
		}
		return nil, fmt.Errorf("failed to record receipt: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("billing receipt recorded",
		"invoice_id", invoiceID, "amount", amount, "currency", currency)
	return rec, nil
}

// RecordFailure appends or updates the failed entry for an invoice, tracking
// the processor's retry attempt count.
func (s *Service) RecordFailure(ctx context.Context, invoiceID, customerID string, amount int64, currency string, attemptCount int) (*models.BillingRecord, error) {
	now := time.Now()
	existing, err := s.byInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == types.BillingRecordStatusPaid {
			// A success already landed for this invoice; a late failure
			// delivery must not clobber it.
			return existing, nil
		}
		existing.AttemptCount = attemptCount
		existing.FailedAt = &now
		if err := s.db.WithContext(ctx).Save(existing).Error; err != nil {
			return nil, fmt.Errorf("failed to update billing failure: %w", err)
		}
		return existing, nil
	}

	rec := &models.BillingRecord{
		ID:                 tool.GenerateUUIDV7(),
		ProviderCustomerID: customerID,
		ProviderInvoiceID:  invoiceID,
		Amount:             amount,
		Currency:           currency,
		Status:             types.BillingRecordStatusFailed,
		AttemptCount:       attemptCount,
		FailedAt:           &now,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.mustByInvoiceID(ctx, invoiceID)
		}
		return nil, fmt.Errorf("failed to record billing failure: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Warnw("billing failure recorded",
		"invoice_id", invoiceID, "attempt_count", attemptCount)
	return rec, nil
}

// History lists a customer's billing records newest first.
func (s *Service) History(ctx context.Context, customerID string, page, limit int) ([]*models.BillingRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	tx := s.db.WithContext(ctx).Model(&models.BillingRecord{}).
		Where("provider_customer_id = ?", customerID)

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count billing records: %w", err)
	}
	var recs []*models.BillingRecord
	if err := tx.Order("created_at desc").Offset((page - 1) * limit).Limit(limit).Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list billing records: %w", err)
	}
	return recs, total, nil
}

// SendRenewalReminders notifies owners of auto-renewing subscriptions whose
// period ends inside the configured lookahead window.
func (s *Service) SendRenewalReminders(ctx context.Context) (int, error) {
	now := time.Now()
	horizon := now.AddDate(0, 0, s.cfg.Scheduler.ReminderLookaheadDays)

	var subs []*models.Subscription
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND end_date > ? AND end_date <= ?",
			[]types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrial},
			now, horizon).
		Find(&subs).Error; err != nil {
		return 0, fmt.Errorf("failed to find expiring subscriptions: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		days := sub.DaysUntilExpiry()
		if days == nil {
			continue
		}
		body := fmt.Sprintf("Your subscription renews in %d day(s).", *days)
		if !sub.IsAutoRenew {
			body = fmt.Sprintf("Your subscription expires in %d day(s). Renew to keep access.", *days)
		}
		if err := s.sender.Send(ctx, sub.UserID, "Subscription renewal reminder", body); err != nil {
			s.log.Errorw("failed to send renewal reminder", "subscription_id", sub.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// BuildWeeklySummary aggregates the trailing seven days of billing records.
func (s *Service) BuildWeeklySummary(ctx context.Context) (*WeeklySummary, error) {
	to := time.Now()
	from := to.AddDate(0, 0, -7)

	var recs []*models.BillingRecord
	if err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load weekly billing records: %w", err)
	}

	byStatus := lo.GroupBy(recs, func(r *models.BillingRecord) types.BillingRecordStatus { return r.Status })
	paid := byStatus[types.BillingRecordStatusPaid]

	return &WeeklySummary{
		From:        from,
		To:          to,
		PaidCount:   len(paid),
		PaidAmount:  lo.SumBy(paid, func(r *models.BillingRecord) int64 { return r.Amount }),
		FailedCount: len(byStatus[types.BillingRecordStatusFailed]),
	}, nil
}

// SendWeeklySummary logs the aggregate for operators. Driven by the scheduler.
func (s *Service) SendWeeklySummary(ctx context.Context) error {
	sum, err := s.BuildWeeklySummary(ctx)
	if err != nil {
		return err
	}
	s.log.Infow("weekly billing summary",
		"from", sum.From.Format(time.DateOnly),
		"to", sum.To.Format(time.DateOnly),
		"paid_count", sum.PaidCount,
		"paid_amount", sum.PaidAmount,
		"failed_count", sum.FailedCount)
	return nil
}

func (s *Service) byInvoiceID(ctx context.Context, invoiceID string) (*models.BillingRecord, error) {
	var rec models.BillingRecord
	if err := s.db.WithContext(ctx).Where("provider_invoice_id = ?", invoiceID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up billing record: %w", err)
	}
	return &rec, nil
}

func (s *Service) mustByInvoiceID(ctx context.Context, invoiceID string) (*models.BillingRecord, error) {
	rec, err := s.byInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}
