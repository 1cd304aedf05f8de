package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/service/plan"
	"github.com/fatflowers/billing/internal/app/service/user"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

var (
	ErrNotFound         = errors.New("subscription not found")
	ErrDuplicateActive  = errors.New("user already has an active subscription")
	ErrAlreadyCancelled = errors.New("subscription is already cancelled")
	ErrCancelled        = errors.New("subscription is cancelled")
	ErrSamePlan         = errors.New("subscription is already using this plan")
	ErrInvalidStatus    = errors.New("invalid subscription status")
)

type CreateRequest struct {
	UserID      string                    `json:"user_id" binding:"required"`
	PlanID      string                    `json:"plan_id" binding:"required"`
	StartDate   *time.Time                `json:"start_date"`
	EndDate     *time.Time                `json:"end_date"`
	Status      *types.SubscriptionStatus `json:"status"`
	IsAutoRenew *bool                     `json:"is_auto_renew"`
}

type UpdateRequest struct {
	Status             *types.SubscriptionStatus `json:"status"`
	EndDate            *time.Time                `json:"end_date"`
	IsAutoRenew        *bool                     `json:"is_auto_renew"`
	NextBillingDate    *time.Time                `json:"next_billing_date"`
	GracePeriodEndDate *time.Time                `json:"grace_period_end_date"`
	CancellationReason *string                   `json:"cancellation_reason"`
	PaymentReference   *string                   `json:"payment_reference"`
}

type ListQuery struct {
	Page        int                      `form:"page"`
	Limit       int                      `form:"limit"`
	Status      types.SubscriptionStatus `form:"status"`
	UserID      string                   `form:"user_id"`
	PlanID      string                   `form:"plan_id"`
	IsAutoRenew *bool                    `form:"is_auto_renew"`
}

type Stats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Trial     int64 `json:"trial"`
	Active    int64 `json:"active"`
	PastDue   int64 `json:"past_due"`
	Suspended int64 `json:"suspended"`
	Cancelled int64 `json:"cancelled"`
	Expired   int64 `json:"expired"`
}

// Service drives the subscription lifecycle state machine.
type Service struct {
	db      *gorm.DB
	log     *zap.SugaredLogger
	userSvc *user.Service
	planSvc *plan.Service
}

func NewService(db *gorm.DB, log *zap.SugaredLogger, userSvc *user.Service, planSvc *plan.Service) *Service {
	return &Service{db: db, log: log, userSvc: userSvc, planSvc: planSvc}
}

// initialState resolves the status and trial end for a fresh subscription.
// An explicit status override wins; otherwise a plan with a trial period
// starts in trial, anything else starts active.
func initialState(p *models.Plan, start time.Time, override *types.SubscriptionStatus) (types.SubscriptionStatus, *time.Time) {
	var trialEnd *time.Time
	if p.HasTrial() {
		t := start.AddDate(0, 0, p.TrialPeriodDays)
		trialEnd = &t
	}
	if override != nil {
		return *override, trialEnd
	}
	if trialEnd != nil {
		return types.SubscriptionStatusTrial, trialEnd
	}
	return types.SubscriptionStatusActive, trialEnd
}

// renewedEndDate rolls the billing period forward from the previous end date
// (not from now), so late renewals compound correctly. A missing end date
// falls back to now; an explicit custom date wins over cycle arithmetic.
func renewedEndDate(current *time.Time, custom *time.Time, cycle types.BillingCycle, now time.Time) time.Time {
	if custom != nil {
		return *custom
	}
	base := now
	if current != nil {
		base = *current
	}
	return cycle.Advance(base)
}

// transitionAllowed reports whether a status patch may move a subscription
// from cur to next. Cancelled is terminal: the only permitted write against a
// cancelled subscription restates cancelled.
func transitionAllowed(cur, next types.SubscriptionStatus) bool {
	if cur.Terminal() {
		return next == cur
	}
	return true
}

// activeConflictStatuses is the set of statuses that count as a user's one
// live subscription. Creating a second subscription while one of these exists
// is a conflict.
func activeConflictStatuses() []types.SubscriptionStatus {
	return []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrial}
}

func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.Subscription, error) {
	log := logctx.FromCtx(ctx, s.log)
	log.Infow("creating subscription", "user_id", req.UserID, "plan_id", req.PlanID)

	if req.Status != nil && !req.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if _, err := s.userSvc.Get(ctx, req.UserID); err != nil {
		return nil, err
	}
	p, err := s.planSvc.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	// At most one active or trial subscription per user.
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND status IN ?", req.UserID, activeConflictStatuses()).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing subscriptions: %w", err)
	}
	if count > 0 {
		log.Warnw("subscription creation rejected, user already subscribed", "user_id", req.UserID)
		return nil, ErrDuplicateActive
	}

	start := time.Now()
	if req.StartDate != nil {
		start = *req.StartDate
	}
	end := p.BillingCycle.Advance(start)
	if req.EndDate != nil {
		end = *req.EndDate
	}
	status, trialEnd := initialState(p, start, req.Status)

	autoRenew := true
	if req.IsAutoRenew != nil {
		autoRenew = *req.IsAutoRenew
	}

	sub := &models.Subscription{
		ID:              tool.GenerateUUIDV7(),
		UserID:          req.UserID,
		PlanID:          p.ID,
		Status:          status,
		BillingCycle:    p.BillingCycle,
		SubscribedPrice: p.Price,
		StartDate:       &start,
		EndDate:         &end,
		TrialEndDate:    trialEnd,
		NextBillingDate: &end,
		IsAutoRenew:     autoRenew,
	}
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	log.Infow("subscription created", "subscription_id", sub.ID, "status", sub.Status)
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// GetByPaymentReference resolves the local subscription linked to a
// processor-side subscription id. Used by the webhook reconciler.
func (s *Service) GetByPaymentReference(ctx context.Context, ref string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("payment_reference = ?", ref).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription by reference: %w", err)
	}
	return &sub, nil
}

func (s *Service) GetByUser(ctx context.Context, userID string) ([]*models.Subscription, error) {
	if _, err := s.userSvc.Get(ctx, userID); err != nil {
		return nil, err
	}
	var subs []*models.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list user subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Service) List(ctx context.Context, q *ListQuery) ([]*models.Subscription, int64, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = 10
	}

	tx := s.db.WithContext(ctx).Model(&models.Subscription{})
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.PlanID != "" {
		tx = tx.Where("plan_id = ?", q.PlanID)
	}
	if q.IsAutoRenew != nil {
		tx = tx.Where("is_auto_renew = ?", *q.IsAutoRenew)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	var subs []*models.Subscription
	if err := tx.Order("created_at desc").Offset((page - 1) * limit).Limit(limit).Find(&subs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, total, nil
}

func (s *Service) Update(ctx context.Context, id string, req *UpdateRequest) (*models.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, ErrInvalidStatus
		}
		if !transitionAllowed(sub.Status, *req.Status) {
			return nil, ErrCancelled
		}
		sub.Status = *req.Status
		if *req.Status == types.SubscriptionStatusCancelled && sub.CancelledAt == nil {
			now := time.Now()
			sub.CancelledAt = &now
		}
	}
	if req.EndDate != nil {
		sub.EndDate = req.EndDate
	}
	if req.IsAutoRenew != nil {
		sub.IsAutoRenew = *req.IsAutoRenew
	}
	if req.NextBillingDate != nil {
		sub.NextBillingDate = req.NextBillingDate
	}
	if req.GracePeriodEndDate != nil {
		sub.GracePeriodEndDate = req.GracePeriodEndDate
	}
	if req.CancellationReason != nil {
		sub.CancellationReason = *req.CancellationReason
	}
	if req.PaymentReference != nil {
		sub.PaymentReference = req.PaymentReference
	}

	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("subscription updated", "subscription_id", id)
	return sub, nil
}

// ChangePlan swaps the plan and recalculates the end date from now: price and
// cycle changes take effect immediately, unlike renewals which roll forward
// from the previous period boundary.
func (s *Service) ChangePlan(ctx context.Context, id, newPlanID string) (*models.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, ErrCancelled
	}

	newPlan, err := s.planSvc.Get(ctx, newPlanID)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == newPlanID {
		return nil, ErrSamePlan
	}

	now := time.Now()
	end := newPlan.BillingCycle.Advance(now)

	sub.PlanID = newPlan.ID
	sub.BillingCycle = newPlan.BillingCycle
	sub.SubscribedPrice = newPlan.Price
	sub.PlanChangedAt = &now
	sub.EndDate = &end
	sub.NextBillingDate = &end

	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to change plan: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("subscription plan changed", "subscription_id", id, "plan_id", newPlanID)
	return sub, nil
}

// Renew extends the subscription by one billing period and forces it active.
// A trial or past-due subscription that renews successfully becomes active.
func (s *Service) Renew(ctx context.Context, id string, customEndDate *time.Time) (*models.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, ErrCancelled
	}

	now := time.Now()
	end := renewedEndDate(sub.EndDate, customEndDate, sub.BillingCycle, now)

	sub.EndDate = &end
	sub.NextBillingDate = &end
	sub.RenewedAt = &now
	sub.RenewalCount++
	sub.Status = types.SubscriptionStatusActive

	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to renew subscription: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("subscription renewed",
		"subscription_id", id, "end_date", end, "renewal_count", sub.RenewalCount)
	return sub, nil
}

func (s *Service) Cancel(ctx context.Context, id, reason string) (*models.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == types.SubscriptionStatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	now := time.Now()
	sub.Status = types.SubscriptionStatusCancelled
	sub.CancelledAt = &now
	sub.IsAutoRenew = false
	sub.CancellationReason = reason

	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("subscription cancelled", "subscription_id", id)
	return sub, nil
}

// Delete is administrative removal, the only way a subscription row leaves
// the table.
func (s *Service) Delete(ctx context.Context, id string) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(sub).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		status types.SubscriptionStatus
		dst    *int64
	}{
		{types.SubscriptionStatusPending, &stats.Pending},
		{types.SubscriptionStatusTrial, &stats.Trial},
		{types.SubscriptionStatusActive, &stats.Active},
		{types.SubscriptionStatusPastDue, &stats.PastDue},
		{types.SubscriptionStatusSuspended, &stats.Suspended},
		{types.SubscriptionStatusCancelled, &stats.Cancelled},
		{types.SubscriptionStatusExpired, &stats.Expired},
	}

	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	for _, c := range counts {
		if err := s.db.WithContext(ctx).Model(&models.Subscription{}).
			Where("status = ?", c.status).Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s subscriptions: %w", c.status, err)
		}
	}
	return stats, nil
}

// ProcessExpired moves every non-renewing active/trial subscription whose end
// date has passed into expired. A single UPDATE, so the returned count is the
// number of rows that actually transitioned. Driven by the scheduler.
func (s *Service) ProcessExpired(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status IN ? AND is_auto_renew = ? AND end_date <= ?",
			activeConflictStatuses(), false, time.Now()).
		Update("status", types.SubscriptionStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire subscriptions: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logctx.FromCtx(ctx, s.log).Infow("expired lapsed subscriptions", "count", res.RowsAffected)
	}
	return int(res.RowsAffected), nil
}

// ProcessAutoRenewals renews every auto-renewing active subscription whose end
// date falls within the lookahead buffer. The scheduler is the only caller,
// which keeps renewals single-writer.
func (s *Service) ProcessAutoRenewals(ctx context.Context) (int, error) {
	buffer := time.Now().AddDate(0, 0, 1)
	var due []*models.Subscription
	if err := s.db.WithContext(ctx).
		Where("status = ? AND is_auto_renew = ? AND end_date <= ?",
			types.SubscriptionStatusActive, true, buffer).
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("failed to find renewable subscriptions: %w", err)
	}

	renewed := 0
	for _, sub := range due {
		if _, err := s.Renew(ctx, sub.ID, nil); err != nil {
			logctx.FromCtx(ctx, s.log).Errorw("auto-renewal failed",
				"subscription_id", sub.ID, "error", err)
			continue
		}
		renewed++
	}
	return renewed, nil
}
