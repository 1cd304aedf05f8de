package plan

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

var (
	ErrNotFound     = errors.New("plan not found")
	ErrNameTaken    = errors.New("plan name already exists")
	ErrInvalidCycle = errors.New("invalid billing cycle")
)

type CreateRequest struct {
	Name            string             `json:"name" binding:"required"`
	Description     string             `json:"description"`
	Price           int64              `json:"price" binding:"min=0"`
	BillingCycle    types.BillingCycle `json:"billing_cycle"`
	TrialPeriodDays int                `json:"trial_period_days" binding:"min=0"`
}

// Service is the plan catalog: price and billing-cycle metadata consumed by
// the subscription state machine.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.Plan, error) {
	cycle := req.BillingCycle
	if cycle == "" {
		cycle = types.BillingCycleMonthly
	}
	if !cycle.Valid() {
		return nil, ErrInvalidCycle
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Plan{}).Where("name = ?", req.Name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check plan name: %w", err)
	}
	if count > 0 {
		return nil, ErrNameTaken
	}

	p := &models.Plan{
		ID:              tool.GenerateUUIDV7(),
		Name:            req.Name,
		Description:     req.Description,
		Price:           req.Price,
		BillingCycle:    cycle,
		TrialPeriodDays: req.TrialPeriodDays,
		IsActive:        true,
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}
	s.log.Infow("plan created", "plan_id", p.ID, "name", p.Name)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Plan, error) {
	var p models.Plan
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &p, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*models.Plan, error) {
	var plans []*models.Plan
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("price asc").Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}
