package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/user"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/breaker"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

// BreakerName is the shared circuit protecting every processor API call.
const BreakerName = "stripe"

var (
	ErrNotFound    = errors.New("payment not found")
	ErrUnavailable = errors.New("payment processor unavailable")
)

type ChargeRequest struct {
	UserID          string            `json:"user_id" binding:"required"`
	CustomerID      string            `json:"customer_id" binding:"required"`
	Amount          int64             `json:"amount" binding:"required,min=1"`
	Currency        string            `json:"currency" binding:"required,len=3"`
	PaymentMethodID string            `json:"payment_method_id" binding:"required"`
	Description     string            `json:"description"`
	Metadata        map[string]string `json:"metadata"`
}

type CheckoutRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	PriceID    string `json:"price_id" binding:"required"`
	SuccessURL string `json:"success_url" binding:"required,url"`
	CancelURL  string `json:"cancel_url" binding:"required,url"`
}

type Invoice struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Status    string `json:"status"`
	AmountDue int64  `json:"amount_due"`
	Currency  string `json:"currency"`
	Created   int64  `json:"created"`
}

// Service fronts the payment processor for foreground operations. Every
// remote call runs through the shared breaker with no fallback: a caller
// holding a user's request sees the error and decides.
type Service struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	sc       *stripe.Client
	breakers *breaker.Registry
	opts     breaker.Options
	userSvc  *user.Service
	subSvc   *subscription.Service
}

func NewService(db *gorm.DB, log *zap.SugaredLogger, sc *stripe.Client, breakers *breaker.Registry,
	cfg *config.Config, userSvc *user.Service, subSvc *subscription.Service) *Service {
	return &Service{
		db:       db,
		log:      log,
		sc:       sc,
		breakers: breakers,
		opts:     breaker.FromConfig(cfg.Breaker),
		userSvc:  userSvc,
		subSvc:   subSvc,
	}
}

func (s *Service) execute(ctx context.Context, op breaker.Operation) (any, error) {
	res, err := s.breakers.Execute(ctx, BreakerName, s.opts, op, nil)
	if err != nil && breaker.ShortCircuited(err) {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return res, err
}

// EnsureCustomer creates a processor-side customer for a local user.
func (s *Service) EnsureCustomer(ctx context.Context, userID string) (string, error) {
	u, err := s.userSvc.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	res, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		return s.sc.V1Customers.Create(ctx, &stripe.CustomerCreateParams{
			Name:     stripe.String(u.Name),
			Email:    stripe.String(u.Email),
			Metadata: map[string]string{"user_id": u.ID},
		})
	})
	if err != nil {
		return "", err
	}
	cust := res.(*stripe.Customer)
	logctx.FromCtx(ctx, s.log).Infow("processor customer created", "user_id", userID, "customer_id", cust.ID)
	return cust.ID, nil
}

// Charge creates and confirms a payment intent against a saved payment
// method, recording the attempt locally regardless of outcome.
func (s *Service) Charge(ctx context.Context, req *ChargeRequest) (*models.Payment, error) {
	log := logctx.FromCtx(ctx, s.log)

	res, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		return s.sc.V1PaymentIntents.Create(ctx, &stripe.PaymentIntentCreateParams{
			Amount:        stripe.Int64(req.Amount),
			Currency:      stripe.String(req.Currency),
			Customer:      stripe.String(req.CustomerID),
			PaymentMethod: stripe.String(req.PaymentMethodID),
			Confirm:       stripe.Bool(true),
			OffSession:    stripe.Bool(true),
			Metadata:      req.Metadata,
		})
	})
	if err != nil {
		log.Errorw("charge failed", "user_id", req.UserID, "error", err)
		return nil, err
	}
	intent := res.(*stripe.PaymentIntent)

	status := types.PaymentStatusPending
	var processedAt *time.Time
	if intent.Status == stripe.PaymentIntentStatusSucceeded {
		status = types.PaymentStatusSucceeded
		now := time.Now()
		processedAt = &now
	}

	meta := make(map[string]any, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	p := &models.Payment{
		ID:                 tool.GenerateUUIDV7(),
		ProviderPaymentID:  stripe.String(intent.ID),
		ProviderCustomerID: req.CustomerID,
		UserID:             &req.UserID,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Status:             status,
		Type:               types.PaymentTypeOneTime,
		Description:        req.Description,
		Metadata:           meta,
		ProcessedAt:        processedAt,
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	log.Infow("charge recorded", "payment_id", p.ID, "intent_id", intent.ID, "status", status)
	return p, nil
}

// CreateCheckout opens a hosted checkout session for a recurring price.
func (s *Service) CreateCheckout(ctx context.Context, req *CheckoutRequest) (string, error) {
	res, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		return s.sc.V1CheckoutSessions.Create(ctx, &stripe.CheckoutSessionCreateParams{
			Customer:   stripe.String(req.CustomerID),
			Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			SuccessURL: stripe.String(req.SuccessURL),
			CancelURL:  stripe.String(req.CancelURL),
			LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
				{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
			},
		})
	})
	if err != nil {
		return "", err
	}
	return res.(*stripe.CheckoutSession).URL, nil
}

// LinkSubscription verifies a processor subscription exists and stores its id
// as the local subscription's payment reference, connecting webhook deliveries
// to the local row.
func (s *Service) LinkSubscription(ctx context.Context, subscriptionID, providerSubscriptionID string) (*models.Subscription, error) {
	if _, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		return s.sc.V1Subscriptions.Retrieve(ctx, providerSubscriptionID, nil)
	}); err != nil {
		return nil, err
	}
	return s.subSvc.Update(ctx, subscriptionID, &subscription.UpdateRequest{
		PaymentReference: &providerSubscriptionID,
	})
}

// ListInvoices pages a customer's invoices out of the processor.
func (s *Service) ListInvoices(ctx context.Context, customerID string, limit int) ([]*Invoice, error) {
	if limit < 1 || limit > 100 {
		limit = 10
	}
	res, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
		params.Limit = stripe.Int64(int64(limit))

		var out []*Invoice
		for inv, err := range s.sc.V1Invoices.List(ctx, params) {
			if err != nil {
				return nil, err
			}
			out = append(out, &Invoice{
				ID:        inv.ID,
				Number:    inv.Number,
				Status:    string(inv.Status),
				AmountDue: inv.AmountDue,
				Currency:  string(inv.Currency),
				Created:   inv.Created,
			})
			if len(out) >= limit {
				break
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]*Invoice), nil
}

// Get returns a local payment row by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// ListByUser returns a user's local payment history newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*models.Payment, error) {
	var ps []*models.Payment
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&ps).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return ps, nil
}

// SyncStatus is the reconciler's write path: it upserts the local payment row
// for a processor payment id. Reapplying the same event converges to the same
// row state, so redelivery is harmless.
func (s *Service) SyncStatus(ctx context.Context, providerPaymentID, customerID string, amount int64, currency string, status types.PaymentStatus) (*models.Payment, error) {
	now := time.Now()

	var p models.Payment
	err := s.db.WithContext(ctx).Where("provider_payment_id = ?", providerPaymentID).First(&p).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up payment: %w", err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p = models.Payment{
			ID:                 tool.GenerateUUIDV7(),
			ProviderPaymentID:  &providerPaymentID,
			ProviderCustomerID: customerID,
			Amount:             amount,
			Currency:           currency,
			Status:             status,
			Type:               types.PaymentTypeSubscription,
			ProcessedAt:        &now,
		}
		if createErr := s.db.WithContext(ctx).Create(&p).Error; createErr != nil {
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				return s.bySyncKey(ctx, providerPaymentID)
			}
			return nil, fmt.Errorf("failed to record payment: %w", createErr)
		}
		return &p, nil
	}

	if p.Status == status {
		return &p, nil
	}
	p.Status = status
	p.ProcessedAt = &now
	if err := s.db.WithContext(ctx).Save(&p).Error; err != nil {
		return nil, fmt.Errorf("failed to sync payment status: %w", err)
	}
	return &p, nil
}

func (s *Service) bySyncKey(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).Where("provider_payment_id = ?", providerPaymentID).First(&p).Error; err != nil {
		return nil, fmt.Errorf("failed to reload payment: %w", err)
	}
	return &p, nil
}
