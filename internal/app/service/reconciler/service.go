package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/notification_log"
	"github.com/fatflowers/billing/internal/app/service/payment"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

// ErrSignature means the payload could not be authenticated. This is the only
// error the webhook endpoint turns into a rejection; everything downstream is
// acked so the processor stops redelivering.
var ErrSignature = errors.New("webhook signature verification failed")

// Handled event types. Anything else is logged and acked.
const (
	eventPaymentSucceeded    = "payment_intent.succeeded"
	eventPaymentFailed       = "payment_intent.payment_failed"
	eventInvoicePaid         = "invoice.payment_succeeded"
	eventInvoiceFailed       = "invoice.payment_failed"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
)

type paymentSyncer interface {
	SyncStatus(ctx context.Context, providerPaymentID, customerID string, amount int64, currency string, status types.PaymentStatus) (*models.Payment, error)
}

type subscriptionStore interface {
	GetByPaymentReference(ctx context.Context, ref string) (*models.Subscription, error)
	Update(ctx context.Context, id string, req *subscription.UpdateRequest) (*models.Subscription, error)
	Cancel(ctx context.Context, id, reason string) (*models.Subscription, error)
}

type billingLedger interface {
	RecordReceipt(ctx context.Context, invoiceID, customerID string, amount int64, currency, invoiceNumber string) (*models.BillingRecord, error)
	RecordFailure(ctx context.Context, invoiceID, customerID string, amount int64, currency string, attemptCount int) (*models.BillingRecord, error)
}

type auditLog interface {
	Save(ctx context.Context, entry *models.PaymentNotificationLog)
}

// Service reconciles processor webhook deliveries into local state. Every
// handler is idempotent, so at-least-once delivery converges instead of
// double-applying.
type Service struct {
	log    *zap.SugaredLogger
	secret string
	pays   paymentSyncer
	subs   subscriptionStore
	ledger billingLedger
	audit  auditLog
}

func NewService(log *zap.SugaredLogger, cfg *config.Config, paySvc *payment.Service,
	subSvc *subscription.Service, billSvc *billing.Service, auditSvc *notification_log.Service) *Service {
	return &Service{
		log:    log,
		secret: cfg.Stripe.WebhookSecret,
		pays:   paySvc,
		subs:   subSvc,
		ledger: billSvc,
		audit:  auditSvc,
	}
}

// Handle authenticates and applies one webhook delivery. Only ErrSignature is
// returned; a handler failure is recorded in the audit log and swallowed so
// the endpoint acks. Redelivery would hit the same failure, and the audit
// trail is what operators replay from.
func (s *Service) Handle(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.log.Warnw("rejected webhook delivery", "error", err)
		return fmt.Errorf("%w: %s", ErrSignature, err)
	}

	s.audit.Save(ctx, s.auditEntry(ctx, &event, models.PaymentNotificationLogStatusReceived, nil))

	if handleErr := s.HandleEvent(ctx, &event); handleErr != nil {
		logctx.FromCtx(ctx, s.log).Errorw("webhook handler failed",
			"event_id", event.ID, "event_type", event.Type, "error", handleErr)
		s.audit.Save(ctx, s.auditEntry(ctx, &event, models.PaymentNotificationLogStatusHandleFailed, handleErr))
		return nil
	}
	s.audit.Save(ctx, s.auditEntry(ctx, &event, models.PaymentNotificationLogStatusHandled, nil))
	return nil
}

// HandleEvent dispatches one authenticated event to its handler.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	log := logctx.FromCtx(ctx, s.log)
	log.Infow("processing webhook event", "event_id", event.ID, "event_type", event.Type)

	switch string(event.Type) {
	case eventPaymentSucceeded:
		return s.handlePaymentIntent(ctx, event, types.PaymentStatusSucceeded)
	case eventPaymentFailed:
		return s.handlePaymentIntent(ctx, event, types.PaymentStatusFailed)
	case eventInvoicePaid:
		return s.handleInvoicePaid(ctx, event)
	case eventInvoiceFailed:
		return s.handleInvoiceFailed(ctx, event)
	case eventSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, event)
	case eventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		log.Infow("unhandled webhook event type", "event_type", event.Type)
		return nil
	}
}

func (s *Service) handlePaymentIntent(ctx context.Context, event *stripe.Event, status types.PaymentStatus) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return fmt.Errorf("failed to parse payment intent: %w", err)
	}
	customerID := ""
	if intent.Customer != nil {
		customerID = intent.Customer.ID
	}
	_, err := s.pays.SyncStatus(ctx, intent.ID, customerID, intent.Amount, string(intent.Currency), status)
	return err
}

// invoiceRef carries the subscription linkage, which lives in different spots
// depending on the sender's API version.
type invoiceRef struct {
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (r invoiceRef) subscriptionID() string {
	if r.Subscription != "" {
		return r.Subscription
	}
	return r.Parent.SubscriptionDetails.Subscription
}

func parseInvoice(raw json.RawMessage) (*stripe.Invoice, string, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, "", fmt.Errorf("failed to parse invoice: %w", err)
	}
	var ref invoiceRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, "", fmt.Errorf("failed to parse invoice linkage: %w", err)
	}
	return &inv, ref.subscriptionID(), nil
}

func (s *Service) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	inv, subRef, err := parseInvoice(event.Data.Raw)
	if err != nil {
		return err
	}
	customerID := ""
	if inv.Customer != nil {
		customerID = inv.Customer.ID
	}
	if _, err := s.ledger.RecordReceipt(ctx, inv.ID, customerID, inv.AmountPaid, string(inv.Currency), inv.Number); err != nil {
		return err
	}
	if subRef == "" {
		return nil
	}

	sub, err := s.subs.GetByPaymentReference(ctx, subRef)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			// Payment for a subscription we never linked. The receipt is
			// recorded; nothing local to update.
			return nil
		}
		return err
	}
	// A successful charge clears any delinquency.
	if sub.Status == types.SubscriptionStatusPastDue || sub.Status == types.SubscriptionStatusSuspended {
		active := types.SubscriptionStatusActive
		_, err = s.subs.Update(ctx, sub.ID, &subscription.UpdateRequest{
			Status:             &active,
			GracePeriodEndDate: sub.EndDate,
		})
		return err
	}
	return nil
}

func (s *Service) handleInvoiceFailed(ctx context.Context, event *stripe.Event) error {
	inv, subRef, err := parseInvoice(event.Data.Raw)
	if err != nil {
		return err
	}
	customerID := ""
	if inv.Customer != nil {
		customerID = inv.Customer.ID
	}
	if _, err := s.ledger.RecordFailure(ctx, inv.ID, customerID, inv.AmountDue, string(inv.Currency), int(inv.AttemptCount)); err != nil {
		return err
	}
	if subRef == "" {
		return nil
	}

	sub, err := s.subs.GetByPaymentReference(ctx, subRef)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return nil
		}
		return err
	}
	if sub.Status == types.SubscriptionStatusCancelled {
		return nil
	}
	pastDue := types.SubscriptionStatusPastDue
	grace := time.Now().AddDate(0, 0, 7)
	_, err = s.subs.Update(ctx, sub.ID, &subscription.UpdateRequest{
		Status:             &pastDue,
		GracePeriodEndDate: &grace,
	})
	return err
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	sub, err := s.subs.GetByPaymentReference(ctx, remote.ID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			logctx.FromCtx(ctx, s.log).Infow("update for unlinked subscription ignored", "reference", remote.ID)
			return nil
		}
		return err
	}
	if sub.Status == types.SubscriptionStatusCancelled {
		return nil
	}

	req := &subscription.UpdateRequest{}
	autoRenew := !remote.CancelAtPeriodEnd
	req.IsAutoRenew = &autoRenew

	if status, ok := mapRemoteStatus(remote.Status); ok && status != sub.Status {
		req.Status = &status
	}
	if remote.Items != nil && len(remote.Items.Data) > 0 && remote.Items.Data[0].CurrentPeriodEnd > 0 {
		end := time.Unix(remote.Items.Data[0].CurrentPeriodEnd, 0).UTC()
		req.EndDate = &end
		req.NextBillingDate = &end
	}

	_, err = s.subs.Update(ctx, sub.ID, req)
	return err
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	sub, err := s.subs.GetByPaymentReference(ctx, remote.ID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return nil
		}
		return err
	}
	if _, err := s.subs.Cancel(ctx, sub.ID, "cancelled by payment processor"); err != nil {
		if errors.Is(err, subscription.ErrAlreadyCancelled) {
			return nil
		}
		return err
	}
	return nil
}

// mapRemoteStatus translates processor subscription states into local ones.
// States with no local meaning (incomplete variants) report ok=false and
// leave the local status alone.
func mapRemoteStatus(remote stripe.SubscriptionStatus) (types.SubscriptionStatus, bool) {
	switch remote {
	case stripe.SubscriptionStatusActive:
		return types.SubscriptionStatusActive, true
	case stripe.SubscriptionStatusTrialing:
		return types.SubscriptionStatusTrial, true
	case stripe.SubscriptionStatusPastDue:
		return types.SubscriptionStatusPastDue, true
	case stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPaused:
		return types.SubscriptionStatusSuspended, true
	case stripe.SubscriptionStatusCanceled:
		return types.SubscriptionStatusCancelled, true
	default:
		return "", false
	}
}

func (s *Service) auditEntry(ctx context.Context, event *stripe.Event, status models.PaymentNotificationLogStatus, handleErr error) *models.PaymentNotificationLog {
	entry := &models.PaymentNotificationLog{
		EventID:          event.ID,
		EventType:        string(event.Type),
		NotificationTime: time.Unix(event.Created, 0).UTC(),
		Data:             datatypes.JSON(event.Data.Raw),
		Status:           status,
	}
	if tid, ok := ctx.Value("traceID").(string); ok {
		entry.TraceID = tid
	}
	if handleErr != nil {
		res, _ := json.Marshal(map[string]string{"error": handleErr.Error()})
		j := datatypes.JSON(res)
		entry.Result = &j
	}
	return entry
}
