package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/types"
)

type fakePayments struct {
	synced []string
	status types.PaymentStatus
}

func (f *fakePayments) SyncStatus(_ context.Context, providerPaymentID, _ string, _ int64, _ string, status types.PaymentStatus) (*models.Payment, error) {
	f.synced = append(f.synced, providerPaymentID)
	f.status = status
	return &models.Payment{}, nil
}

type fakeSubs struct {
	byRef     map[string]*models.Subscription
	updates   []*subscription.UpdateRequest
	cancelled []string
}

func (f *fakeSubs) GetByPaymentReference(_ context.Context, ref string) (*models.Subscription, error) {
	if sub, ok := f.byRef[ref]; ok {
		return sub, nil
	}
	return nil, subscription.ErrNotFound
}

func (f *fakeSubs) Update(_ context.Context, id string, req *subscription.UpdateRequest) (*models.Subscription, error) {
	f.updates = append(f.updates, req)
	return &models.Subscription{ID: id}, nil
}

func (f *fakeSubs) Cancel(_ context.Context, id, _ string) (*models.Subscription, error) {
	f.cancelled = append(f.cancelled, id)
	return &models.Subscription{ID: id}, nil
}

type fakeLedger struct {
	receipts []string
	failures []string
	attempts int
}

func (f *fakeLedger) RecordReceipt(_ context.Context, invoiceID, _ string, _ int64, _, _ string) (*models.BillingRecord, error) {
	f.receipts = append(f.receipts, invoiceID)
	return &models.BillingRecord{}, nil
}

func (f *fakeLedger) RecordFailure(_ context.Context, invoiceID, _ string, _ int64, _ string, attemptCount int) (*models.BillingRecord, error) {
	f.failures = append(f.failures, invoiceID)
	f.attempts = attemptCount
	return &models.BillingRecord{}, nil
}

type fakeAudit struct {
	entries []*models.PaymentNotificationLog
}

func (f *fakeAudit) Save(_ context.Context, entry *models.PaymentNotificationLog) {
	f.entries = append(f.entries, entry)
}

func newTestService(subs *fakeSubs) (*Service, *fakePayments, *fakeLedger, *fakeAudit) {
	pays := &fakePayments{}
	ledger := &fakeLedger{}
	audit := &fakeAudit{}
	svc := &Service{
		log:    zap.NewNop().Sugar(),
		pays:   pays,
		subs:   subs,
		ledger: ledger,
		audit:  audit,
	}
	return svc, pays, ledger, audit
}

func event(t *testing.T, eventType string, payload any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &stripe.Event{
		ID:      "evt_1",
		Type:    stripe.EventType(eventType),
		Created: time.Now().Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func TestHandleEventPaymentIntentSucceeded(t *testing.T) {
	svc, pays, _, _ := newTestService(&fakeSubs{})

	evt := event(t, "payment_intent.succeeded", map[string]any{
		"id": "pi_1", "amount": 2500, "currency": "usd",
		"customer": "cus_1",
	})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	assert.Equal(t, []string{"pi_1"}, pays.synced)
	assert.Equal(t, types.PaymentStatusSucceeded, pays.status)
}

func TestHandleEventInvoicePaidClearsDelinquency(t *testing.T) {
	end := time.Now().AddDate(0, 1, 0)
	subs := &fakeSubs{byRef: map[string]*models.Subscription{
		"sub_ext_1": {ID: "sub_1", Status: types.SubscriptionStatusPastDue, EndDate: &end},
	}}
	svc, _, ledger, _ := newTestService(subs)

	evt := event(t, "invoice.payment_succeeded", map[string]any{
		"id": "in_1", "amount_paid": 2500, "currency": "usd",
		"number": "INV-0001", "customer": "cus_1",
		"subscription": "sub_ext_1",
	})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	assert.Equal(t, []string{"in_1"}, ledger.receipts)
	require.Len(t, subs.updates, 1)
	require.NotNil(t, subs.updates[0].Status)
	assert.Equal(t, types.SubscriptionStatusActive, *subs.updates[0].Status)
}

func TestHandleEventInvoicePaidActiveSubscriptionUntouched(t *testing.T) {
	subs := &fakeSubs{byRef: map[string]*models.Subscription{
		"sub_ext_1": {ID: "sub_1", Status: types.SubscriptionStatusActive},
	}}
	svc, _, ledger, _ := newTestService(subs)

	evt := event(t, "invoice.payment_succeeded", map[string]any{
		"id": "in_2", "subscription": "sub_ext_1",
	})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	assert.Equal(t, []string{"in_2"}, ledger.receipts)
	assert.Empty(t, subs.updates)
}

func TestHandleEventInvoiceFailedMarksPastDue(t *testing.T) {
	subs := &fakeSubs{byRef: map[string]*models.Subscription{
		"sub_ext_1": {ID: "sub_1", Status: types.SubscriptionStatusActive},
	}}
	svc, _, ledger, _ := newTestService(subs)

	evt := event(t, "invoice.payment_failed", map[string]any{
		"id": "in_3", "amount_due": 2500, "currency": "usd",
		"attempt_count": 2, "subscription": "sub_ext_1",
	})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	assert.Equal(t, []string{"in_3"}, ledger.failures)
	assert.Equal(t, 2, ledger.attempts)
	require.Len(t, subs.updates, 1)
	require.NotNil(t, subs.updates[0].Status)
	assert.Equal(t, types.SubscriptionStatusPastDue, *subs.updates[0].Status)
	assert.NotNil(t, subs.updates[0].GracePeriodEndDate)
}

func TestHandleEventInvoiceSubscriptionLinkageFromParent(t *testing.T) {
	subs := &fakeSubs{byRef: map[string]*models.Subscription{
		"sub_ext_1": {ID: "sub_1", Status: types.SubscriptionStatusActive},
	}}
	svc, _, _, _ := newTestService(subs)

	evt := event(t, "invoice.payment_failed", map[string]any{
		"id": "in_4",
		"parent": map[string]any{
			"subscription_details": map[string]any{"subscription": "sub_ext_1"},
		},
	})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))
	require.Len(t, subs.updates, 1)
}

func TestHandleEventSubscriptionDeleted(t *testing.T) {
	subs := &fakeSubs{byRef: map[string]*models.Subscription{
		"sub_ext_1": {ID: "sub_1", Status: types.SubscriptionStatusActive},
	}}
	svc, _, _, _ := newTestService(subs)

	evt := event(t, "customer.subscription.deleted", map[string]any{"id": "sub_ext_1"})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))
	assert.Equal(t, []string{"sub_1"}, subs.cancelled)
}

func TestHandleEventSubscriptionUpdatedSyncsAutoRenew(t *testing.T) {
	subs := &fakeSubs{byRef: map[string]*models.Subscription{
		"sub_ext_1": {ID: "sub_1", Status: types.SubscriptionStatusActive, IsAutoRenew: true},
	}}
	svc, _, _, _ := newTestService(subs)

	evt := event(t, "customer.subscription.updated", map[string]any{
		"id": "sub_ext_1", "status": "active", "cancel_at_period_end": true,
	})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	require.Len(t, subs.updates, 1)
	require.NotNil(t, subs.updates[0].IsAutoRenew)
	assert.False(t, *subs.updates[0].IsAutoRenew)
	assert.Nil(t, subs.updates[0].Status, "matching status must not be rewritten")
}

func TestHandleEventUnknownTypeAcked(t *testing.T) {
	svc, pays, ledger, _ := newTestService(&fakeSubs{})

	evt := event(t, "charge.refunded", map[string]any{"id": "ch_1"})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))
	assert.Empty(t, pays.synced)
	assert.Empty(t, ledger.receipts)
}

func TestHandleEventUnlinkedSubscriptionIgnored(t *testing.T) {
	svc, _, ledger, _ := newTestService(&fakeSubs{})

	evt := event(t, "invoice.payment_succeeded", map[string]any{
		"id": "in_9", "subscription": "sub_unknown",
	})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))
	assert.Equal(t, []string{"in_9"}, ledger.receipts)
}

func TestMapRemoteStatus(t *testing.T) {
	tests := []struct {
		remote stripe.SubscriptionStatus
		want   types.SubscriptionStatus
		ok     bool
	}{
		{stripe.SubscriptionStatusActive, types.SubscriptionStatusActive, true},
		{stripe.SubscriptionStatusTrialing, types.SubscriptionStatusTrial, true},
		{stripe.SubscriptionStatusPastDue, types.SubscriptionStatusPastDue, true},
		{stripe.SubscriptionStatusUnpaid, types.SubscriptionStatusSuspended, true},
		{stripe.SubscriptionStatusCanceled, types.SubscriptionStatusCancelled, true},
		{stripe.SubscriptionStatusIncomplete, "", false},
	}
	for _, tt := range tests {
		got, ok := mapRemoteStatus(tt.remote)
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.want, got)
	}
}
