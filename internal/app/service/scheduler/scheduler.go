package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/idempotency"
	"github.com/fatflowers/billing/internal/app/service/notify"
	"github.com/fatflowers/billing/internal/app/service/payment"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/pkg/breaker"
	"github.com/fatflowers/billing/pkg/config"
)

const jobTimeout = 5 * time.Minute

// Scheduler owns the recurring maintenance jobs. Each job recovers its own
// panics and logs its own failures, so one bad run never takes down a
// neighbor or the process.
type Scheduler struct {
	cron     *cron.Cron
	log      *zap.SugaredLogger
	cfg      *config.Config
	subSvc   *subscription.Service
	billSvc  *billing.Service
	idemSvc  *idempotency.Service
	sender   notify.Sender
	sc       *stripe.Client
	breakers *breaker.Registry
	opts     breaker.Options
}

func NewScheduler(log *zap.SugaredLogger, cfg *config.Config, subSvc *subscription.Service,
	billSvc *billing.Service, idemSvc *idempotency.Service, sender notify.Sender,
	sc *stripe.Client, breakers *breaker.Registry) *Scheduler {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(log.Desugar()))
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger))),
		log:      log,
		cfg:      cfg,
		subSvc:   subSvc,
		billSvc:  billSvc,
		idemSvc:  idemSvc,
		sender:   sender,
		sc:       sc,
		breakers: breakers,
		opts:     breaker.FromConfig(cfg.Breaker),
	}
}

func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"renewal_reminders", s.cfg.Scheduler.RenewalReminderSpec, s.runRenewalReminders},
		{"failed_payments", s.cfg.Scheduler.FailedPaymentSpec, s.runFailedPayments},
		{"weekly_summary", s.cfg.Scheduler.WeeklySummarySpec, func(ctx context.Context) error {
			return s.billSvc.SendWeeklySummary(ctx)
		}},
		{"subscription_sweep", s.cfg.Scheduler.SweepSpec, s.runSubscriptionSweep},
		{"idempotency_sweep", s.cfg.Scheduler.IdempotencySpec, func(ctx context.Context) error {
			_, err := s.idemSvc.SweepExpired(ctx)
			return err
		}},
	}

	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.runJob(job.name, job.run) }); err != nil {
			return err
		}
		s.log.Infow("scheduled job", "job", job.name, "spec", job.spec)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runJob(name string, run func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	if err := run(ctx); err != nil {
		s.log.Errorw("job failed", "job", name, "duration", time.Since(start), "error", err)
		return
	}
	s.log.Infow("job finished", "job", name, "duration", time.Since(start))
}

func (s *Scheduler) runRenewalReminders(ctx context.Context) error {
	sent, err := s.billSvc.SendRenewalReminders(ctx)
	if err != nil {
		return err
	}
	s.log.Infow("renewal reminders sent", "count", sent)
	return nil
}

// runSubscriptionSweep expires lapsed subscriptions and rolls auto-renewing
// ones into their next period.
func (s *Scheduler) runSubscriptionSweep(ctx context.Context) error {
	expired, err := s.subSvc.ProcessExpired(ctx)
	if err != nil {
		return err
	}
	renewed, err := s.subSvc.ProcessAutoRenewals(ctx)
	if err != nil {
		return err
	}
	s.log.Infow("subscription sweep finished", "expired", expired, "renewed", renewed)
	return nil
}

// failedPaymentWindow bounds how far back the sweep looks for open invoices.
const failedPaymentWindow = 24 * time.Hour

// retryableInvoice reports whether an open invoice belongs in the sweep. An
// attempt count of zero means the processor has not run its first automatic
// retry yet, so touching it would be premature.
func retryableInvoice(inv *stripe.Invoice) bool {
	return inv != nil && inv.Status == stripe.InvoiceStatusOpen && inv.AttemptCount > 0
}

// runFailedPayments asks the processor for recently failed invoices and
// records each failure locally. Listing the processor rather than local rows
// is the point: an invoice whose webhook was lost still shows up here. The
// list call goes through the shared breaker with a skip fallback, so when the
// processor is down the run does nothing and the next slot tries again.
func (s *Scheduler) runFailedPayments(ctx context.Context) error {
	res, err := s.breakers.Execute(ctx, payment.BreakerName, s.opts,
		func(ctx context.Context) (any, error) {
			params := &stripe.InvoiceListParams{
				ListParams: stripe.ListParams{Limit: stripe.Int64(50)},
				Status:     stripe.String(string(stripe.InvoiceStatusOpen)),
				CreatedRange: &stripe.RangeQueryParams{
					GreaterThanOrEqual: time.Now().Add(-failedPaymentWindow).Unix(),
				},
			}
			var out []*stripe.Invoice
			for inv, err := range s.sc.V1Invoices.List(ctx, params) {
				if err != nil {
					return nil, err
				}
				out = append(out, inv)
			}
			return out, nil
		},
		func(_ context.Context, err error) (any, error) {
			if breaker.ShortCircuited(err) {
				s.log.Warnw("processor unavailable, skipping failed payment run", "error", err)
				return nil, nil
			}
			return nil, err
		})
	if err != nil {
		return err
	}
	if res == nil {
		// Breaker open; try again next slot.
		return nil
	}

	for _, inv := range res.([]*stripe.Invoice) {
		if !retryableInvoice(inv) {
			continue
		}
		customerID := ""
		if inv.Customer != nil {
			customerID = inv.Customer.ID
		}
		if _, err := s.billSvc.RecordFailure(ctx, inv.ID, customerID,
			inv.AmountDue, string(inv.Currency), int(inv.AttemptCount)); err != nil {
			s.log.Errorw("failed to record invoice failure", "invoice_id", inv.ID, "error", err)
			continue
		}
		if err := s.sender.Send(ctx, customerID, "Payment failed",
			"We could not collect your latest payment. Please update your payment method."); err != nil {
			s.log.Errorw("failed to send payment failure notice", "invoice_id", inv.ID, "error", err)
		}
	}
	return nil
}

// Module starts the scheduler with the application and drains it on shutdown.
var Module = fx.Options(
	fx.Provide(NewScheduler),
	fx.Invoke(func(lc fx.Lifecycle, s *Scheduler) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return s.Start() },
			OnStop: func(context.Context) error {
				s.Stop()
				return nil
			},
		})
	}),
)
