package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/billing/internal/app/api/server"
	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/idempotency"
	notificationlog "github.com/fatflowers/billing/internal/app/service/notification_log"
	"github.com/fatflowers/billing/internal/app/service/notify"
	"github.com/fatflowers/billing/internal/app/service/payment"
	"github.com/fatflowers/billing/internal/app/service/plan"
	"github.com/fatflowers/billing/internal/app/service/reconciler"
	"github.com/fatflowers/billing/internal/app/service/scheduler"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/user"
	"github.com/fatflowers/billing/internal/platform/db"
	stripeclient "github.com/fatflowers/billing/internal/platform/stripe"
	"github.com/fatflowers/billing/pkg/breaker"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	stripeclient.Module,
	breaker.Module,
	server.Module,
	user.Module,
	plan.Module,
	subscription.Module,
	idempotency.Module,
	billing.Module,
	notify.Module,
	payment.Module,
	notificationlog.Module,
	reconciler.Module,
	scheduler.Module,
)
