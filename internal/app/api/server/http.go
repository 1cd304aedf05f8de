package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/api/handlers"
	mw "github.com/fatflowers/billing/internal/app/api/middleware"
	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/idempotency"
	"github.com/fatflowers/billing/internal/app/service/notification_log"
	"github.com/fatflowers/billing/internal/app/service/payment"
	"github.com/fatflowers/billing/internal/app/service/plan"
	"github.com/fatflowers/billing/internal/app/service/reconciler"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/user"
	"github.com/fatflowers/billing/pkg/breaker"
	cfgpkg "github.com/fatflowers/billing/pkg/config"
	metrics "github.com/fatflowers/billing/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Log        *zap.SugaredLogger
	Cfg        *cfgpkg.Config
	UserSvc    *user.Service
	PlanSvc    *plan.Service
	SubSvc     *subscription.Service
	PaySvc     *payment.Service
	BillSvc    *billing.Service
	IdemSvc    *idempotency.Service
	Reconciler *reconciler.Service
	AuditSvc   *notification_log.Service
	Breakers   *breaker.Registry
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	// Prometheus metrics
	if d.Cfg != nil && d.Cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: d.Log,
		})
		p.SetListenAddress(d.Cfg.MetricsAddr)
		p.Use(r)

		d.Log.Infow("metrics started", "addr", d.Cfg.MetricsAddr)
	}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(d.Log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)

	idem := mw.IdempotencyMiddleware(d.IdemSvc, d.Log)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(d.Log), mw.AccessLogMiddleware())

	handlers.RegisterUserRoutes(apiV1.Group("/users"), d.UserSvc)
	handlers.RegisterPlanRoutes(apiV1.Group("/plans"), d.PlanSvc)
	handlers.RegisterSubscriptionRoutes(apiV1.Group("/subscriptions"), d.SubSvc, idem)
	handlers.RegisterPaymentRoutes(apiV1.Group("/payments"), d.PaySvc, idem)
	handlers.RegisterAdminRoutes(apiV1.Group("/admin"), d.SubSvc, d.BillSvc, d.IdemSvc, d.AuditSvc, d.Breakers)

	// Webhooks skip the access-log body capture; payloads are audited in the
	// notification log instead.
	webhooks := r.Group("/api/v1/webhooks")
	webhooks.Use(mw.RequestLoggerMiddleware(d.Log))
	handlers.RegisterWebhookRoutes(webhooks, d.Reconciler, d.Log)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
