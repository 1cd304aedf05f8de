package stripe

import (
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/billing/pkg/config"
)

// NewClient builds the processor API client. Transport-level behavior is
// bounded here: a hard per-request timeout plus a small number of SDK-level
// retries. The circuit breaker in pkg/breaker sits above this layer.
func NewClient(l *zap.SugaredLogger, cfg *cfgpkg.Config) *stripe.Client {
	timeout := time.Duration(cfg.Stripe.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(int64(cfg.Stripe.MaxNetworkRetries)),
	}))

	if cfg.Stripe.SecretKey == "" {
		l.Warnw("stripe secret key is empty, processor calls will fail")
	}
	return stripe.NewClient(cfg.Stripe.SecretKey, nil)
}

var Module = fx.Options(
	fx.Provide(NewClient),
)
