package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/config"
)

// ErrTimeout is returned when a protected operation exceeds its per-call
// timeout. The timeout is recorded as a failure even if the operation later
// resolves.
var ErrTimeout = errors.New("breaker: operation timed out")

var stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "breaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions partitioned by breaker name and target state.",
}, []string{"name", "from", "to"})

// Operation is a call against an external dependency.
type Operation func(ctx context.Context) (any, error)

// Fallback produces a substitute result while the dependency is unavailable.
// It receives the error that triggered it (ErrTimeout, gobreaker.ErrOpenState,
// or the operation's own error).
type Fallback func(ctx context.Context, err error) (any, error)

// Options configures a named breaker on first use. Later calls with the same
// name reuse the existing breaker and ignore the options.
type Options struct {
	// Timeout bounds a single protected call.
	Timeout time.Duration
	// ErrorThresholdPct is the failure percentage over the rolling window at
	// which the breaker opens.
	ErrorThresholdPct float64
	// VolumeThreshold is the minimum number of calls in the window before the
	// breaker may open.
	VolumeThreshold uint32
	// RollingWindow is how long closed-state counts accumulate before reset.
	RollingWindow time.Duration
	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration
	// MaxHalfOpenRequests bounds concurrent probe calls while half-open.
	MaxHalfOpenRequests uint32
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.ErrorThresholdPct <= 0 {
		o.ErrorThresholdPct = 50
	}
	if o.VolumeThreshold == 0 {
		o.VolumeThreshold = 5
	}
	if o.RollingWindow <= 0 {
		o.RollingWindow = 10 * time.Second
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = 30 * time.Second
	}
	if o.MaxHalfOpenRequests == 0 {
		o.MaxHalfOpenRequests = 1
	}
	return o
}

// FromConfig maps the configured breaker defaults to Options.
func FromConfig(c config.BreakerConfig) Options {
	return Options{
		Timeout:             time.Duration(c.TimeoutMS) * time.Millisecond,
		ErrorThresholdPct:   c.ErrorThresholdPct,
		VolumeThreshold:     c.VolumeThreshold,
		RollingWindow:       time.Duration(c.RollingWindowSeconds) * time.Second,
		ResetTimeout:        time.Duration(c.ResetTimeoutSeconds) * time.Second,
		MaxHalfOpenRequests: c.MaxHalfOpenRequests,
	}
}

// Stats is an observable snapshot of one breaker.
type Stats struct {
	Name                 string `json:"name"`
	State                string `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// Registry holds one circuit breaker per named external dependency. Breakers
// are created lazily and live for the registry's lifetime; distinct names
// never share state. Inject a fresh Registry per test.
type Registry struct {
	mu       sync.Mutex
	log      *zap.SugaredLogger
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewRegistry(log *zap.SugaredLogger) *Registry {
	return &Registry{log: log, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (r *Registry) breaker(name string, opts Options) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	o := opts.withDefaults()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: o.MaxHalfOpenRequests,
		Interval:    o.RollingWindow,
		Timeout:     o.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < o.VolumeThreshold {
				return false
			}
			rate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			return rate >= o.ErrorThresholdPct
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			stateTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			if to == gobreaker.StateOpen {
				r.log.Warnw("circuit breaker opened", "breaker", name, "from", from.String())
				return
			}
			r.log.Infow("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[name] = cb
	return cb
}

// Execute runs op through the named breaker. A call exceeding opts.Timeout
// counts as a failure and returns ErrTimeout. When the breaker is open, or
// the half-open probe quota is exhausted, op is not invoked at all. If
// fallback is non-nil it absorbs every error and its result is returned;
// otherwise the error propagates to the caller.
func (r *Registry) Execute(ctx context.Context, name string, opts Options, op Operation, fallback Fallback) (any, error) {
	cb := r.breaker(name, opts)
	timeout := opts.withDefaults().Timeout

	res, err := cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type outcome struct {
			res any
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			v, e := op(callCtx)
			done <- outcome{v, e}
		}()

		select {
		case out := <-done:
			return out.res, out.err
		case <-callCtx.Done():
			// The in-flight call keeps running; its late result is discarded.
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, callCtx.Err()
		}
	})
	if err == nil {
		return res, nil
	}
	if fallback != nil {
		return fallback(ctx, err)
	}
	return nil, err
}

// Stats returns the snapshot for one breaker, or ok=false if it was never used.
func (r *Registry) Stats(name string) (Stats, bool) {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	counts := cb.Counts()
	return Stats{
		Name:                 name,
		State:                cb.State().String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}, true
}

// AllStats returns snapshots for every breaker created so far.
func (r *Registry) AllStats() []Stats {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.Unlock()

	stats := make([]Stats, 0, len(names))
	for _, name := range names {
		if s, ok := r.Stats(name); ok {
			stats = append(stats, s)
		}
	}
	return stats
}

// ShortCircuited reports whether err came from the breaker itself rather than
// the protected operation.
func ShortCircuited(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
