package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOptions() Options {
	return Options{
		Timeout:             100 * time.Millisecond,
		ErrorThresholdPct:   50,
		VolumeThreshold:     3,
		RollingWindow:       time.Second,
		ResetTimeout:        60 * time.Millisecond,
		MaxHalfOpenRequests: 1,
	}
}

func newTestRegistry() *Registry {
	return NewRegistry(zap.NewNop().Sugar())
}

func TestExecute_OpensAfterThresholdAndShortCircuits(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	opts := testOptions()

	var invocations int64
	failing := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&invocations, 1)
		return nil, errors.New("dependency down")
	}
	fallback := func(ctx context.Context, err error) (any, error) {
		return "skipped", nil
	}

	for i := 0; i < 3; i++ {
		res, err := r.Execute(ctx, "payment-api", opts, failing, fallback)
		require.NoError(t, err)
		assert.Equal(t, "skipped", res)
	}

	stats, ok := r.Stats("payment-api")
	require.True(t, ok)
	assert.Equal(t, gobreaker.StateOpen.String(), stats.State)

	// Open breaker must not invoke the dependency.
	before := atomic.LoadInt64(&invocations)
	res, err := r.Execute(ctx, "payment-api", opts, failing, fallback)
	require.NoError(t, err)
	assert.Equal(t, "skipped", res)
	assert.Equal(t, before, atomic.LoadInt64(&invocations))
}

func TestExecute_RecoversAfterResetTimeout(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	opts := testOptions()

	failing := func(ctx context.Context) (any, error) { return nil, errors.New("boom") }
	for i := 0; i < 3; i++ {
		_, err := r.Execute(ctx, "dep", opts, failing, nil)
		require.Error(t, err)
	}
	stats, _ := r.Stats("dep")
	require.Equal(t, gobreaker.StateOpen.String(), stats.State)

	time.Sleep(opts.ResetTimeout + 20*time.Millisecond)

	// Successful probe closes the breaker again.
	res, err := r.Execute(ctx, "dep", opts, func(ctx context.Context) (any, error) {
		return 42, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, res)

	stats, _ = r.Stats("dep")
	assert.Equal(t, gobreaker.StateClosed.String(), stats.State)
}

func TestExecute_TimeoutCountsAsFailure(t *testing.T) {
	r := newTestRegistry()
	opts := testOptions()
	opts.Timeout = 20 * time.Millisecond

	slow := func(ctx context.Context) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	}

	var fallbackErr error
	res, err := r.Execute(context.Background(), "slow-dep", opts, slow, func(ctx context.Context, e error) (any, error) {
		fallbackErr = e
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, fallbackErr, ErrTimeout)

	stats, ok := r.Stats("slow-dep")
	require.True(t, ok)
	assert.Equal(t, uint32(1), stats.TotalFailures)
}

func TestExecute_NoFallbackPropagatesError(t *testing.T) {
	r := newTestRegistry()
	wantErr := errors.New("upstream 500")

	_, err := r.Execute(context.Background(), "dep", testOptions(), func(ctx context.Context) (any, error) {
		return nil, wantErr
	}, nil)
	assert.ErrorIs(t, err, wantErr)
}

func TestRegistry_NamesAreIsolated(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	opts := testOptions()

	failing := func(ctx context.Context) (any, error) { return nil, errors.New("down") }
	for i := 0; i < 3; i++ {
		_, _ = r.Execute(ctx, "smtp", opts, failing, nil)
	}
	smtp, _ := r.Stats("smtp")
	require.Equal(t, gobreaker.StateOpen.String(), smtp.State)

	// A sibling dependency is unaffected by smtp's failures.
	res, err := r.Execute(ctx, "payment-api", opts, func(ctx context.Context) (any, error) {
		return "ok", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)

	payment, ok := r.Stats("payment-api")
	require.True(t, ok)
	assert.Equal(t, gobreaker.StateClosed.String(), payment.State)
}

func TestShortCircuited(t *testing.T) {
	assert.True(t, ShortCircuited(gobreaker.ErrOpenState))
	assert.True(t, ShortCircuited(gobreaker.ErrTooManyRequests))
	assert.False(t, ShortCircuited(errors.New("other")))
	assert.False(t, ShortCircuited(ErrTimeout))
}
