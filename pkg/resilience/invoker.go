package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bulwarklabs/bulwark/internal/cache"
	"github.com/bulwarklabs/bulwark/pkg/errors"
	"github.com/bulwarklabs/bulwark/pkg/logging"
	"github.com/bulwarklabs/bulwark/pkg/metrics"
	"github.com/bulwarklabs/bulwark/pkg/monitor"
)

// RemoteOperation is an asynchronous callable supplied by the caller, e.g.
// a network request. It must be safe to invoke more than once under retry.
type RemoteOperation[T any] func(ctx context.Context) (T, error)

// InvokeConfig controls one invocation. Use DefaultInvokeConfig as the
// starting point; zero durations fall back to the invoker's defaults.
type InvokeConfig struct {
	Timeout       time.Duration
	MaxRetries    int
	CacheEnabled  bool
	CacheTTL      time.Duration
	CachePriority cache.Priority
	// CacheKey overrides the cache and coalescing key; empty means the
	// invocation name. Distinct keys can share one breaker name.
	CacheKey string
}

// DefaultInvokeConfig returns the per-invocation defaults.
func DefaultInvokeConfig() InvokeConfig {
	return InvokeConfig{
		Timeout:       5 * time.Second,
		MaxRetries:    3,
		CacheEnabled:  true,
		CacheTTL:      5 * time.Minute,
		CachePriority: cache.PriorityNormal,
	}
}

// RetryPolicy shapes the backoff between attempts.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool
}

// DefaultRetryPolicy returns the default backoff shape.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		Jitter:    true,
	}
}

// InvokerOptions configures an Invoker.
type InvokerOptions struct {
	Retry RetryPolicy
	// SingleFlight coalesces concurrent invocations of the same name into
	// one in-flight call whose result is shared by every waiter.
	SingleFlight bool
}

// DefaultInvokerOptions returns the default invoker options.
func DefaultInvokerOptions() InvokerOptions {
	return InvokerOptions{
		Retry:        DefaultRetryPolicy(),
		SingleFlight: true,
	}
}

// Invoker composes the cache, the breaker registry, and the performance
// monitor around remote operations. Construct one at the composition root
// and pass it by handle; there is no global instance.
type Invoker struct {
	cache    *cache.Cache
	registry *Registry
	monitor  *monitor.Monitor
	metrics  *metrics.Metrics
	logger   *logging.Logger
	opts     InvokerOptions
	flights  singleflight.Group
}

// NewInvoker creates an invoker. cache, monitor and metrics may each be nil;
// the corresponding concern is then skipped.
func NewInvoker(c *cache.Cache, registry *Registry, mon *monitor.Monitor, m *metrics.Metrics, logger *logging.Logger, opts InvokerOptions) *Invoker {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	if opts.Retry.MaxDelay <= 0 {
		opts.Retry.MaxDelay = DefaultRetryPolicy().MaxDelay
	}

	return &Invoker{
		cache:    c,
		registry: registry,
		monitor:  mon,
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

// Registry exposes the breaker registry for status queries.
func (inv *Invoker) Registry() *Registry {
	return inv.registry
}

// Invoke runs op under the full resilience stack. A valid cached result for
// the cache key (CacheKey, or name when unset) is returned immediately,
// bypassing both the breaker and the
// operation. Otherwise the breaker is consulted, and on admission the
// operation is attempted up to MaxRetries+1 times, each attempt racing a
// per-attempt timeout, with capped exponential backoff between attempts.
func Invoke[T any](ctx context.Context, inv *Invoker, name string, op RemoteOperation[T], cfg InvokeConfig) (T, error) {
	var zero T
	cfg = normalize(cfg)

	key := cfg.CacheKey
	if key == "" {
		key = name
	}

	if cfg.CacheEnabled && inv.cache != nil {
		var cached T
		if inv.cache.Get(ctx, key, &cached) {
			if inv.metrics != nil {
				inv.metrics.RecordInvocation(name, "cache_hit", 0)
			}
			return cached, nil
		}
	}

	if !inv.opts.SingleFlight {
		return execute(ctx, inv, name, key, op, cfg)
	}

	result, err, shared := inv.flights.Do(key, func() (interface{}, error) {
		return execute(ctx, inv, name, key, op, cfg)
	})
	if err != nil {
		return zero, err
	}

	typed, ok := result.(T)
	if !ok {
		return zero, errors.NewInternalError("coalesced result has unexpected type").
			WithDetail("operation", name)
	}
	if shared {
		inv.logger.Debug("Coalesced concurrent invocation", "operation", name)
	}
	return typed, nil
}

func normalize(cfg InvokeConfig) InvokeConfig {
	defaults := DefaultInvokeConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaults.CacheTTL
	}
	if cfg.CachePriority == "" {
		cfg.CachePriority = defaults.CachePriority
	}
	return cfg
}

func execute[T any](ctx context.Context, inv *Invoker, name, key string, op RemoteOperation[T], cfg InvokeConfig) (T, error) {
	var zero T

	breaker := inv.registry.Get(name)
	if err := breaker.Allow(); err != nil {
		openErr := err.(*CircuitOpenError)
		inv.logger.Warn("Invocation rejected by open circuit",
			"operation", name,
			"retry_after", openErr.RetryAfter.String(),
		)
		if inv.metrics != nil {
			inv.metrics.RecordInvocation(name, "circuit_open", 0)
		}
		return zero, ErrorFor(openErr)
	}

	if inv.monitor != nil {
		inv.monitor.Start(name, nil)
	}
	started := time.Now()

	attempts := cfg.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		result, err := attemptOnce(ctx, name, op, cfg.Timeout)
		if err == nil {
			duration := inv.settle(name, started)
			breaker.RecordSuccess()
			if inv.metrics != nil {
				inv.metrics.RecordInvocation(name, "success", duration)
			}
			if cfg.CacheEnabled && inv.cache != nil {
				inv.cache.Set(ctx, key, result, cfg.CacheTTL, cache.WithPriority(cfg.CachePriority))
			}
			inv.logger.LogInvocation(ctx, name, attempt+1, duration, nil)
			return result, nil
		}

		lastErr = err

		if !errors.IsRetryable(err) {
			inv.logger.Debug("Error is not retryable, stopping",
				"operation", name,
				"error", err.Error(),
				"attempt", attempt+1,
			)
			break
		}

		if attempt == attempts-1 {
			break
		}

		delay := inv.backoff(attempt)
		inv.logger.Debug("Attempt failed, backing off",
			"operation", name,
			"error", err.Error(),
			"attempt", attempt+1,
			"max_attempts", attempts,
			"delay", delay.String(),
		)
		if inv.metrics != nil {
			inv.metrics.RecordRetry(name)
		}

		if err := sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	duration := inv.settle(name, started)
	breaker.RecordFailure(inv.registry.TripsSuspended())
	if inv.metrics != nil {
		inv.metrics.RecordInvocation(name, failureStatus(lastErr), duration)
	}
	inv.logger.LogInvocation(ctx, name, attempts, duration, lastErr)

	if lastErr == context.Canceled || lastErr == context.DeadlineExceeded {
		return zero, lastErr
	}
	// Already-classified errors keep their type; only bare operation
	// failures get wrapped.
	var appErr *errors.AppError
	if stderrors.As(lastErr, &appErr) {
		return zero, lastErr
	}
	return zero, errors.NewOperationError(name, lastErr)
}

// sleep is a cooperative backoff wait that never blocks unrelated work.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// settle closes the monitor record and returns the measured duration.
func (inv *Invoker) settle(name string, started time.Time) time.Duration {
	if inv.monitor != nil {
		return inv.monitor.End(name)
	}
	return time.Since(started)
}

// attemptOnce races the operation against a per-attempt timeout. The losing
// side is abandoned, not cancelled: the result channel is buffered so an
// abandoned attempt can still complete and be discarded.
func attemptOnce[T any](ctx context.Context, name string, op RemoteOperation[T], timeout time.Duration) (T, error) {
	var zero T

	type outcome struct {
		result T
		err    error
	}

	ch := make(chan outcome, 1)
	go func() {
		result, err := op(ctx)
		ch <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-timer.C:
		return zero, errors.NewTimeoutError(name)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// backoff computes baseDelay * 2^attempt with optional jitter, never
// exceeding maxDelay.
func (inv *Invoker) backoff(attempt int) time.Duration {
	delay := float64(inv.opts.Retry.BaseDelay) * math.Pow(2, float64(attempt))
	if inv.opts.Retry.Jitter {
		delay += rand.Float64() * 0.1 * delay
	}

	if delay > float64(inv.opts.Retry.MaxDelay) {
		delay = float64(inv.opts.Retry.MaxDelay)
	}

	return time.Duration(delay)
}

func failureStatus(err error) string {
	switch {
	case err == nil:
		return "error"
	case errors.IsType(err, errors.ErrorTypeTimeout):
		return "timeout"
	default:
		return "error"
	}
}
