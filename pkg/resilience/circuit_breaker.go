package resilience

import (
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/bulwarklabs/bulwark/pkg/errors"
	"github.com/bulwarklabs/bulwark/pkg/logging"
	"github.com/bulwarklabs/bulwark/pkg/metrics"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a single probe is allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitOpenError is returned when a breaker rejects a call without
// invoking the operation. It is never retried.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open (retry after %s)", e.Name, e.RetryAfter)
}

// IsCircuitOpen checks if an error is a breaker rejection
func IsCircuitOpen(err error) bool {
	var cbErr *CircuitOpenError
	return stderrors.As(err, &cbErr)
}

// BreakerConfig holds configuration shared by all breakers in a registry
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the circuit
	FailureThreshold int
	// Cooldown is the period the circuit stays open before a half-open probe
	Cooldown time.Duration
	// OnStateChange is called whenever a breaker changes state
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// DefaultBreakerConfig returns the default breaker configuration
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// BreakerStatus is the queryable view of one breaker.
type BreakerStatus struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at"`
}

// Breaker is a per-operation-name failure state machine. The circuit is
// OPEN only while the consecutive failure count has reached the threshold
// and the cooldown has not elapsed since the last failure; the first call
// after the cooldown becomes a single half-open probe.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu            sync.Mutex
	state         CircuitState
	failureCount  int
	lastFailureAt time.Time
	probing       bool

	onStateChange func(name string, from CircuitState, to CircuitState)
	logger        *logging.Logger
}

func newBreaker(name string, config BreakerConfig, logger *logging.Logger) *Breaker {
	return &Breaker{
		name:          name,
		threshold:     config.FailureThreshold,
		cooldown:      config.Cooldown,
		state:         StateClosed,
		onStateChange: config.OnStateChange,
		logger:        logger,
	}
}

// Allow asks the breaker for admission. When the circuit is open and the
// cooldown has not elapsed it returns a CircuitOpenError and the operation
// must not be called. The first call after the cooldown transitions to
// half-open and is admitted as the single probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		remaining := b.cooldown - time.Since(b.lastFailureAt)
		if remaining > 0 {
			return &CircuitOpenError{Name: b.name, RetryAfter: remaining}
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return nil
	default: // StateHalfOpen
		if b.probing {
			return &CircuitOpenError{Name: b.name, RetryAfter: b.cooldown}
		}
		b.probing = true
		return nil
	}
}

// RecordSuccess resets the breaker to CLOSED with a zero failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.probing = false
	b.setState(StateClosed)
}

// RecordFailure counts a terminal invocation failure. In the closed state
// it trips to OPEN once the threshold is reached; a failed half-open probe
// reopens the circuit and restarts the cooldown clock. Trips are skipped
// while tripping is suspended.
func (b *Breaker) RecordFailure(suspended bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureAt = time.Now()
	b.probing = false

	if suspended {
		return
	}

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.threshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

// Status returns the queryable view of the breaker. An open breaker whose
// cooldown has elapsed reports HALF_OPEN, since the next call is admitted.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state
	if state == StateOpen && time.Since(b.lastFailureAt) >= b.cooldown {
		state = StateHalfOpen
	}

	return BreakerStatus{
		Name:          b.name,
		State:         state.String(),
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
	}
}

// reset forces the breaker back to CLOSED.
func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.probing = false
	b.setState(StateClosed)
}

// setState must be called with the mutex held.
func (b *Breaker) setState(state CircuitState) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state

	if b.onStateChange != nil {
		b.onStateChange(b.name, prev, state)
	}

	b.logger.Info("Circuit breaker state changed",
		"name", b.name,
		"from", prev.String(),
		"to", state.String(),
		"failure_count", b.failureCount,
	)
}

// Registry owns the per-operation-name breakers. Breakers are created
// lazily and live for the process lifetime.
type Registry struct {
	config  BreakerConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu             sync.RWMutex
	breakers       map[string]*Breaker
	suspendedUntil time.Time
}

// NewRegistry creates a breaker registry. metrics may be nil.
func NewRegistry(config BreakerConfig, logger *logging.Logger, m *metrics.Metrics) *Registry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	r := &Registry{
		config:   config,
		logger:   logger,
		metrics:  m,
		breakers: make(map[string]*Breaker),
	}

	userHook := config.OnStateChange
	r.config.OnStateChange = func(name string, from, to CircuitState) {
		if r.metrics != nil {
			r.metrics.UpdateBreakerState(name, int(to))
			r.metrics.RecordBreakerTransition(name, to.String())
		}
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	return r
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	b = newBreaker(name, r.config, r.logger)
	r.breakers[name] = b
	return b
}

// Status returns the status of the named breaker and whether it exists.
func (r *Registry) Status(name string) (BreakerStatus, bool) {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return BreakerStatus{}, false
	}
	return b.Status(), true
}

// AllStatuses returns the status of every known breaker.
func (r *Registry) AllStatuses() []BreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]BreakerStatus, 0, len(r.breakers))
	for _, b := range r.breakers {
		statuses = append(statuses, b.Status())
	}
	return statuses
}

// Reset forces the named breaker back to CLOSED.
func (r *Registry) Reset(name string) bool {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	b.reset()
	return true
}

// ResetAll forces every breaker back to CLOSED.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.reset()
	}
}

// SuspendTrips prevents breakers from tripping to OPEN until d has elapsed.
// Failures are still counted. The health loop uses this as a corrective
// action when breaking itself is making things worse.
func (r *Registry) SuspendTrips(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.suspendedUntil = time.Now().Add(d)
	r.logger.Warn("Circuit breaker trips suspended", "until", r.suspendedUntil)
}

// TripsSuspended reports whether tripping is currently suspended.
func (r *Registry) TripsSuspended() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return time.Now().Before(r.suspendedUntil)
}

// ErrorFor maps a breaker rejection into the shared error taxonomy.
func ErrorFor(err *CircuitOpenError) *errors.AppError {
	return errors.NewAppError(errors.ErrorTypeCircuitOpen, "CIRCUIT_OPEN", err.Error()).
		WithDetail("breaker", err.Name).
		WithCause(err)
}
