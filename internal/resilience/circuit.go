// Package resilience provides circuit breaker, retry and error classification
// for calls made by step adapters.
package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the position of a breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen admits one probe call at a time.
	CircuitHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen rejects a call without invoking the service.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls when a breaker opens and how it recovers.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive tripping failures open the circuit.
	FailureThreshold int
	// ResetTimeout is how long an open circuit rejects calls before probing.
	ResetTimeout time.Duration
	// Probes is the number of successful half-open calls needed to close.
	Probes int
	// Trips decides whether an error counts against the service. The default
	// ignores invalid_input failures and caller cancellation.
	Trips func(err error) bool
	// OnStateChange runs under the breaker lock; keep it cheap.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig opens after 5 failures and probes after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second, Probes: 1}
}

func defaultTrips(err error) bool {
	return !errors.Is(err, context.Canceled) && !isRequestError(err)
}

// CircuitBreaker guards a single upstream service.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
	probeOK  int
}

// NewCircuitBreaker fills zero config fields from the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	if cfg.Trips == nil {
		cfg.Trips = defaultTrips
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit rejects it.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for calls that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State reports the current position. An open circuit whose reset timeout
// has elapsed reads as half-open even before the next call probes it.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.cooled() {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) cooled() bool {
	return cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if !cb.cooled() {
			return ErrCircuitOpen
		}
		cb.moveTo(CircuitHalfOpen)
	case CircuitHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
	default:
		return nil
	}
	cb.probing = true
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	tripped := err != nil && cb.cfg.Trips(err)
	switch cb.state {
	case CircuitHalfOpen:
		cb.probing = false
		if tripped {
			cb.open()
			return
		}
		cb.probeOK++
		if cb.probeOK >= cb.cfg.Probes {
			cb.failures, cb.probeOK = 0, 0
			cb.moveTo(CircuitClosed)
		}
	case CircuitClosed:
		if !tripped {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.open()
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.probeOK = 0
	cb.moveTo(CircuitOpen)
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	cb.state = to
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// ServiceBreakers holds one breaker per upstream service, created on first use.
type ServiceBreakers struct {
	cfg CircuitBreakerConfig

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewServiceBreakers creates breakers sharing cfg. Transitions are logged
// with the service name.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for service.
func (sb *ServiceBreakers) Get(service string) *CircuitBreaker {
	sb.mu.RLock()
	cb := sb.breakers[service]
	sb.mu.RUnlock()
	if cb != nil {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cb = sb.breakers[service]; cb != nil {
		return cb
	}
	cfg := sb.cfg
	hook := cfg.OnStateChange
	cfg.OnStateChange = func(from, to CircuitState) {
		zap.L().Warn("resilience: circuit changed",
			zap.String("service", service),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if hook != nil {
			hook(from, to)
		}
	}
	cb = NewCircuitBreaker(cfg)
	sb.breakers[service] = cb
	return cb
}

// States returns the current state of every breaker created so far.
func (sb *ServiceBreakers) States() map[string]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	out := make(map[string]CircuitState, len(sb.breakers))
	for name, cb := range sb.breakers {
		out[name] = cb.State()
	}
	return out
}

// Snapshot renders States for the health endpoint.
func (sb *ServiceBreakers) Snapshot() map[string]string {
	states := sb.States()
	out := make(map[string]string, len(states))
	for name, st := range states {
		out[name] = st.String()
	}
	return out
}

// Open lists services whose circuit is rejecting calls, sorted by name.
func (sb *ServiceBreakers) Open() []string {
	var open []string
	for name, st := range sb.States() {
		if st == CircuitOpen {
			open = append(open, name)
		}
	}
	sort.Strings(open)
	return open
}
