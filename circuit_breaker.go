package veld

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of one named circuit.
type CircuitState int

const (
	// CircuitClosed indicates calls pass through and outcomes are
	// recorded into the sliding window.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates calls are short-circuited to the fallback
	// or to ErrCircuitOpen.
	CircuitOpen
	// CircuitHalfOpen indicates the probe phase after the reset
	// timeout has elapsed.
	CircuitHalfOpen
)

// String returns a string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerSettings configures the state machine of one circuit.
type CircuitBreakerSettings struct {
	// FailureThreshold is the number of failures within the sliding
	// window that trips the circuit from closed to open.
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes required
	// to fully close the circuit again.
	SuccessThreshold int

	// ResetTimeout is how long the circuit stays open before the next
	// call transitions it to half-open.
	ResetTimeout time.Duration

	// WindowSize bounds the sliding window of recorded outcomes.
	WindowSize int
}

// DefaultCircuitBreakerSettings returns the settings used when a
// circuit is created without explicit configuration.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     10 * time.Second,
		WindowSize:       10,
	}
}

func (s CircuitBreakerSettings) normalized() CircuitBreakerSettings {
	def := DefaultCircuitBreakerSettings()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = def.FailureThreshold
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = def.SuccessThreshold
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = def.ResetTimeout
	}
	if s.WindowSize < s.FailureThreshold {
		s.WindowSize = max(def.WindowSize, s.FailureThreshold)
	}
	return s
}

// circuit is the per-name state machine. All transitions happen under
// the circuit's own lock, so recording and state changes are strictly
// serialized per circuit name.
type circuit struct {
	mu          sync.Mutex
	settings    CircuitBreakerSettings
	state       CircuitState
	window      []bool // true = failure; bounded ring of recent outcomes
	windowPos   int
	windowFull  bool
	successes   int // consecutive half-open successes
	lastFailure time.Time
	now         func() time.Time
}

func newCircuit(settings CircuitBreakerSettings, now func() time.Time) *circuit {
	return &circuit{
		settings: settings.normalized(),
		state:    CircuitClosed,
		window:   make([]bool, settings.normalized().WindowSize),
		now:      now,
	}
}

// allow decides whether a call may proceed, applying the open-to-half-
// open transition when the reset timeout has elapsed.
func (c *circuit) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CircuitOpen {
		return true
	}
	if c.now().Sub(c.lastFailure) >= c.settings.ResetTimeout {
		c.state = CircuitHalfOpen
		c.successes = 0
		return true
	}
	return false
}

func (c *circuit) recordOutcome(failure bool) {
	c.window[c.windowPos] = failure
	c.windowPos = (c.windowPos + 1) % len(c.window)
	if c.windowPos == 0 {
		c.windowFull = true
	}
}

func (c *circuit) windowFailures() int {
	limit := len(c.window)
	if !c.windowFull {
		limit = c.windowPos
	}
	failures := 0
	for i := 0; i < limit; i++ {
		if c.window[i] {
			failures++
		}
	}
	return failures
}

func (c *circuit) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordOutcome(false)
	if c.state == CircuitHalfOpen {
		c.successes++
		if c.successes >= c.settings.SuccessThreshold {
			c.state = CircuitClosed
			c.window = make([]bool, c.settings.WindowSize)
			c.windowPos = 0
			c.windowFull = false
		}
	}
}

func (c *circuit) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordOutcome(true)
	c.lastFailure = c.now()

	switch c.state {
	case CircuitHalfOpen:
		// Any probe failure reopens immediately.
		c.state = CircuitOpen
		c.successes = 0
	case CircuitClosed:
		if c.windowFailures() >= c.settings.FailureThreshold {
			c.state = CircuitOpen
		}
	case CircuitOpen:
	}
}

func (c *circuit) currentState() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CircuitBreakerRegistry owns the circuit-name to state map for one
// container. It is explicitly constructed and handed to the
// interceptor rather than held as process-global state, keeping tests
// independent and rerunnable. Circuits are created lazily on first use
// and live for the registry's lifetime.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	settings map[string]CircuitBreakerSettings
	defaults CircuitBreakerSettings
	now      func() time.Time
}

// NewCircuitBreakerRegistry creates a registry with the given default
// settings for circuits that have no per-name configuration.
func NewCircuitBreakerRegistry(defaults CircuitBreakerSettings) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		circuits: make(map[string]*circuit),
		settings: make(map[string]CircuitBreakerSettings),
		defaults: defaults.normalized(),
		now:      time.Now,
	}
}

// Configure sets the settings for a named circuit. It has no effect on
// a circuit that was already created.
func (r *CircuitBreakerRegistry) Configure(name string, settings CircuitBreakerSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[name] = settings.normalized()
}

// State returns the current state of a named circuit. Unknown circuits
// report closed.
func (r *CircuitBreakerRegistry) State(name string) CircuitState {
	r.mu.Lock()
	c := r.circuits[name]
	r.mu.Unlock()
	if c == nil {
		return CircuitClosed
	}
	return c.currentState()
}

func (r *CircuitBreakerRegistry) circuitFor(name string) *circuit {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		settings, configured := r.settings[name]
		if !configured {
			settings = r.defaults
		}
		c = newCircuit(settings, r.now)
		r.circuits[name] = c
	}
	return c
}

// MetadataCircuitName is the invocation metadata key naming the
// circuit guarding a call.
const MetadataCircuitName = "circuit"

// MetadataFallback is the invocation metadata key holding the
// Fallback invoked when a guarded call is rejected or fails.
const MetadataFallback = "fallback"

// Fallback is the signature of a pipeline fallback handler. It is
// invoked with the original arguments when a guarded call is rejected
// or fails.
type Fallback func(args []any) (any, error)

// CircuitBreakerInterceptor guards calls with the circuit breaker
// state machine. Register it as around advice; the circuit name comes
// from the call's metadata, defaulting to the method identity.
type CircuitBreakerInterceptor struct {
	registry *CircuitBreakerRegistry
	logger   Logger
}

// NewCircuitBreakerInterceptor creates a circuit breaker interceptor
// backed by the given registry.
func NewCircuitBreakerInterceptor(registry *CircuitBreakerRegistry, logger Logger) *CircuitBreakerInterceptor {
	return &CircuitBreakerInterceptor{registry: registry, logger: logger}
}

func circuitName(inv *Invocation) string {
	if name, ok := inv.Metadata[MetadataCircuitName].(string); ok && name != "" {
		return name
	}
	return inv.Method
}

func fallbackFor(inv *Invocation) (Fallback, bool) {
	fb, ok := inv.Metadata[MetadataFallback].(Fallback)
	return fb, ok
}

// Invoke implements Interceptor.
func (i *CircuitBreakerInterceptor) Invoke(inv *Invocation) (any, error) {
	name := circuitName(inv)
	c := i.registry.circuitFor(name)

	if !c.allow() {
		rejection := fmt.Errorf("%w: circuit %q", ErrCircuitOpen, name)
		if fb, ok := fallbackFor(inv); ok {
			i.logger.Debug("Circuit open, invoking fallback", "circuit", name, "method", inv.Method)
			return fb(inv.Args)
		}
		return nil, rejection
	}

	result, err := inv.Proceed()
	if err != nil {
		c.recordFailure()
		i.logger.Debug("Circuit recorded failure", "circuit", name, "state", c.currentState().String(), "error", err)
		if fb, ok := fallbackFor(inv); ok {
			return fb(inv.Args)
		}
		return nil, err
	}

	c.recordSuccess()
	return result, nil
}
