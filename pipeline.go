package veld

import (
	"context"
	"sort"
	"sync"
)

// AdviceKind positions an advice within the interception pipeline.
type AdviceKind int

const (
	// AdviceAround wraps the call; the handler drives Proceed and may
	// skip, retry, or transform the call.
	AdviceAround AdviceKind = iota
	// AdviceBefore runs prior to entering the real call.
	AdviceBefore
	// AdviceAfterReturning runs after a successful real call and
	// observes the result.
	AdviceAfterReturning
	// AdviceAfterThrowing runs only when the real call or an inner
	// advice failed, and observes the failure.
	AdviceAfterThrowing
	// AdviceAfterFinally always runs last regardless of outcome.
	AdviceAfterFinally
)

// String returns the advice kind name.
func (k AdviceKind) String() string {
	switch k {
	case AdviceAround:
		return "around"
	case AdviceBefore:
		return "before"
	case AdviceAfterReturning:
		return "after-returning"
	case AdviceAfterThrowing:
		return "after-throwing"
	case AdviceAfterFinally:
		return "after-finally"
	default:
		return "unknown"
	}
}

// Interceptor is the single capability every cross-cutting handler
// implements, regardless of the concern it serves. For around advice
// the handler calls inv.Proceed to continue the chain; for the other
// kinds the pipeline interprets the invocation state (Result, Err)
// around the handler call.
type Interceptor interface {
	Invoke(inv *Invocation) (any, error)
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(inv *Invocation) (any, error)

// Invoke implements Interceptor.
func (f InterceptorFunc) Invoke(inv *Invocation) (any, error) { return f(inv) }

// Matcher selects the calls an advice applies to.
type Matcher func(target any, method string, metadata map[string]any) bool

// MatchAll applies an advice to every managed call.
func MatchAll(_ any, _ string, _ map[string]any) bool { return true }

// MatchMethod applies an advice to calls of the named method.
func MatchMethod(method string) Matcher {
	return func(_ any, m string, _ map[string]any) bool { return m == method }
}

// MatchMetadata applies an advice to calls whose metadata carries the
// given key.
func MatchMetadata(key string) Matcher {
	return func(_ any, _ string, md map[string]any) bool {
		_, ok := md[key]
		return ok
	}
}

// AdviceDescriptor describes one registered advice. Descriptors are
// immutable after registration and are dispatched in ascending Order
// within their kind; for around advice lower order means outermost.
type AdviceDescriptor struct {
	Kind    AdviceKind
	Name    string
	Order   int
	Handler Interceptor
}

// Invocation is the ephemeral context of one intercepted call. It
// carries the target reference, method identity, arguments, and the
// declared metadata consulted by matchers and handlers, plus the
// outcome fields populated for the after stages.
type Invocation struct {
	Target   any
	Method   string
	Args     []any
	Metadata map[string]any

	// Result and Err expose the current call outcome to after-stage
	// advices. Around advices observe them through Proceed's returns.
	Result any
	Err    error

	ctx    context.Context
	values map[string]any
	chain  []AdviceDescriptor // around advices, outermost first
	pos    int
	call   func(ctx context.Context, args []any) (any, error)
	stages *matchedAdvices
	logger Logger
}

// Context returns the context the invocation was started with.
func (inv *Invocation) Context() context.Context {
	if inv.ctx == nil {
		return context.Background()
	}
	return inv.ctx
}

// WithContext replaces the invocation's context for the remainder of
// the chain.
func (inv *Invocation) WithContext(ctx context.Context) {
	inv.ctx = ctx
}

// fork returns a copy of the invocation bound to ctx that can proceed
// independently of the original. Chain position, outcome fields, and
// stored values are private to the copy, so an advice may hand the
// fork to another goroutine and abandon it without the original
// observing any mutation.
func (inv *Invocation) fork(ctx context.Context) *Invocation {
	clone := *inv
	clone.ctx = ctx
	if inv.values != nil {
		clone.values = make(map[string]any, len(inv.values))
		for k, v := range inv.values {
			clone.values[k] = v
		}
	}
	return &clone
}

// absorb copies a completed fork's outcome and stored values back
// onto the invocation. Only call after the fork's goroutine has
// finished.
func (inv *Invocation) absorb(fork *Invocation) {
	inv.Result, inv.Err = fork.Result, fork.Err
	if fork.values != nil {
		inv.values = fork.values
	}
}

// Value returns data stored on the invocation by an earlier advice.
func (inv *Invocation) Value(key string) (any, bool) {
	v, ok := inv.values[key]
	return v, ok
}

// SetValue stores data on the invocation for later advices in the
// same chain.
func (inv *Invocation) SetValue(key string, value any) {
	if inv.values == nil {
		inv.values = make(map[string]any)
	}
	inv.values[key] = value
}

// Proceed continues the chain: the next around advice if any remain,
// otherwise the before/call/after core. Around advice may call Proceed
// several times (retry) or not at all (short-circuit).
func (inv *Invocation) Proceed() (any, error) {
	if inv.pos >= len(inv.chain) {
		return inv.invokeCore()
	}
	next := inv.chain[inv.pos]
	inv.pos++
	result, err := next.Handler.Invoke(inv)
	inv.pos--
	return result, err
}

// invokeCore runs the innermost stage of the chain: before advices,
// the real call, then the after stages.
func (inv *Invocation) invokeCore() (any, error) {
	result, err := func() (any, error) {
		for _, d := range inv.stages.before {
			if _, adviceErr := d.Handler.Invoke(inv); adviceErr != nil {
				return nil, adviceErr
			}
		}
		return inv.call(inv.Context(), inv.Args)
	}()

	inv.Result, inv.Err = result, err
	if err == nil {
		for _, d := range inv.stages.afterReturning {
			if _, adviceErr := d.Handler.Invoke(inv); adviceErr != nil {
				inv.Result, inv.Err = nil, adviceErr
				result, err = nil, adviceErr
				break
			}
		}
	}
	if err != nil {
		for _, d := range inv.stages.afterThrowing {
			if _, adviceErr := d.Handler.Invoke(inv); adviceErr != nil && inv.logger != nil {
				inv.logger.Error("After-throwing advice failed", "advice", d.Name, "method", inv.Method, "error", adviceErr)
			}
		}
	}
	for _, d := range inv.stages.afterFinally {
		if _, adviceErr := d.Handler.Invoke(inv); adviceErr != nil && inv.logger != nil {
			inv.logger.Error("After-finally advice failed", "advice", d.Name, "method", inv.Method, "error", adviceErr)
		}
	}
	return result, err
}

type registeredAdvice struct {
	matcher Matcher
	advice  AdviceDescriptor
}

type matchedAdvices struct {
	around         []AdviceDescriptor
	before         []AdviceDescriptor
	afterReturning []AdviceDescriptor
	afterThrowing  []AdviceDescriptor
	afterFinally   []AdviceDescriptor
}

// Pipeline dispatches managed calls through the ordered advice chain.
// Registration happens during startup; dispatch is concurrent and
// lock-free apart from the registration read lock.
type Pipeline struct {
	mu      sync.RWMutex
	advices []registeredAdvice
	logger  Logger
}

// NewPipeline creates an empty interception pipeline.
func NewPipeline(logger Logger) *Pipeline {
	return &Pipeline{logger: logger}
}

// Register attaches an advice to every call selected by the matcher.
// A nil matcher matches all calls.
func (p *Pipeline) Register(matcher Matcher, advice AdviceDescriptor) error {
	if advice.Handler == nil {
		return ErrAdviceHandlerNil
	}
	if matcher == nil {
		matcher = MatchAll
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.advices = append(p.advices, registeredAdvice{matcher: matcher, advice: advice})
	p.logger.Debug("Registered advice", "advice", advice.Name, "kind", advice.Kind.String(), "order", advice.Order)
	return nil
}

// AdviceCount returns the number of registered advices.
func (p *Pipeline) AdviceCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.advices)
}

func (p *Pipeline) match(target any, method string, metadata map[string]any) *matchedAdvices {
	p.mu.RLock()
	defer p.mu.RUnlock()

	matched := &matchedAdvices{}
	for _, ra := range p.advices {
		if !ra.matcher(target, method, metadata) {
			continue
		}
		switch ra.advice.Kind {
		case AdviceAround:
			matched.around = append(matched.around, ra.advice)
		case AdviceBefore:
			matched.before = append(matched.before, ra.advice)
		case AdviceAfterReturning:
			matched.afterReturning = append(matched.afterReturning, ra.advice)
		case AdviceAfterThrowing:
			matched.afterThrowing = append(matched.afterThrowing, ra.advice)
		case AdviceAfterFinally:
			matched.afterFinally = append(matched.afterFinally, ra.advice)
		}
	}

	for _, kind := range [][]AdviceDescriptor{
		matched.around, matched.before, matched.afterReturning, matched.afterThrowing, matched.afterFinally,
	} {
		kind := kind
		sort.SliceStable(kind, func(i, j int) bool { return kind[i].Order < kind[j].Order })
	}
	return matched
}

func (m *matchedAdvices) empty() bool {
	return len(m.around) == 0 && len(m.before) == 0 && len(m.afterReturning) == 0 &&
		len(m.afterThrowing) == 0 && len(m.afterFinally) == 0
}

// Invoke dispatches one call through the pipeline. When no advice
// matches, it degenerates to a direct call of the real method.
func (p *Pipeline) Invoke(ctx context.Context, target any, method string, args []any,
	metadata map[string]any, call func(ctx context.Context, args []any) (any, error)) (any, error) {

	matched := p.match(target, method, metadata)
	if matched.empty() {
		return call(ctx, args)
	}

	inv := &Invocation{
		Target:   target,
		Method:   method,
		Args:     args,
		Metadata: metadata,
		ctx:      ctx,
		chain:    matched.around,
		call:     call,
		stages:   matched,
		logger:   p.logger,
	}
	return inv.Proceed()
}
