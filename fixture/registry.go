package fixture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Scope controls how long a resolved fixture value lives.
type Scope int

const (
	// PerTest fixtures are resolved again for every Run.
	PerTest Scope = iota
	// PerSuite fixtures are resolved once per Runner and reused by later runs.
	PerSuite
)

func (s Scope) String() string {
	switch s {
	case PerSuite:
		return "suite"
	default:
		return "test"
	}
}

// Provider computes a fixture value from the fixtures registered before it.
type Provider func(ctx context.Context, c *Context) (any, error)

// Hook is a before-all or after-all callback.
type Hook func(ctx context.Context, c *Context) error

// TeardownFunc releases a value produced by a provider.
type TeardownFunc func(ctx context.Context, value any) error

// Options tune how a single fixture is resolved and released.
type Options struct {
	// Auto marks a fixture as wanted even when the test body never reads it.
	Auto bool
	// Timeout bounds how long the runner waits for the provider. Zero waits forever.
	Timeout time.Duration
	// Teardown releases the value. When nil, values implementing Releaser or
	// io.Closer are released through those methods.
	Teardown TeardownFunc
}

// Definition is a registered fixture.
type Definition struct {
	Name     string
	Provider Provider
	Scope    Scope
	Options  Options
}

// Option configures a Definition at registration time.
type Option func(*Definition)

func WithScope(scope Scope) Option {
	return func(d *Definition) { d.Scope = scope }
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Definition) { d.Options.Timeout = timeout }
}

func WithAuto() Option {
	return func(d *Definition) { d.Options.Auto = true }
}

func WithTeardown(fn TeardownFunc) Option {
	return func(d *Definition) { d.Options.Teardown = fn }
}

// TeardownOf is WithTeardown for a typed value.
func TeardownOf[T any](fn func(ctx context.Context, value T) error) Option {
	return WithTeardown(func(ctx context.Context, value any) error {
		v, ok := value.(T)
		if !ok {
			return fmt.Errorf("unexpected value type %T", value)
		}
		return fn(ctx, v)
	})
}

// DuplicatePolicy decides what happens when a fixture name is registered twice.
type DuplicatePolicy int

const (
	// Override silently replaces the earlier definition, keeping its position.
	Override DuplicatePolicy = iota
	// Reject records a DuplicateNameKind error that fails the next Run.
	Reject
)

// Registry is an ordered collection of fixture definitions and suite hooks.
// Registration is pure bookkeeping; nothing executes until Runner.Run, which
// seals the registry. A sealed registry may be shared by concurrent runs.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	defs   map[string]Definition
	before []Hook
	after  []Hook
	policy DuplicatePolicy
	errs   []error
	sealed bool
}

// NewRegistry creates an empty registry that overrides duplicate names.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// WithDuplicatePolicy sets the duplicate-name policy and returns the registry.
func (r *Registry) WithDuplicatePolicy(policy DuplicatePolicy) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeOpen()
	r.policy = policy
	return r
}

// Fixture registers a provider under name. Re-registering a name replaces the
// earlier definition (last registration wins) unless the policy is Reject.
func (r *Registry) Fixture(name string, provider Provider, opts ...Option) *Registry {
	def := Definition{Name: name, Provider: provider}
	for _, opt := range opts {
		opt(&def)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeOpen()
	r.put(def)
	return r
}

// Service registers a fixture whose value does not depend on the context.
func (r *Registry) Service(name string, provider func() (any, error), opts ...Option) *Registry {
	return r.Fixture(name, func(context.Context, *Context) (any, error) {
		return provider()
	}, opts...)
}

// Page registers a page object built from the already-registered fixture named page.
func (r *Registry) Page(name, page string, ctor func(page any) (any, error), opts ...Option) *Registry {
	return r.Fixture(name, func(_ context.Context, c *Context) (any, error) {
		p, ok := c.Value(page)
		if !ok {
			return nil, fmt.Errorf("fixture %q is not available", page)
		}
		return ctor(p)
	}, opts...)
}

func (r *Registry) BeforeAll(hook Hook) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeOpen()
	r.before = append(r.before, hook)
	return r
}

func (r *Registry) AfterAll(hook Hook) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeOpen()
	r.after = append(r.after, hook)
	return r
}

// Extend merges the definitions and hooks of other into r. Definitions from
// other override same-named ones in r; hooks are appended.
func (r *Registry) Extend(other *Registry) *Registry {
	if other == nil || other == r {
		return r
	}
	defs, before, after := other.snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeOpen()
	for _, def := range defs {
		r.put(def)
	}
	r.before = append(r.before, before...)
	r.after = append(r.after, after...)
	return r
}

// Seal forbids further registration. Runner.Run calls it before doing anything else.
func (r *Registry) Seal() *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	return r
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Err returns the registration errors recorded under the Reject policy.
func (r *Registry) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[0]
}

// Names returns the fixture names in resolution order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// AutoNames returns the fixtures flagged with WithAuto.
func (r *Registry) AutoNames() []string {
	defs, _, _ := r.snapshot()
	return lo.FilterMap(defs, func(d Definition, _ int) (string, bool) {
		return d.Name, d.Options.Auto
	})
}

// snapshot copies the definitions in registration order along with the hooks.
func (r *Registry) snapshot() ([]Definition, []Hook, []Hook) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := lo.Map(r.order, func(name string, _ int) Definition { return r.defs[name] })
	return defs, append([]Hook(nil), r.before...), append([]Hook(nil), r.after...)
}

func (r *Registry) put(def Definition) {
	if _, exists := r.defs[def.Name]; exists {
		if r.policy == Reject {
			r.errs = append(r.errs, &Error{Kind: DuplicateNameKind, Name: def.Name})
			return
		}
	} else {
		r.order = append(r.order, def.Name)
	}
	r.defs[def.Name] = def
}

func (r *Registry) mustBeOpen() {
	if r.sealed {
		panic(ErrSealed)
	}
}
