package fixture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Builder resolves the fixtures of a registry into a Context, strictly in
// registration order. Per-suite values are memoized for the Builder's lifetime
// and released by Release; per-test values are recorded on the ledger passed
// to Resolve.
//
// A fixture timeout only stops the wait. The provider keeps running with a
// cancelled context.Context; if it returns a releasable value later, that value
// is released in the background. Providers that ignore their context and never
// return leak their goroutine.
type Builder struct {
	log Logger

	mu    sync.Mutex
	suite map[string]any
	owned *Ledger
}

func NewBuilder(log Logger) *Builder {
	if log == nil {
		log = defaultLogger()
	}
	return &Builder{
		log:   log,
		suite: make(map[string]any),
		owned: NewLedger(),
	}
}

type outcome struct {
	value any
	err   error
}

// Resolve builds a fresh Context from reg. On failure it returns the partial
// context together with an *Error naming the offending fixture; fixtures after
// it are never invoked and the ones before it remain on ledger.
func (b *Builder) Resolve(ctx context.Context, reg *Registry, ledger *Ledger) (*Context, error) {
	c := newContext()
	return c, b.resolveInto(ctx, reg, ledger, c)
}

func (b *Builder) resolveInto(ctx context.Context, reg *Registry, ledger *Ledger, c *Context) error {
	defs, _, _ := reg.snapshot()
	var perTest []string
	for _, def := range defs {
		if def.Scope == PerSuite {
			if v, ok := b.cached(def.Name); ok {
				b.log.Debugf("Reusing fixture: %s (scope: %s)", def.Name, def.Scope)
				c.bind(def.Name, v)
				continue
			}
		}

		b.log.Infof("🔩 Setting up fixture: %s (scope: %s)", def.Name, def.Scope)
		value, err := b.invoke(ctx, def, c.snapshot())
		if err != nil {
			return err
		}

		if def.Scope == PerSuite {
			if len(perTest) > 0 {
				b.log.Warnf("Per-suite fixture %s can see per-test fixtures %s: it is reused after they are released",
					def.Name, strings.Join(perTest, ", "))
			}
			b.memoize(def, value)
		} else {
			perTest = append(perTest, def.Name)
			ledger.Record(def, value)
		}
		c.bind(def.Name, value)
	}
	return nil
}

func (b *Builder) invoke(ctx context.Context, def Definition, view *Context) (any, error) {
	if def.Provider == nil {
		return nil, &Error{Kind: FixtureFailureKind, Name: def.Name, Err: errors.New("no provider")}
	}

	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if def.Options.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, def.Options.Timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		var o outcome
		o.err = safeCall(func() (err error) {
			o.value, err = def.Provider(callCtx, view)
			return err
		})
		done <- o
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, &Error{Kind: FixtureFailureKind, Name: def.Name, Err: o.err}
		}
		return o.value, nil
	case <-callCtx.Done():
		go b.discardLate(def, done)
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &Error{
				Kind: FixtureTimeoutKind,
				Name: def.Name,
				Err:  fmt.Errorf("provider did not resolve within %s", def.Options.Timeout),
			}
		}
		return nil, &Error{Kind: FixtureFailureKind, Name: def.Name, Err: ctx.Err()}
	}
}

func (b *Builder) discardLate(def Definition, done <-chan outcome) {
	o := <-done
	if o.err != nil {
		b.log.Debugf("Abandoned fixture %s finished with error: %v", def.Name, o.err)
		return
	}
	release := releaseFor(def, o.value)
	if release == nil {
		b.log.Warnf("Fixture %s resolved after it was abandoned, value discarded", def.Name)
		return
	}
	if err := safeCall(func() error { return release(context.Background()) }); err != nil {
		b.log.Warnf("Failed to release abandoned fixture %s: %v", def.Name, err)
	}
}

func (b *Builder) cached(name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.suite[name]
	return v, ok
}

func (b *Builder) memoize(def Definition, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suite[def.Name] = value
	b.owned.Record(def, value)
}

// Release tears down the memoized per-suite fixtures in reverse acquisition
// order and forgets them.
func (b *Builder) Release(ctx context.Context) []error {
	b.mu.Lock()
	b.suite = make(map[string]any)
	b.mu.Unlock()
	return b.owned.Release(ctx, b.log)
}
