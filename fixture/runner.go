package fixture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/google/uuid"
)

// Logger receives the runner's progress notices. logger.Logger from
// flanksource/commons satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

func defaultLogger() Logger {
	return logger.StandardLogger()
}

// TestBody is the code under test. It receives the fully resolved context.
type TestBody func(ctx context.Context, c *Context) error

// Runner drives a full run: before-all hooks, fixture resolution, the test
// body, reverse-order teardown and after-all hooks. Runs on one Runner are
// serialised and share its per-suite fixtures.
type Runner struct {
	mu             sync.Mutex
	log            Logger
	builder        *Builder
	releaseTimeout time.Duration
}

// DefaultReleaseTimeout bounds teardown and after-all hooks once the caller's
// context is done.
const DefaultReleaseTimeout = 30 * time.Second

type RunnerOption func(*Runner)

func WithLogger(log Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// WithReleaseTimeout bounds teardown and after-all hooks. Zero removes the
// bound.
func WithReleaseTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.releaseTimeout = d }
}

func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{releaseTimeout: DefaultReleaseTimeout}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = defaultLogger()
	}
	r.builder = NewBuilder(r.log)
	return r
}

// Run executes body against reg, which is sealed first.
//
// Failures of before-all hooks, fixture resolution or the test body stop the
// forward sequence but never skip teardown. Every acquired fixture is released
// newest first, then the after-all hooks run in registration order. The
// returned *RunError carries the earliest forward failure as Primary and every
// later failure as suppressed. Before-all hooks see an empty context.
//
// Teardown and after-all hooks run on a context that is not cancelled with
// ctx, so releases still happen after an interrupt.
func (r *Runner) Run(ctx context.Context, reg *Registry, body TestBody) error {
	reg.Seal()

	r.mu.Lock()
	defer r.mu.Unlock()

	runID := uuid.NewString()
	if err := reg.Err(); err != nil {
		return newRunError(runID, []error{err})
	}

	_, before, after := reg.snapshot()
	c := newContext()
	ledger := NewLedger()
	var errs []error

	r.log.Infof("🔧 Running %d before-all hooks", len(before))
	for i, hook := range before {
		if err := callHook(ctx, hook, c); err != nil {
			errs = append(errs, &Error{Kind: HookFailureKind, Name: fmt.Sprintf("before-all[%d]", i), Err: err})
			break
		}
	}

	if len(errs) == 0 {
		r.log.Infof("🚀 Setting up %d fixtures", reg.Len())
		if err := r.builder.resolveInto(ctx, reg, ledger, c); err != nil {
			r.log.Errorf("Fixture resolution failed: %v", err)
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		r.log.Infof("🧪 Running test")
		if err := safeCall(func() error { return body(ctx, c) }); err != nil {
			errs = append(errs, &Error{Kind: TestBodyFailureKind, Name: "test", Err: err})
		}
	}

	cleanupCtx, cancel := r.cleanupContext(ctx)
	defer cancel()

	r.log.Infof("🧹 Tearing down %d fixtures", ledger.Len())
	errs = append(errs, ledger.Release(cleanupCtx, r.log)...)

	r.log.Infof("🧹 Running %d after-all hooks", len(after))
	for i, hook := range after {
		if err := callHook(cleanupCtx, hook, c); err != nil {
			r.log.Warnf("after-all[%d] failed: %v", i, err)
			errs = append(errs, &Error{Kind: HookFailureKind, Name: fmt.Sprintf("after-all[%d]", i), Err: err})
		}
	}

	if err := newRunError(runID, errs); err != nil {
		r.log.Errorf("Run %s failed: %v", runID, err)
		return err
	}
	return nil
}

// Close releases the per-suite fixtures memoized by earlier runs. Like
// teardown in Run, it is not interrupted by the cancellation of ctx.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cleanupCtx, cancel := r.cleanupContext(ctx)
	defer cancel()
	return errors.Join(r.builder.Release(cleanupCtx)...)
}

// cleanupContext keeps ctx's values but drops its cancellation and deadline,
// bounding the result by the release timeout instead.
func (r *Runner) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if r.releaseTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, r.releaseTimeout)
}

func callHook(ctx context.Context, hook Hook, c *Context) error {
	if hook == nil {
		return nil
	}
	return safeCall(func() error { return hook(ctx, c) })
}
