// Package fixture composes named setup steps into a single execution context
// and runs a test body against it with guaranteed, ordered teardown.
//
// # Registration
//
// A Registry collects fixtures and suite hooks. Each fixture's provider sees
// the values of every fixture registered before it:
//
//	reg := fixture.NewRegistry().
//		BeforeAll(func(ctx context.Context, c *fixture.Context) error { return nil }).
//		Fixture("a", func(context.Context, *fixture.Context) (any, error) { return 1, nil }).
//		Fixture("b", func(_ context.Context, c *fixture.Context) (any, error) {
//			return fixture.MustGet[int](c, "a") + 1, nil
//		}, fixture.WithTimeout(5*time.Second))
//
// Define registers a provider and returns a typed Key for reading it back:
//
//	page := fixture.Define(reg, "page", newPage, fixture.TeardownOf(closePage))
//	...
//	p := page.Get(c)
//
// Re-registering a name replaces the earlier definition in place. Extend merges
// a reusable bundle of fixtures into another registry.
//
// # Running
//
//	runner := fixture.NewRunner(fixture.WithLogger(logger.StandardLogger()))
//	defer runner.Close(ctx)
//	err := runner.Run(ctx, reg, func(ctx context.Context, c *fixture.Context) error {
//		return nil
//	})
//
// Run proceeds through these stages:
//
//  1. before-all hooks, in registration order, with an empty context
//  2. fixture resolution, in registration order, one provider at a time
//  3. the test body
//  4. teardown of every acquired fixture, newest first
//  5. after-all hooks, in registration order
//
// A failure in stages 1-3 stops the forward sequence; stages 4 and 5 always
// run. The returned *RunError reports the first failure and keeps the rest as
// suppressed errors. Kinds can be matched with errors.Is:
//
//	errors.Is(err, fixture.FixtureTimeoutKind)
//
// # Scopes
//
// PerTest fixtures are resolved on every Run. PerSuite fixtures are resolved
// once per Runner, reused by later runs and released by Runner.Close.
//
// A PerSuite provider sees every earlier fixture, PerTest ones included, but
// its value outlives them: a suite value built from a per-test value keeps
// referring to it after the first run has released it. Register PerSuite
// fixtures that depend on other fixtures only after PerSuite ones. The
// Builder logs a warning when a PerSuite fixture is resolved with PerTest
// fixtures in view.
//
// # Timeouts
//
// WithTimeout bounds the wait for a provider, not the provider itself. The
// provider's context is cancelled on timeout; a provider that ignores it keeps
// running, and a value it returns late is released in the background when it
// is releasable.
package fixture
