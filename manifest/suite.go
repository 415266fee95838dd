package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/flanksource/commons/logger"
	"github.com/flanksource/harness/fixture"
	"github.com/goccy/go-yaml"
)

// Options configure how manifests are run.
type Options struct {
	// Version is checked against each manifest's requires constraint.
	Version string
	// Filter is a glob on test names.
	Filter string
	Logger fixture.Logger
	// Bundles are registered ahead of the manifest's own fixtures, so
	// manifest commands can reference them.
	Bundles []*fixture.Registry
	// OnSuite is called with every suite before it runs, e.g. to register
	// a shutdown hook that closes it.
	OnSuite func(*Suite)
}

// Suite runs the tests of one manifest. Every test is a separate fixture run;
// suite-scoped fixtures are shared by the tests and released by Close.
type Suite struct {
	Manifest *Manifest

	opts     Options
	shell    shell
	runner   *fixture.Runner
	registry *fixture.Registry
}

func NewSuite(m *Manifest, opts Options) *Suite {
	var runnerOpts []fixture.RunnerOption
	if opts.Logger != nil {
		runnerOpts = append(runnerOpts, fixture.WithLogger(opts.Logger))
	}
	s := &Suite{
		Manifest: m,
		opts:     opts,
		shell:    shell{dir: m.Dir(), env: m.Env},
		runner:   fixture.NewRunner(runnerOpts...),
	}
	s.registry = s.buildRegistry()
	return s
}

// Registry returns the fixture registry built from the manifest.
func (s *Suite) Registry() *fixture.Registry { return s.registry }

func (s *Suite) buildRegistry() *fixture.Registry {
	reg := fixture.NewRegistry().WithDuplicatePolicy(fixture.Reject)
	for _, bundle := range s.opts.Bundles {
		reg.Extend(bundle)
	}
	for _, f := range s.Manifest.Fixtures {
		scope, _ := f.scope()
		opts := []fixture.Option{fixture.WithScope(scope)}
		if f.Timeout > 0 {
			opts = append(opts, fixture.WithTimeout(f.Timeout.Std()))
		}
		if f.Auto {
			opts = append(opts, fixture.WithAuto())
		}
		if f.Teardown != "" {
			opts = append(opts, fixture.WithTeardown(s.teardown(f)))
		}
		reg.Fixture(f.Name, s.provider(f), opts...)
	}
	for _, cmd := range s.Manifest.BeforeAll {
		reg.BeforeAll(s.hook(cmd))
	}
	for _, cmd := range s.Manifest.AfterAll {
		reg.AfterAll(s.hook(cmd))
	}
	if auto := reg.AutoNames(); len(auto) > 0 {
		logger.V(2).Infof("%s: auto fixtures %s", s.Manifest.Name, strings.Join(auto, ", "))
	}
	return reg
}

// data is the template and expression scope: the fixtures resolved so far
// plus env, workDir and manifest.
func (s *Suite) data(values map[string]any) map[string]any {
	data := make(map[string]any, len(values)+3)
	for k, v := range values {
		data[k] = v
	}
	env := s.Manifest.Env
	if env == nil {
		env = map[string]string{}
	}
	data["env"] = env
	data["workDir"] = s.shell.dir
	data["manifest"] = s.Manifest.Name
	return data
}

func (s *Suite) provider(f Fixture) fixture.Provider {
	return func(ctx context.Context, c *fixture.Context) (any, error) {
		values := c.AsMap()
		ok, err := when(f.When, values, s.Manifest.Env)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.V(2).Infof("Skipping fixture %s: %s is false", f.Name, f.When)
			return nil, nil
		}
		// the runner enforces the fixture timeout through ctx
		cmd := f.Command
		cmd.Timeout = 0
		result, err := s.shell.check(ctx, cmd, s.data(values))
		if err != nil {
			return nil, err
		}
		return decode(f.Format, result.Stdout)
	}
}

func (s *Suite) teardown(f Fixture) fixture.TeardownFunc {
	return func(ctx context.Context, value any) error {
		if value == nil {
			return nil
		}
		_, err := s.shell.check(ctx, Command{Run: f.Teardown}, s.data(map[string]any{"value": value}))
		return err
	}
}

func (s *Suite) hook(cmd Command) fixture.Hook {
	return func(ctx context.Context, c *fixture.Context) error {
		_, err := s.shell.check(ctx, cmd, s.data(c.AsMap()))
		return err
	}
}

func decode(format, stdout string) (any, error) {
	switch format {
	case "json":
		var v any
		if err := json.Unmarshal([]byte(stdout), &v); err != nil {
			return nil, fmt.Errorf("output is not json: %w", err)
		}
		return v, nil
	case "yaml":
		var v any
		if err := yaml.Unmarshal([]byte(stdout), &v); err != nil {
			return nil, fmt.Errorf("output is not yaml: %w", err)
		}
		return v, nil
	default:
		return strings.TrimSpace(stdout), nil
	}
}

// Run executes every selected test in manifest order.
func (s *Suite) Run(ctx context.Context) []TestResult {
	m := s.Manifest
	results := make([]TestResult, 0, len(m.Tests))

	supported, err := m.Supports(s.opts.Version)
	if err != nil || !supported {
		reason := fmt.Sprintf("requires %s, running %s", m.Requires, s.opts.Version)
		status := StatusSkip
		if err != nil {
			reason, status = err.Error(), StatusError
		}
		for _, t := range m.Tests {
			results = append(results, TestResult{Manifest: m.Name, Test: t.Name, Status: status, Error: reason, err: err})
		}
		return results
	}

	for _, t := range m.Tests {
		if s.opts.Filter != "" {
			if ok, _ := doublestar.Match(s.opts.Filter, t.Name); !ok {
				continue
			}
		}
		if ctx.Err() != nil {
			results = append(results, TestResult{Manifest: m.Name, Test: t.Name, Status: StatusSkip, Error: ctx.Err().Error()})
			continue
		}
		results = append(results, s.runTest(ctx, t))
	}
	return results
}

func (s *Suite) runTest(ctx context.Context, t Test) TestResult {
	tr := TestResult{Manifest: s.Manifest.Name, Test: t.Name}
	start := time.Now()

	err := s.runner.Run(ctx, s.registry, func(ctx context.Context, c *fixture.Context) error {
		result, err := s.shell.check(ctx, t.Command, s.data(c.AsMap()))
		tr.Result = &result
		return err
	})
	tr.Duration = time.Since(start)
	tr.err = err

	var runErr *fixture.RunError
	if errors.As(err, &runErr) {
		tr.RunID = runErr.RunID
	}
	switch {
	case err == nil:
		tr.Status = StatusPass
	case fixture.KindOf(err) == fixture.TestBodyFailureKind:
		tr.Status = StatusFail
	default:
		tr.Status = StatusError
	}
	if err != nil {
		tr.Error = err.Error()
		tr.Kind = string(fixture.KindOf(err))
	}
	return tr
}

// Close releases the suite-scoped fixtures. It is safe to call more than once.
func (s *Suite) Close(ctx context.Context) error {
	return s.runner.Close(ctx)
}

// Run runs every manifest as its own suite and closes it afterwards.
func Run(ctx context.Context, manifests []*Manifest, opts Options) (Summary, error) {
	var report Summary
	var errs []error
	for _, m := range manifests {
		suite := NewSuite(m, opts)
		if opts.OnSuite != nil {
			opts.OnSuite(suite)
		}
		logger.Infof("📋 Running %s (%d tests)", m.Name, len(m.Tests))
		report.Results = append(report.Results, suite.Run(ctx)...)
		if err := suite.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to release suite fixtures of %s: %w", m.Name, err))
		}
	}
	return report, errors.Join(errs...)
}
