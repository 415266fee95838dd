package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flanksource/harness/credential"
	"github.com/flanksource/harness/fixture"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type quietLogger struct{}

func (quietLogger) Debugf(string, ...interface{}) {}
func (quietLogger) Infof(string, ...interface{})  {}
func (quietLogger) Warnf(string, ...interface{})  {}
func (quietLogger) Errorf(string, ...interface{}) {}

var _ = Describe("Suite", func() {
	var (
		dir     string
		logFile string
		opts    Options
	)

	load := func(content string) *Manifest {
		path := filepath.Join(dir, "suite.harness.yaml")
		writeFile(path, strings.ReplaceAll(content, "$LOGFILE", logFile))
		m, err := Load(path)
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	events := func() []string {
		data, err := os.ReadFile(logFile)
		if os.IsNotExist(err) {
			return nil
		}
		Expect(err).NotTo(HaveOccurred())
		return strings.Split(strings.TrimSpace(string(data)), "\n")
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		logFile = filepath.Join(dir, "events.log")
		opts = Options{Version: "1.0.0", Logger: quietLogger{}}
	})

	It("runs hooks, fixtures, body and teardown in order", func() {
		m := load(`
name: ordered
env:
  LOG: $LOGFILE
beforeAll:
  - run: echo before >> $LOG
afterAll:
  - run: echo "after {{ .a }}" >> $LOG
fixtures:
  - name: a
    run: echo A
    teardown: echo "teardown {{ .value }}" >> $LOG
  - name: b
    run: echo "B-{{ .a }}"
    teardown: echo "teardown {{ .value }}" >> $LOG
tests:
  - name: body
    run: echo "body {{ .b }}" >> $LOG
`)
		suite := NewSuite(m, opts)
		results := suite.Run(context.Background())
		Expect(suite.Close(context.Background())).To(Succeed())

		Expect(results).To(HaveLen(1))
		Expect(results[0].Status).To(Equal(StatusPass), results[0].Error)
		Expect(results[0].RunID).To(BeEmpty())
		Expect(events()).To(Equal([]string{
			"before",
			"body B-A",
			"teardown B-A",
			"teardown A",
			"after A",
		}))
	})

	It("shares suite fixtures between tests and releases them on close", func() {
		m := load(`
name: shared
fixtures:
  - name: workdir
    run: mktemp -d
    scope: suite
    teardown: rm -rf {{ .value }}
  - name: cfg
    run: |
      echo '{"name": "db", "dir": "{{ .workdir }}"}'
    format: json
tests:
  - name: first
    run: echo "{{ .cfg.name }} {{ .workdir }}" && test -d {{ .workdir }}
    expect: stdout.contains("db ")
  - name: second
    run: echo "{{ .workdir }}"
`)
		suite := NewSuite(m, opts)
		results := suite.Run(context.Background())
		Expect(results).To(HaveLen(2))
		Expect(results[0].Status).To(Equal(StatusPass), results[0].Error)
		Expect(results[1].Status).To(Equal(StatusPass), results[1].Error)

		first := strings.Fields(results[0].Result.Stdout)[1]
		second := strings.TrimSpace(results[1].Result.Stdout)
		Expect(second).To(Equal(first))
		Expect(first).To(BeADirectory())

		Expect(suite.Close(context.Background())).To(Succeed())
		Expect(first).NotTo(BeADirectory())
		Expect(suite.Close(context.Background())).To(Succeed())
	})

	It("reports a failed expectation as a test failure", func() {
		m := load(`
name: failing
tests:
  - name: wrong output
    run: echo nope
    expect: stdout.contains("yes")
  - name: wrong exit
    run: exit 3
`)
		results := NewSuite(m, opts).Run(context.Background())
		Expect(results).To(HaveLen(2))
		for _, r := range results {
			Expect(r.Status).To(Equal(StatusFail))
			Expect(r.Kind).To(Equal(string(fixture.TestBodyFailureKind)))
			Expect(r.RunID).NotTo(BeEmpty())
		}
		Expect(results[1].Error).To(ContainSubstring("exit code 3"))
	})

	It("stops at a failing fixture and tears down the earlier ones", func() {
		m := load(`
name: broken-fixture
env:
  LOG: $LOGFILE
fixtures:
  - name: a
    run: echo A
    teardown: echo "teardown {{ .value }}" >> $LOG
  - name: b
    run: echo "cannot connect" >&2; exit 1
  - name: c
    run: echo C >> $LOG
tests:
  - run: echo body >> $LOG
`)
		results := NewSuite(m, opts).Run(context.Background())
		Expect(results[0].Status).To(Equal(StatusError))
		Expect(results[0].Kind).To(Equal(string(fixture.FixtureFailureKind)))
		Expect(results[0].Error).To(ContainSubstring(`fixture "b" failed`))
		Expect(results[0].Error).To(ContainSubstring("cannot connect"))
		Expect(events()).To(Equal([]string{"teardown A"}))
		Expect(errors.Is(results[0].Err(), fixture.FixtureFailureKind)).To(BeTrue())
	})

	It("times out slow fixtures", func() {
		m := load(`
name: slow
fixtures:
  - name: slow
    run: sleep 3
    timeout: 100ms
tests:
  - run: "true"
`)
		results := NewSuite(m, opts).Run(context.Background())
		Expect(results[0].Status).To(Equal(StatusError))
		Expect(results[0].Kind).To(Equal(string(fixture.FixtureTimeoutKind)))
		Expect(results[0].Duration.Seconds()).To(BeNumerically("<", 2))
	})

	It("binds gated fixtures to null and skips their teardown", func() {
		m := load(`
name: gated
env:
  LOG: $LOGFILE
fixtures:
  - name: optional
    run: echo ran >> $LOG
    when: '"ENABLE" in env'
    teardown: echo teardown >> $LOG
tests:
  - run: echo "optional={{ .optional }}"
    expect: stdout.contains("optional=")
`)
		results := NewSuite(m, opts).Run(context.Background())
		Expect(results[0].Status).To(Equal(StatusPass), results[0].Error)
		Expect(events()).To(BeEmpty())
	})

	It("rejects duplicate fixture names", func() {
		m := load(`
name: dup
fixtures:
  - name: a
    run: echo 1
  - name: a
    run: echo 2
tests:
  - run: "true"
`)
		results := NewSuite(m, opts).Run(context.Background())
		Expect(results[0].Status).To(Equal(StatusError))
		Expect(results[0].Kind).To(Equal(string(fixture.DuplicateNameKind)))
	})

	It("skips manifests that require a newer version", func() {
		m := load(`
name: future
requires: ">=2.0.0"
tests:
  - run: "false"
`)
		results := NewSuite(m, opts).Run(context.Background())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Status).To(Equal(StatusSkip))
		Expect(results[0].Error).To(ContainSubstring(">=2.0.0"))
	})

	It("runs only tests matching the filter", func() {
		m := load(`
name: filtered
tests:
  - name: login works
    run: "true"
  - name: logout works
    run: "true"
`)
		opts.Filter = "login*"
		results := NewSuite(m, opts).Run(context.Background())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Test).To(Equal("login works"))
	})

	It("runs several manifests into one report", func() {
		var suites []string
		opts.OnSuite = func(s *Suite) { suites = append(suites, s.Manifest.Name) }

		pass := &Manifest{Name: "pass", Path: filepath.Join(dir, "p.yaml"), Tests: []Test{{Name: "t", Command: Command{Run: "true"}}}}
		fail := &Manifest{Name: "fail", Path: filepath.Join(dir, "f.yaml"), Tests: []Test{{Name: "t", Command: Command{Run: "false"}}}}

		report, err := Run(context.Background(), []*Manifest{pass, fail}, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(suites).To(Equal([]string{"pass", "fail"}))
		Expect(report.Count(StatusPass)).To(Equal(1))
		Expect(report.Count(StatusFail)).To(Equal(1))
		Expect(report.Failed()).To(BeTrue())
		Expect(report.Pretty().ANSI()).To(ContainSubstring("1 passed"))
	})

	It("releases fixtures and kills the body when the run is cancelled", func() {
		marker := filepath.Join(dir, "released")
		m := load(`
name: interrupted
env:
  MARKER: ` + marker + `
fixtures:
  - name: res
    run: echo res
    teardown: touch $MARKER
tests:
  - run: sleep 5
`)
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(300*time.Millisecond, cancel)

		start := time.Now()
		results := NewSuite(m, opts).Run(ctx)
		Expect(time.Since(start)).To(BeNumerically("<", 3*time.Second))
		Expect(results[0].Status).To(Equal(StatusFail))
		Expect(results[0].Error).To(ContainSubstring("interrupted"))
		Expect(results[0].Error).NotTo(ContainSubstring("teardown"))
		Expect(marker).To(BeARegularFile())
	})

	It("releases suite fixtures on close after the run was cancelled", func() {
		marker := filepath.Join(dir, "suite-released")
		m := load(`
name: suite-interrupted
env:
  MARKER: ` + marker + `
fixtures:
  - name: shared
    run: echo shared
    scope: suite
    teardown: touch $MARKER
tests:
  - run: "true"
`)
		ctx, cancel := context.WithCancel(context.Background())
		suite := NewSuite(m, opts)
		Expect(suite.Run(ctx)[0].Status).To(Equal(StatusPass))
		cancel()

		Expect(suite.Close(ctx)).To(Succeed())
		Expect(marker).To(BeARegularFile())
	})

	It("exposes credential secrets to manifest commands", func() {
		bundle := fixture.NewRegistry()
		fixture.Define(bundle, "credentials", func(context.Context, *fixture.Context) ([]credential.Credential, error) {
			return []credential.Credential{{Username: "bob", Password: "s3cret"}}, nil
		})
		opts.Bundles = []*fixture.Registry{bundle}

		m := load(`
name: secrets
tests:
  - run: echo "{{ (index .credentials 0).username }}:{{ (index .credentials 0).password }}"
    expect: stdout.contains(credentials[0].password)
`)
		results := NewSuite(m, opts).Run(context.Background())
		Expect(results[0].Status).To(Equal(StatusPass), results[0].Error)
		Expect(results[0].Result.Stdout).To(Equal("bob:s3cret\n"))
	})

	It("lets manifest commands use fixtures from Go bundles", func() {
		type account struct {
			Name string `json:"name"`
		}
		bundle := fixture.NewRegistry()
		fixture.Define(bundle, "user", func(context.Context, *fixture.Context) (account, error) {
			return account{Name: "alice"}, nil
		})
		opts.Bundles = []*fixture.Registry{bundle}

		m := load(`
name: bundled
fixtures:
  - name: greeting
    run: echo "hello {{ .user.name }}"
tests:
  - run: echo "{{ .greeting }}"
    expect: stdout.contains(user.name)
`)
		results := NewSuite(m, opts).Run(context.Background())
		Expect(results[0].Status).To(Equal(StatusPass), results[0].Error)
		Expect(results[0].Result.Stdout).To(ContainSubstring("hello alice"))
	})
})
