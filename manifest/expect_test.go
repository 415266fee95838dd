package manifest

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Expectations", func() {
	DescribeTable("expect",
		func(expr string, result Result, expected bool) {
			ok, err := expect(expr, result, map[string]any{"db": "postgres"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(Equal(expected))
		},
		Entry("defaults to a zero exit code", "", Result{ExitCode: 0}, true),
		Entry("default fails on non-zero exit", "", Result{ExitCode: 2}, false),
		Entry("stdout", `stdout.contains("ready")`, Result{Stdout: "server ready\n"}, true),
		Entry("stderr", `stderr == ""`, Result{Stderr: "warning"}, false),
		Entry("exit code", "exitCode == 3", Result{ExitCode: 3}, true),
		Entry("parsed json", `json.status == "up"`, Result{Stdout: `{"status": "up"}`}, true),
		Entry("fixture values", `db == "postgres" && exitCode == 0`, Result{}, true),
	)

	It("lets the result shadow a fixture named stdout", func() {
		ok, err := expect(`stdout == "real"`, Result{Stdout: "real"}, map[string]any{"stdout": "fixture"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("rejects non-boolean expressions", func() {
		_, err := expect("exitCode + 1", Result{}, nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("When", func() {
	fixtures := map[string]any{"db": "postgres", "cfg": map[string]any{"replicas": "3"}, "skipped": nil}
	env := map[string]string{"MODE": "ci"}

	DescribeTable("gates",
		func(expr string, expected bool) {
			ok, err := when(expr, fixtures, env)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(Equal(expected))
		},
		Entry("empty", "", true),
		Entry("literal true", "true", true),
		Entry("fixture value", `fixtures.db == "postgres"`, true),
		Entry("nested value", `fixtures.cfg.replicas == "3"`, true),
		Entry("skipped fixture", `fixtures.skipped == null`, true),
		Entry("env", `env.MODE == "ci"`, true),
		Entry("missing env", `"DEBUG" in env`, false),
		Entry("string functions", `fixtures.db.startsWith("post")`, true),
	)

	It("reports compile errors", func() {
		_, err := when("fixtures.db ==", fixtures, env)
		Expect(err).To(MatchError(ContainSubstring("failed to compile")))
	})

	It("requires a boolean", func() {
		_, err := when("fixtures.db", fixtures, env)
		Expect(err).To(MatchError(ContainSubstring("did not return a boolean")))
	})
})

var _ = Describe("decode", func() {
	It("trims text output", func() {
		Expect(decode("", "  hello\n")).To(Equal("hello"))
	})

	It("parses json", func() {
		v, err := decode("json", `{"port": 5432}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(HaveKeyWithValue("port", BeNumerically("==", 5432)))
	})

	It("parses yaml", func() {
		v, err := decode("yaml", "host: localhost\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(HaveKeyWithValue("host", "localhost"))
	})

	It("fails on malformed json", func() {
		_, err := decode("json", "nope")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("shell", func() {
	It("exports env with quoting", func() {
		s := shell{env: map[string]string{"B": "it's", "A": "1"}}
		Expect(s.exports()).To(Equal("export A='1'\nexport B='it'\\''s'\n"))
	})

	It("renders templates against data", func() {
		out, err := render("echo {{ .db }} in {{ .env.MODE }}", map[string]any{"db": "pg", "env": map[string]string{"MODE": "ci"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("echo pg in ci"))
	})

	It("fails on values that are not defined", func() {
		_, err := render("echo {{ .user.Name }}", map[string]any{"user": struct {
			Name string `json:"name"`
		}{Name: "alice"}})
		Expect(err).To(MatchError(ContainSubstring("failed to template")))
	})

	It("renders gated fixtures as empty strings", func() {
		out, err := render("echo [{{ .optional }}]", map[string]any{"optional": nil})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("echo []"))
	})

	It("addresses Go values by their json names", func() {
		out, err := render("echo {{ .user.name }}", map[string]any{"user": struct {
			Name string `json:"name"`
		}{Name: "alice"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("echo alice"))
	})

	It("kills a command when its context is cancelled", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err := shell{}.exec(ctx, "sleep 5", nil, 0)
		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
	})

	It("applies its own timeout", func() {
		_, err := shell{}.exec(context.Background(), "sleep 5", nil, 100*time.Millisecond)
		Expect(err).To(MatchError(ContainSubstring("interrupted")))
	})

	It("reports the exit code without an error", func() {
		result, err := shell{}.exec(context.Background(), "echo out; exit 4", nil, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ExitCode).To(Equal(4))
		Expect(result.Stdout).To(Equal("out\n"))
	})
})
