package manifest

import (
	"os"
	"path/filepath"

	"github.com/flanksource/harness/fixture"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func writeFile(path, content string) {
	Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
	Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
}

var _ = Describe("Parse", func() {
	It("reads fixtures, hooks and tests", func() {
		m, err := Parse([]byte(`
name: api
requires: ">=1.0.0"
env:
  MODE: ci
beforeAll:
  - run: echo setup
fixtures:
  - name: db
    run: echo postgres
    scope: suite
    timeout: 2s
    teardown: echo bye
  - name: cfg
    run: echo '{}'
    format: json
    when: '"MODE" in env'
    auto: true
tests:
  - run: echo ok
    expect: stdout.contains("ok")
`), "/suites/api.harness.yaml")
		Expect(err).NotTo(HaveOccurred())

		Expect(m.Name).To(Equal("api"))
		Expect(m.Env).To(HaveKeyWithValue("MODE", "ci"))
		Expect(m.BeforeAll).To(HaveLen(1))
		Expect(m.Fixtures).To(HaveLen(2))
		Expect(m.Fixtures[0].Run).To(Equal("echo postgres"))
		Expect(m.Fixtures[0].Timeout.String()).To(Equal("2s"))
		Expect(m.Fixtures[1].Auto).To(BeTrue())
		Expect(m.Tests[0].Name).To(Equal("test-1"))
		Expect(m.Tests[0].Expect).To(Equal(`stdout.contains("ok")`))
		Expect(m.Dir()).To(Equal("/suites"))
	})

	It("reports every problem at once", func() {
		_, err := Parse([]byte(`
name: broken
fixtures:
  - name: my-db
    run: echo
  - name: env
    run: echo
  - name: cache
    scope: worker
    format: xml
`), "broken.yaml")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring(`"my-db" must be an identifier`))
		Expect(err.Error()).To(ContainSubstring(`"env" is reserved`))
		Expect(err.Error()).To(ContainSubstring("fixture cache: run is required"))
		Expect(err.Error()).To(ContainSubstring(`unknown scope "worker"`))
		Expect(err.Error()).To(ContainSubstring(`unknown format "xml"`))
		Expect(err.Error()).To(ContainSubstring("at least one test is required"))
	})

	It("names a manifest after its file", func() {
		m, err := Parse([]byte("tests:\n  - run: 'true'\n"), "/tmp/smoke.harness.yaml")
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Name).To(Equal("smoke.harness.yaml"))
	})

	It("resolves cwd against the manifest directory", func() {
		m := &Manifest{Path: "/suites/api.yaml", CWD: "../work"}
		Expect(m.Dir()).To(Equal("/work"))
		m.CWD = "/abs"
		Expect(m.Dir()).To(Equal("/abs"))
	})

	It("maps scopes onto fixture scopes", func() {
		scope, err := Fixture{Scope: "suite"}.scope()
		Expect(err).NotTo(HaveOccurred())
		Expect(scope).To(Equal(fixture.PerSuite))
		scope, _ = Fixture{}.scope()
		Expect(scope).To(Equal(fixture.PerTest))
	})
})

var _ = Describe("Discover", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		writeFile(filepath.Join(dir, "b", "two.harness.yaml"), "tests:\n  - run: 'true'\n")
		writeFile(filepath.Join(dir, "a", "one.harness.yaml"), "tests:\n  - run: 'true'\n")
		writeFile(filepath.Join(dir, "a", "notes.yaml"), "ignored: true\n")
	})

	It("finds manifests under a directory in sorted order", func() {
		files, err := Discover(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(Equal([]string{
			filepath.Join(dir, "a", "one.harness.yaml"),
			filepath.Join(dir, "b", "two.harness.yaml"),
		}))
	})

	It("de-duplicates overlapping globs", func() {
		files, err := Discover(filepath.Join(dir, "**", "*.harness.yaml"), filepath.Join(dir, "a", "*.harness.yaml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(HaveLen(2))
	})

	It("loads every manifest", func() {
		manifests, err := LoadAll(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(manifests).To(HaveLen(2))
		Expect(manifests[0].Name).To(Equal("one.harness.yaml"))
	})

	It("fails on an invalid manifest", func() {
		writeFile(filepath.Join(dir, "c", "bad.harness.yaml"), "name: bad\n")
		_, err := LoadAll(dir)
		Expect(err).To(MatchError(ContainSubstring("at least one test is required")))
	})
})

var _ = Describe("Supports", func() {
	m := &Manifest{Name: "gated", Requires: ">=1.2.0"}

	DescribeTable("version gate",
		func(version string, expected bool) {
			ok, err := m.Supports(version)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(Equal(expected))
		},
		Entry("older release", "1.1.0", false),
		Entry("newer release", "1.3.0", true),
		Entry("v prefix", "v1.2.0", true),
		Entry("development build", "dev", true),
	)

	It("rejects a bad constraint", func() {
		_, err := (&Manifest{Requires: "not a constraint"}).Supports("1.0.0")
		Expect(err).To(HaveOccurred())
	})

	It("accepts anything without a constraint", func() {
		Expect((&Manifest{}).Supports("0.0.1")).To(BeTrue())
	})
})
