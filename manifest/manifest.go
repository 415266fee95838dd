package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/flanksource/commons/logger"
	"github.com/flanksource/harness/config"
	"github.com/flanksource/harness/fixture"
	"github.com/goccy/go-yaml"
	"github.com/samber/lo"
)

// DefaultPattern is used when a directory is passed to Discover.
const DefaultPattern = "**/*.harness.yaml"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved names are bound by the suite in every template scope.
var reserved = []string{"env", "workDir", "manifest", "value"}

// Manifest is a declarative suite: shell fixtures resolved in order, hooks
// run around every test, and the tests themselves.
type Manifest struct {
	Name string `yaml:"name" json:"name"`
	// Requires is a semver constraint the harness version must satisfy.
	Requires string            `yaml:"requires,omitempty" json:"requires,omitempty"`
	Env      map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	// CWD is resolved against the manifest's directory.
	CWD       string    `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	BeforeAll []Command `yaml:"beforeAll,omitempty" json:"beforeAll,omitempty"`
	AfterAll  []Command `yaml:"afterAll,omitempty" json:"afterAll,omitempty"`
	Fixtures  []Fixture `yaml:"fixtures,omitempty" json:"fixtures,omitempty"`
	Tests     []Test    `yaml:"tests" json:"tests"`

	Path string `yaml:"-" json:"path,omitempty"`
}

// Command is a bash script rendered with gomplate before it runs.
type Command struct {
	Run string `yaml:"run" json:"run"`
	// Expect is a CEL expression over stdout, stderr, exitCode, json and the
	// fixtures resolved so far. It defaults to exitCode == 0.
	Expect  string          `yaml:"expect,omitempty" json:"expect,omitempty"`
	Timeout config.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

type Fixture struct {
	Name    string `yaml:"name" json:"name"`
	Command `yaml:",inline"`
	// Teardown runs with .value bound to the fixture's value.
	Teardown string `yaml:"teardown,omitempty" json:"teardown,omitempty"`
	// When is a CEL expression over fixtures and env. A false result binds
	// the fixture to null without running it.
	When string `yaml:"when,omitempty" json:"when,omitempty"`
	// Scope is "test" (default) or "suite".
	Scope string `yaml:"scope,omitempty" json:"scope,omitempty"`
	// Format of stdout: "text" (default, trimmed), "json" or "yaml".
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Auto   bool   `yaml:"auto,omitempty" json:"auto,omitempty"`
}

type Test struct {
	Name    string `yaml:"name" json:"name"`
	Command `yaml:",inline"`
}

func (f Fixture) scope() (fixture.Scope, error) {
	switch f.Scope {
	case "", "test":
		return fixture.PerTest, nil
	case "suite":
		return fixture.PerSuite, nil
	default:
		return fixture.PerTest, fmt.Errorf("fixture %s: unknown scope %q", f.Name, f.Scope)
	}
}

// Dir is the directory commands run in.
func (m *Manifest) Dir() string {
	base := filepath.Dir(m.Path)
	if m.Path == "" {
		base, _ = os.Getwd()
	}
	if m.CWD == "" {
		return base
	}
	if filepath.IsAbs(m.CWD) {
		return m.CWD
	}
	return filepath.Join(base, m.CWD)
}

// Validate reports every structural problem at once.
func (m *Manifest) Validate() error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	for i, f := range m.Fixtures {
		if !identifier.MatchString(f.Name) {
			errs = append(errs, fmt.Errorf("fixtures[%d]: name %q must be an identifier", i, f.Name))
		}
		if lo.Contains(reserved, f.Name) {
			errs = append(errs, fmt.Errorf("fixtures[%d]: name %q is reserved", i, f.Name))
		}
		if f.Run == "" {
			errs = append(errs, fmt.Errorf("fixture %s: run is required", f.Name))
		}
		if _, err := f.scope(); err != nil {
			errs = append(errs, err)
		}
		if !lo.Contains([]string{"", "text", "json", "yaml"}, f.Format) {
			errs = append(errs, fmt.Errorf("fixture %s: unknown format %q", f.Name, f.Format))
		}
	}
	if len(m.Tests) == 0 {
		errs = append(errs, errors.New("at least one test is required"))
	}
	for i, t := range m.Tests {
		if t.Run == "" {
			errs = append(errs, fmt.Errorf("tests[%d] %s: run is required", i, t.Name))
		}
	}
	for i, c := range append(append([]Command{}, m.BeforeAll...), m.AfterAll...) {
		if c.Run == "" {
			errs = append(errs, fmt.Errorf("hook %d: run is required", i))
		}
	}
	return errors.Join(errs...)
}

// Parse decodes and validates a manifest. path is recorded for relative
// directory resolution and error messages.
func Parse(data []byte, path string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	m.Path = path
	if m.Name == "" && path != "" {
		m.Name = filepath.Base(path)
	}
	for i := range m.Tests {
		if m.Tests[i].Name == "" {
			m.Tests[i].Name = fmt.Sprintf("test-%d", i+1)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Parse(data, abs)
}

// Discover expands files, directories and doublestar globs into a sorted,
// de-duplicated list of manifest files.
func Discover(patterns ...string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		if info, err := os.Stat(pattern); err == nil && info.IsDir() {
			pattern = filepath.Join(pattern, DefaultPattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if len(matches) == 0 {
			logger.Warnf("No files matched pattern: %s", pattern)
			continue
		}
		files = append(files, matches...)
	}
	files = lo.Uniq(files)
	sort.Strings(files)
	return files, nil
}

// LoadAll discovers and loads every manifest matching patterns.
func LoadAll(patterns ...string) ([]*Manifest, error) {
	files, err := Discover(patterns...)
	if err != nil {
		return nil, err
	}
	manifests := make([]*Manifest, 0, len(files))
	for _, file := range files {
		m, err := Load(file)
		if err != nil {
			return nil, err
		}
		logger.Debugf("Parsed %d fixtures and %d tests from %s", len(m.Fixtures), len(m.Tests), file)
		manifests = append(manifests, m)
	}
	return manifests, nil
}
