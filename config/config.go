package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/samber/lo"
)

// Duration is a time.Duration that reads and writes as "30s" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"'`)
	if s == "" {
		*d = 0
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Timeouts are the global waits shared by fixtures and page objects.
// Bare integers are read as milliseconds.
type Timeouts struct {
	HTTPClientRequest        Duration `yaml:"httpClientRequest,omitempty" json:"httpClientRequest,omitempty"`
	LoginEmailFormDetached   Duration `yaml:"loginEmailFormDetached,omitempty" json:"loginEmailFormDetached,omitempty"`
	LoginPasswordInput       Duration `yaml:"loginPasswordInput,omitempty" json:"loginPasswordInput,omitempty"`
	NavigationWaitForURL     Duration `yaml:"navigationWaitForUrl,omitempty" json:"navigationWaitForUrl,omitempty"`
	NavigationResourceLoaded Duration `yaml:"navigationResourceLoaded,omitempty" json:"navigationResourceLoaded,omitempty"`
	NavigationLoadingSplash  Duration `yaml:"navigationLoadingSplash,omitempty" json:"navigationLoadingSplash,omitempty"`
	NavigationAccessToken    Duration `yaml:"navigationAccessToken,omitempty" json:"navigationAccessToken,omitempty"`
	NavigationWaitForSignOut Duration `yaml:"navigationWaitForSignOut,omitempty" json:"navigationWaitForSignOut,omitempty"`
	LocalServerStarted       Duration `yaml:"localServerStarted,omitempty" json:"localServerStarted,omitempty"`
}

// DefaultTimeouts mirror the defaults the e2e suites were tuned against.
var DefaultTimeouts = Timeouts{
	HTTPClientRequest:        Duration(240 * time.Second),
	LoginEmailFormDetached:   Duration(5 * time.Second),
	LoginPasswordInput:       Duration(5 * time.Second),
	NavigationWaitForURL:     Duration(30 * time.Second),
	NavigationResourceLoaded: Duration(60 * time.Second),
	NavigationLoadingSplash:  Duration(30 * time.Second),
	NavigationAccessToken:    Duration(30 * time.Second),
	NavigationWaitForSignOut: Duration(15 * time.Second),
	LocalServerStarted:       Duration(30 * time.Minute),
}

// Merge fills every zero field of t from defaults.
func (t Timeouts) Merge(defaults Timeouts) Timeouts {
	return Timeouts{
		HTTPClientRequest:        lo.CoalesceOrEmpty(t.HTTPClientRequest, defaults.HTTPClientRequest),
		LoginEmailFormDetached:   lo.CoalesceOrEmpty(t.LoginEmailFormDetached, defaults.LoginEmailFormDetached),
		LoginPasswordInput:       lo.CoalesceOrEmpty(t.LoginPasswordInput, defaults.LoginPasswordInput),
		NavigationWaitForURL:     lo.CoalesceOrEmpty(t.NavigationWaitForURL, defaults.NavigationWaitForURL),
		NavigationResourceLoaded: lo.CoalesceOrEmpty(t.NavigationResourceLoaded, defaults.NavigationResourceLoaded),
		NavigationLoadingSplash:  lo.CoalesceOrEmpty(t.NavigationLoadingSplash, defaults.NavigationLoadingSplash),
		NavigationAccessToken:    lo.CoalesceOrEmpty(t.NavigationAccessToken, defaults.NavigationAccessToken),
		NavigationWaitForSignOut: lo.CoalesceOrEmpty(t.NavigationWaitForSignOut, defaults.NavigationWaitForSignOut),
		LocalServerStarted:       lo.CoalesceOrEmpty(t.LocalServerStarted, defaults.LocalServerStarted),
	}
}

type Target struct {
	Frontend        string            `yaml:"frontend,omitempty" json:"frontend,omitempty"`
	FeatureSwitches map[string]string `yaml:"featureSwitches,omitempty" json:"featureSwitches,omitempty"`
}

type Browser struct {
	// Headless defaults to true when unset.
	Headless *bool  `yaml:"headless,omitempty" json:"headless,omitempty"`
	ExecPath string `yaml:"execPath,omitempty" json:"execPath,omitempty"`
	// UserAgent overrides the browser's default user agent when set.
	UserAgent string `yaml:"userAgent,omitempty" json:"userAgent,omitempty"`
}

func (b Browser) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

type Vault struct {
	// Type is "env" or "file".
	Type string `yaml:"type,omitempty" json:"type,omitempty"`
	// Prefix is prepended to secret names for the env vault.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	// Path is the secrets file for the file vault.
	Path     string   `yaml:"path,omitempty" json:"path,omitempty"`
	Attempts int      `yaml:"attempts,omitempty" json:"attempts,omitempty"`
	Delay    Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// Config is the harness configuration, usually read from harness.yaml.
type Config struct {
	Target Target `yaml:"target" json:"target"`
	// CredentialPattern selects credentials by username glob.
	CredentialPattern string `yaml:"credentialPattern,omitempty" json:"credentialPattern,omitempty"`
	// CredentialStore is a gorm DSN: a sqlite path, ":memory:" or a postgres:// URL.
	CredentialStore string   `yaml:"credentialStore,omitempty" json:"credentialStore,omitempty"`
	Vault           Vault    `yaml:"vault" json:"vault"`
	Browser         Browser  `yaml:"browser" json:"browser"`
	Timeout         Timeouts `yaml:"timeout" json:"timeout"`
	LogLevel        string   `yaml:"logLevel,omitempty" json:"logLevel,omitempty"`
}

func Default() Config {
	return Config{
		CredentialPattern: "*",
		CredentialStore:   ":memory:",
		Vault: Vault{
			Type:     "env",
			Prefix:   "HARNESS_SECRET_",
			Attempts: 3,
			Delay:    Duration(10 * time.Second),
		},
		Browser:  Browser{Headless: lo.ToPtr(true)},
		Timeout:  DefaultTimeouts,
		LogLevel: "info",
	}
}

// Load reads path (if non-empty), fills unset values from Default and then
// applies HARNESS_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if cfg.Vault.Type == "file" && cfg.Vault.Path != "" && !filepath.IsAbs(cfg.Vault.Path) {
			cfg.Vault.Path = filepath.Join(filepath.Dir(path), cfg.Vault.Path)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// Parse decodes YAML and fills every unset value from Default.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), err
	}
	return cfg.withDefaults(Default()), nil
}

func (c Config) withDefaults(d Config) Config {
	c.CredentialPattern = lo.CoalesceOrEmpty(c.CredentialPattern, d.CredentialPattern)
	c.CredentialStore = lo.CoalesceOrEmpty(c.CredentialStore, d.CredentialStore)
	c.LogLevel = lo.CoalesceOrEmpty(c.LogLevel, d.LogLevel)
	c.Vault.Type = lo.CoalesceOrEmpty(c.Vault.Type, d.Vault.Type)
	c.Vault.Prefix = lo.CoalesceOrEmpty(c.Vault.Prefix, d.Vault.Prefix)
	c.Vault.Attempts = lo.CoalesceOrEmpty(c.Vault.Attempts, d.Vault.Attempts)
	c.Vault.Delay = lo.CoalesceOrEmpty(c.Vault.Delay, d.Vault.Delay)
	if c.Browser.Headless == nil {
		c.Browser.Headless = d.Browser.Headless
	}
	c.Timeout = c.Timeout.Merge(d.Timeout)
	return c
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("HARNESS_FRONTEND"); ok {
		c.Target.Frontend = v
	}
	if v, ok := lookup("HARNESS_CREDENTIAL_PATTERN"); ok {
		c.CredentialPattern = v
	}
	if v, ok := lookup("HARNESS_CREDENTIAL_STORE"); ok {
		c.CredentialStore = v
	}
	if v, ok := lookup("HARNESS_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("HARNESS_HEADLESS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = &b
		}
	}
}

// YAML renders the effective configuration.
func (c Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
