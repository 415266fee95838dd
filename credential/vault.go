package credential

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/flanksource/commons/logger"
	"github.com/goccy/go-yaml"
)

// Secret is a value fetched from a vault. Certificates are stored base64 encoded.
type Secret struct {
	Value       []byte
	Certificate bool
}

// Vault is the external secret store credentials are completed from.
type Vault interface {
	GetSecret(ctx context.Context, name string) (Secret, error)
}

var ErrSecretNotFound = errors.New("secret not found")

var secretKeyStrip = regexp.MustCompile(`(@.*$|_)`)

// SecretKey derives the vault key for a username: the domain and every
// underscore are removed, e.g. "test_user@contoso.com" becomes "testuser".
func SecretKey(username string) string {
	return secretKeyStrip.ReplaceAllString(username, "")
}

// EnvVault reads secrets from environment variables named Prefix + upper(name).
// Names ending in "-cert" are decoded from base64 as certificates.
type EnvVault struct {
	Prefix string
	Lookup func(string) (string, bool)
}

func (v EnvVault) GetSecret(_ context.Context, name string) (Secret, error) {
	lookup := v.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	key := v.Prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	value, ok := lookup(key)
	if !ok {
		return Secret{}, fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return decodeSecret(name, value)
}

// FileVault reads secrets from a YAML map of name to value.
type FileVault struct {
	secrets map[string]string
}

func LoadFileVault(path string) (*FileVault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault file: %w", err)
	}
	secrets := map[string]string{}
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse vault file %s: %w", path, err)
	}
	return &FileVault{secrets: secrets}, nil
}

func (v *FileVault) GetSecret(_ context.Context, name string) (Secret, error) {
	value, ok := v.secrets[name]
	if !ok {
		return Secret{}, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return decodeSecret(name, value)
}

func decodeSecret(name, value string) (Secret, error) {
	if !strings.HasSuffix(name, "-cert") {
		return Secret{Value: []byte(value)}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return Secret{}, fmt.Errorf("certificate %s is not base64: %w", name, err)
	}
	return Secret{Value: raw, Certificate: true}, nil
}

// RetryPolicy bounds how hard AcquireSecrets tries each secret.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: 10 * time.Second}

// AcquireSecret fetches one secret, retrying failed or empty reads. A missing
// secret is not retried.
func AcquireSecret(ctx context.Context, vault Vault, name string, policy RetryPolicy) (Secret, error) {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	attempt := 0
	return backoff.Retry(ctx, func() (Secret, error) {
		attempt++
		secret, err := vault.GetSecret(ctx, name)
		if errors.Is(err, ErrSecretNotFound) {
			return secret, backoff.Permanent(err)
		}
		if err != nil {
			return secret, err
		}
		if len(secret.Value) == 0 {
			return secret, fmt.Errorf("empty secret value for %s", name)
		}
		return secret, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(policy.Delay)),
		backoff.WithMaxTries(uint(policy.Attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnf("Attempt %d failed for secret %s: %v (retrying in %s)", attempt, name, err, next)
		}),
	)
}

// AcquireSecrets fetches every name, failing on the first secret that cannot be read.
func AcquireSecrets(ctx context.Context, vault Vault, names []string, policy RetryPolicy) (map[string]Secret, error) {
	secrets := make(map[string]Secret, len(names))
	for _, name := range names {
		secret, err := AcquireSecret(ctx, vault, name, policy)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire secret %s: %w", name, err)
		}
		secrets[name] = secret
	}
	return secrets, nil
}

// Complete fills missing passwords and certificates of creds from the vault.
// The password lives under the secret key, the certificate under key + "-cert".
func Complete(ctx context.Context, vault Vault, creds []Credential, policy RetryPolicy) ([]Credential, error) {
	out := make([]Credential, 0, len(creds))
	for _, c := range creds {
		if !c.Complete() {
			key := c.SecretKey
			if key == "" {
				key = SecretKey(c.Username)
			}
			secret, err := AcquireSecret(ctx, vault, key, policy)
			if errors.Is(err, ErrSecretNotFound) {
				secret, err = AcquireSecret(ctx, vault, key+"-cert", policy)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to complete credential %s: %w", c.Username, err)
			}
			if secret.Certificate {
				c.Certificate = secret.Value
			} else {
				c.Password = string(secret.Value)
			}
		}
		out = append(out, c)
	}
	return out, nil
}
