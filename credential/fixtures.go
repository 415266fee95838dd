package credential

import (
	"context"
	"fmt"

	"github.com/flanksource/commons/logger"
	"github.com/flanksource/harness/config"
	"github.com/flanksource/harness/fixture"
)

// Fixture names registered by Fixtures.
const (
	StoreFixture       = "credentialStore"
	VaultFixture       = "vault"
	CredentialsFixture = "credentials"
)

var (
	StoreKey       = fixture.KeyOf[*Store](StoreFixture)
	VaultKey       = fixture.KeyOf[Vault](VaultFixture)
	CredentialsKey = fixture.KeyOf[[]Credential](CredentialsFixture)
)

// NewVault builds the vault described by cfg.
func NewVault(cfg config.Vault) (Vault, error) {
	switch cfg.Type {
	case "", "env":
		return EnvVault{Prefix: cfg.Prefix}, nil
	case "file":
		return LoadFileVault(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown vault type %q", cfg.Type)
	}
}

// Fixtures returns a reusable bundle: the credential store and vault are
// suite scoped, the credentials matching cfg.CredentialPattern are resolved
// (and completed from the vault) for every test.
func Fixtures(cfg config.Config) *fixture.Registry {
	policy := RetryPolicy{Attempts: cfg.Vault.Attempts, Delay: cfg.Vault.Delay.Std()}

	reg := fixture.NewRegistry()
	fixture.Define(reg, StoreFixture, func(context.Context, *fixture.Context) (*Store, error) {
		return Open(cfg.CredentialStore)
	}, fixture.WithScope(fixture.PerSuite))

	fixture.Define(reg, VaultFixture, func(context.Context, *fixture.Context) (Vault, error) {
		return NewVault(cfg.Vault)
	}, fixture.WithScope(fixture.PerSuite))

	fixture.Define(reg, CredentialsFixture, func(ctx context.Context, c *fixture.Context) ([]Credential, error) {
		store := StoreKey.Must(c)
		creds, err := store.Find(ctx, cfg.CredentialPattern)
		if err != nil {
			return nil, err
		}
		if len(creds) == 0 {
			return nil, fmt.Errorf("%w: no credential matches %q", ErrNotFound, cfg.CredentialPattern)
		}
		logger.Debugf("Found %d credentials matching %s", len(creds), cfg.CredentialPattern)
		return Complete(ctx, VaultKey.Must(c), creds, policy)
	}, fixture.WithTimeout(cfg.Timeout.HTTPClientRequest.Std()))

	return reg
}
