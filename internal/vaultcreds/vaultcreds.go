// Package vaultcreds resolves the exchange API key/secret pair for the
// single operator this process trades for. It wraps github.com/hashicorp/
// vault/api the same way the teacher's internal/vault/client.go does,
// trimmed from per-user multi-tenant secrets down to the one credential
// this process needs, with the same cache-when-disabled fallback so a
// local/dev run never needs a live Vault.
package vaultcreds

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"doge-flow-trader/config"
	"doge-flow-trader/internal/exchange"
)

// Resolver fetches and caches the trading credentials. When VaultConfig.Enabled
// is false it is a pure in-memory cache, seeded via Store, matching the
// teacher's "development/testing" fallback.
type Resolver struct {
	client *api.Client
	config config.VaultConfig

	mu     sync.RWMutex
	cached *exchange.Credentials
}

// New builds a Resolver. When cfg.Enabled is false, Resolve only ever returns
// what was previously passed to Store (or an error if nothing has been).
func New(cfg config.VaultConfig) (*Resolver, error) {
	if !cfg.Enabled {
		return &Resolver{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("vaultcreds: configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("vaultcreds: new client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Resolver{client: client, config: cfg}, nil
}

// Store seeds the in-memory cache directly, bypassing Vault. Used for
// mock-mode/local runs where credentials come from the environment rather
// than a live Vault.
func (r *Resolver) Store(creds exchange.Credentials) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = &creds
}

// Resolve returns the cached credentials if present, otherwise reads them
// from Vault at config.SecretPath under config.MountPath.
func (r *Resolver) Resolve(ctx context.Context) (exchange.Credentials, error) {
	r.mu.RLock()
	if r.cached != nil {
		creds := *r.cached
		r.mu.RUnlock()
		return creds, nil
	}
	r.mu.RUnlock()

	if !r.config.Enabled {
		return exchange.Credentials{}, fmt.Errorf("vaultcreds: no credentials cached and vault is disabled")
	}

	path := fmt.Sprintf("%s/data/%s", r.config.MountPath, r.config.SecretPath)
	secret, err := r.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("vaultcreds: read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return exchange.Credentials{}, fmt.Errorf("vaultcreds: secret not found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return exchange.Credentials{}, fmt.Errorf("vaultcreds: malformed secret at %s", path)
	}

	creds := exchange.Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return exchange.Credentials{}, fmt.Errorf("vaultcreds: secret at %s missing api_key/secret_key", path)
	}

	r.mu.Lock()
	r.cached = &creds
	r.mu.Unlock()

	return creds, nil
}

// Invalidate drops the cached credentials, forcing the next Resolve to hit
// Vault again (used after a rotation).
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// Health reports whether the underlying Vault is reachable and unsealed.
// Always nil when Vault is disabled.
func (r *Resolver) Health(ctx context.Context) error {
	if !r.config.Enabled {
		return nil
	}
	health, err := r.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vaultcreds: health check: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vaultcreds: vault is sealed")
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
