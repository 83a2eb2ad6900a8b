// Package secret resolves `PROVIDER#KEY` references found in connection
// and data object configuration (spec §5's credential handling) through a
// small pluggable provider registry, rather than requiring every backend to
// know how secrets are stored.
package secret

import (
	"fmt"
	"os"
	"strings"
)

// Provider resolves one secret key to its value.
type Provider interface {
	Resolve(key string) (string, error)
}

// Registry dispatches PROVIDER#KEY references to a named Provider.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns a Registry seeded with the built-in CLEAR and ENV
// providers; callers can register additional providers (Vault, AWS
// Secrets Manager, ...) with Register.
func NewRegistry() *Registry {
	r := &Registry{providers: map[string]Provider{}}
	r.Register("CLEAR", clearProvider{})
	r.Register("ENV", envProvider{})
	return r
}

// Register adds or replaces the provider used for name.
func (r *Registry) Register(name string, p Provider) {
	r.providers[name] = p
}

// Resolve parses a "PROVIDER#KEY" reference and dispatches it to the named
// provider. A bare string with no "#" is returned unchanged: it is not a
// secret reference at all, just a literal configuration value.
func (r *Registry) Resolve(ref string) (string, error) {
	provider, key, ok := strings.Cut(ref, "#")
	if !ok {
		return ref, nil
	}
	p, ok := r.providers[provider]
	if !ok {
		return "", fmt.Errorf("unknown secret provider %q in reference %q", provider, ref)
	}
	return p.Resolve(key)
}

// clearProvider returns its key verbatim: a literal, non-secret value
// written directly in the config in PROVIDER#KEY form for symmetry with
// real providers.
type clearProvider struct{}

func (clearProvider) Resolve(key string) (string, error) { return key, nil }

// envProvider resolves key against the process environment.
type envProvider struct{}

func (envProvider) Resolve(key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %q is not set", key)
	}
	return val, nil
}
