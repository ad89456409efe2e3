// Package credentials resolves the provider API key from an ordered list of
// sources: the secret file first, then the environment, then a value the user
// typed into the running session.
package credentials

import (
	"crypto/subtle"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

var ErrMissing = errors.New("API key not found. Please add it to the secrets file or enter it interactively.")

const EnvAPIKey = "RESEARCHBUDDY_API_KEY"

// Source yields an API key when it has one.
type Source interface {
	Name() string
	APIKey() (string, bool)
}

// Provider is what the gateway consumes.
type Provider interface {
	Resolve() (key string, source string, err error)
}

type secretsFile struct {
	AdminPassword string `toml:"admin_password"`
	Provider      struct {
		APIKey string `toml:"api_key"`
	} `toml:"provider"`
}

// SecretFile reads secrets.toml on every lookup so edits apply without restart.
type SecretFile struct {
	Path string
}

func (s SecretFile) Name() string { return "secrets" }

func (s SecretFile) load() (secretsFile, bool) {
	var sf secretsFile
	if s.Path == "" {
		return sf, false
	}
	if _, err := toml.DecodeFile(s.Path, &sf); err != nil {
		return sf, false
	}
	return sf, true
}

func (s SecretFile) APIKey() (string, bool) {
	sf, ok := s.load()
	if !ok {
		return "", false
	}
	key := strings.TrimSpace(sf.Provider.APIKey)
	return key, key != ""
}

func (s SecretFile) AdminPassword() (string, bool) {
	sf, ok := s.load()
	if !ok || sf.AdminPassword == "" {
		return "", false
	}
	return sf.AdminPassword, true
}

type Env struct {
	Var string
}

func (e Env) Name() string { return "env" }

func (e Env) APIKey() (string, bool) {
	v := strings.TrimSpace(os.Getenv(e.Var))
	return v, v != ""
}

// Override holds a key supplied interactively for one session.
type Override struct {
	mu    sync.RWMutex
	value string
}

func (o *Override) Name() string { return "override" }

func (o *Override) Set(v string) {
	o.mu.Lock()
	o.value = strings.TrimSpace(v)
	o.mu.Unlock()
}

func (o *Override) Clear() {
	o.Set("")
}

func (o *Override) APIKey() (string, bool) {
	if o == nil {
		return "", false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value, o.value != ""
}

// Resolver walks its sources in order and returns the first key found.
type Resolver struct {
	sources []Source
}

func NewResolver(sources ...Source) Resolver {
	return Resolver{sources: sources}
}

// Standard is the store order used by every front-end.
func Standard(secretsPath string) Resolver {
	return NewResolver(SecretFile{Path: secretsPath}, Env{Var: EnvAPIKey})
}

// With returns a resolver that falls back to extra after the existing sources.
func (r Resolver) With(extra Source) Resolver {
	out := make([]Source, 0, len(r.sources)+1)
	out = append(out, r.sources...)
	if extra != nil {
		out = append(out, extra)
	}
	return Resolver{sources: out}
}

func (r Resolver) Resolve() (string, string, error) {
	for _, s := range r.sources {
		if key, ok := s.APIKey(); ok {
			return key, s.Name(), nil
		}
	}
	return "", "", ErrMissing
}

// Available reports whether any source has a key.
func (r Resolver) Available() bool {
	_, _, err := r.Resolve()
	return err == nil
}

// CheckPassword compares in constant time. An empty expected password denies access.
func CheckPassword(expected, given string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}
