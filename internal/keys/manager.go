// Package keys owns the system key: a 256-bit key derived from the operator
// pepper, shared by every user and used for machine credentials and MFA
// seeds.
//
// The key is derived at most once per Manager. Construct one Manager at
// startup and pass it to every consumer.
package keys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/cryptox"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
)

// SystemKeySalt is the fixed derivation salt shared by all deployments.
// Every instance that holds the same pepper derives the same key, so a fleet
// needs no key distribution channel. Isolation between independent
// deployments rests on the pepper alone.
const SystemKeySalt = "vaultcore/system-key/v1"

// PepperSource returns the operator pepper and whether it is set.
type PepperSource func() (string, bool)

// StaticPepper returns a PepperSource for a fixed value. An empty value
// counts as unset.
func StaticPepper(pepper string) PepperSource {
	return func() (string, bool) {
		return pepper, pepper != ""
	}
}

// EnvPepper reads the pepper from the named environment variable on each
// call, so a pepper exported after startup is picked up on the next attempt.
func EnvPepper(name string) PepperSource {
	return func() (string, bool) {
		v, ok := os.LookupEnv(name)
		return v, ok && v != ""
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithKDFParams overrides the derivation cost. Only tests should need this.
func WithKDFParams(p cryptox.KDFParams) Option {
	return func(m *Manager) { m.params = p }
}

// Manager derives and caches the system key.
type Manager struct {
	source PepperSource
	params cryptox.KDFParams
	logger logging.Logger

	mu  sync.Mutex
	key atomic.Pointer[[]byte]

	derivations atomic.Int64
}

// NewManager returns a Manager that reads the pepper from source on first use.
func NewManager(source PepperSource, logger logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		source: source,
		params: cryptox.DefaultKDFParams,
		logger: logger.With("module", "keys"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SystemKey returns a copy of the system key, deriving it on first use.
// If the pepper is missing it returns ErrMissingSystemSecret and caches
// nothing; there is no fallback key.
func (m *Manager) SystemKey(ctx context.Context) ([]byte, error) {
	if k := m.key.Load(); k != nil {
		return clone(*k), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// another caller may have finished while we waited for the lock
	if k := m.key.Load(); k != nil {
		return clone(*k), nil
	}

	pepper, ok := m.source()
	if !ok {
		m.logger.Error(ctx, "system key unavailable: pepper is not set")
		return nil, common.ErrMissingSystemSecret
	}

	started := time.Now()
	key, err := cryptox.DeriveKey([]byte(pepper), []byte(SystemKeySalt), m.params)
	if err != nil {
		return nil, err
	}
	m.derivations.Add(1)
	m.key.Store(&key)

	m.logger.Info(ctx, "system key derived", "fingerprint", fingerprint(key), "took", time.Since(started))
	return clone(key), nil
}

// Warmup derives the key eagerly so the first request does not pay for it.
func (m *Manager) Warmup(ctx context.Context) error {
	_, err := m.SystemKey(ctx)
	return err
}

// Ready reports whether the key has been derived.
func (m *Manager) Ready() bool {
	return m.key.Load() != nil
}

// Fingerprint identifies the cached key in logs without revealing it.
// It is empty until the key is derived.
func (m *Manager) Fingerprint() string {
	k := m.key.Load()
	if k == nil {
		return ""
	}
	return fingerprint(*k)
}

func fingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
