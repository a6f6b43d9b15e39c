// Package manager owns the catalogs of a process: a lazily built global
// catalog, named profiles, and per-execution overrides bound to a
// context.Context.
package manager

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/conduit-lang/mapping/internal/config"
	"github.com/conduit-lang/mapping/internal/orm/mapping"
)

var (
	// ErrUnknownProfile is returned when no profile is registered under a key
	ErrUnknownProfile = errors.New("unknown profile")

	// ErrNoExecution is returned when a context carries no execution
	ErrNoExecution = errors.New("no execution in context")
)

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPerContextOverrides enables per-execution catalog overrides
func WithPerContextOverrides(enabled bool) Option {
	return func(m *Manager) {
		m.perContext.Store(enabled)
	}
}

// WithConnectionCatalog sets the source of connection descriptors
func WithConnectionCatalog(cc ConnectionCatalog) Option {
	return func(m *Manager) {
		m.connections = cc
	}
}

// WithGlobalInitializer sets the function that populates the global catalog
// when it is first requested
func WithGlobalInitializer(fn func(*mapping.Catalog) error) Option {
	return func(m *Manager) {
		m.initGlobal = fn
	}
}

// WithCatalogOptions sets the options every catalog built by the manager gets
func WithCatalogOptions(opts ...mapping.Option) Option {
	return func(m *Manager) {
		m.catalogOpts = append(m.catalogOpts, opts...)
	}
}

// Manager owns the global catalog and the named profiles. It is safe for
// concurrent use.
type Manager struct {
	logger      *zap.Logger
	catalogOpts []mapping.Option
	initGlobal  func(*mapping.Catalog) error
	perContext  atomic.Bool

	globalMu sync.Mutex
	global   atomic.Pointer[mapping.Catalog]

	profilesMu sync.RWMutex
	profiles   map[string]*mapping.Catalog

	connMu      sync.Mutex
	connections ConnectionCatalog
	defaultKey  *ConnectionKey
	keyResolved bool
}

// New creates a manager
func New(opts ...Option) *Manager {
	m := &Manager{
		logger:   zap.NewNop(),
		profiles: make(map[string]*mapping.Catalog),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewFromConfig creates a manager from configuration
func NewFromConfig(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = config.NewLogger(cfg.Log)
	}

	connections := make(StaticConnections, 0, len(cfg.Connections))
	for _, c := range cfg.Connections {
		connections = append(connections, StaticConnection{
			Alias:   c.Alias,
			User:    c.User,
			DSN:     c.DSN,
			Default: c.Default,
		})
	}

	base := []Option{
		WithLogger(logger),
		WithPerContextOverrides(cfg.PerContextOverrides),
		WithConnectionCatalog(connections),
		WithCatalogOptions(mapping.WithBaseViewCacheSize(cfg.InheritanceCacheSize)),
	}
	return New(append(base, opts...)...), nil
}

// Logger returns the manager logger
func (m *Manager) Logger() *zap.Logger { return m.logger }

// NewCatalog creates an empty catalog configured like the manager's catalogs
func (m *Manager) NewCatalog() *mapping.Catalog {
	opts := append([]mapping.Option{mapping.WithLogger(m.logger)}, m.catalogOpts...)
	return mapping.NewCatalog(opts...)
}

// PerContextOverrides reports whether per-execution overrides are honoured
func (m *Manager) PerContextOverrides() bool { return m.perContext.Load() }

// SetPerContextOverrides enables or disables per-execution overrides
func (m *Manager) SetPerContextOverrides(enabled bool) {
	m.perContext.Store(enabled)
	m.logger.Info("per-context overrides changed", zap.Bool("enabled", enabled))
}

// Global returns the global catalog, building it on first use. A failed
// initialization is not cached; the next call tries again.
func (m *Manager) Global() (*mapping.Catalog, error) {
	if c := m.global.Load(); c != nil {
		return c, nil
	}

	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	if c := m.global.Load(); c != nil {
		return c, nil
	}

	c := m.NewCatalog()
	if m.initGlobal != nil {
		if err := m.initGlobal(c); err != nil {
			return nil, fmt.Errorf("initialize global catalog: %w", err)
		}
	}
	m.global.Store(c)
	m.logger.Debug("global catalog initialized",
		zap.String("catalog_id", c.ID().String()),
		zap.Int("types", c.Len()))
	return c, nil
}

// ReplaceGlobal installs c as the global catalog
func (m *Manager) ReplaceGlobal(c *mapping.Catalog) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	m.global.Store(c)
	if c != nil {
		m.logger.Info("global catalog replaced", zap.String("catalog_id", c.ID().String()))
	}
}

// CopyOfGlobal returns a shallow or deep copy of the global catalog
func (m *Manager) CopyOfGlobal(deep bool) (*mapping.Catalog, error) {
	c, err := m.Global()
	if err != nil {
		return nil, err
	}
	return c.Copy(deep), nil
}

// MergeInto merges every descriptor of source into target. A deep merge
// clones the descriptors; a shallow merge shares them.
func (m *Manager) MergeInto(target, source *mapping.Catalog, deep bool) error {
	if target == nil || source == nil {
		return fmt.Errorf("merge requires a target and a source catalog")
	}
	target.Merge(source, deep)
	m.logger.Debug("catalogs merged",
		zap.String("target", target.ID().String()),
		zap.String("source", source.ID().String()),
		zap.Bool("deep", deep))
	return nil
}

// AddProfile registers c under key, replacing any previous profile
func (m *Manager) AddProfile(key string, c *mapping.Catalog) error {
	if key == "" {
		return fmt.Errorf("profile key cannot be empty")
	}
	if c == nil {
		return fmt.Errorf("profile %s: catalog cannot be nil", key)
	}

	m.profilesMu.Lock()
	m.profiles[key] = c
	m.profilesMu.Unlock()

	m.logger.Debug("profile added", zap.String("profile", key), zap.String("catalog_id", c.ID().String()))
	return nil
}

// RemoveProfile drops the profile registered under key
func (m *Manager) RemoveProfile(key string) bool {
	m.profilesMu.Lock()
	defer m.profilesMu.Unlock()
	if _, ok := m.profiles[key]; !ok {
		return false
	}
	delete(m.profiles, key)
	return true
}

// Profile returns the catalog registered under key
func (m *Manager) Profile(key string) (*mapping.Catalog, error) {
	m.profilesMu.RLock()
	defer m.profilesMu.RUnlock()
	c, ok := m.profiles[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, key)
	}
	return c, nil
}

// ProfileKeys returns the registered profile keys in sorted order
func (m *Manager) ProfileKeys() []string {
	m.profilesMu.RLock()
	keys := make([]string, 0, len(m.profiles))
	for k := range m.profiles {
		keys = append(keys, k)
	}
	m.profilesMu.RUnlock()

	sort.Strings(keys)
	return keys
}

// ClearProfiles drops every profile
func (m *Manager) ClearProfiles() {
	m.profilesMu.Lock()
	defer m.profilesMu.Unlock()
	m.profiles = make(map[string]*mapping.Catalog)
}
