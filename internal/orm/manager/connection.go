package manager

import (
	"fmt"

	"go.uber.org/zap"
)

// ConnectionKey identifies a database connection by alias and user
type ConnectionKey struct {
	Alias string
	User  string
}

// String returns the string representation of the key
func (k ConnectionKey) String() string {
	if k.User == "" {
		return k.Alias
	}
	return fmt.Sprintf("%s@%s", k.User, k.Alias)
}

// ConnectionDescriptor describes one connection known to the runtime
type ConnectionDescriptor interface {
	Key() ConnectionKey
	IsDefault() bool
}

// ConnectionCatalog is the source of connection descriptors
type ConnectionCatalog interface {
	Descriptors() []ConnectionDescriptor
}

// StaticConnection is a connection descriptor built from configuration
type StaticConnection struct {
	Alias   string
	User    string
	DSN     string
	Default bool
}

// Key returns the connection key
func (c StaticConnection) Key() ConnectionKey {
	return ConnectionKey{Alias: c.Alias, User: c.User}
}

// IsDefault reports whether this is the default connection
func (c StaticConnection) IsDefault() bool { return c.Default }

// StaticConnections is a fixed connection catalog
type StaticConnections []StaticConnection

// Descriptors returns the connections in declared order
func (s StaticConnections) Descriptors() []ConnectionDescriptor {
	result := make([]ConnectionDescriptor, len(s))
	for i, c := range s {
		result[i] = c
	}
	return result
}

// SetConnectionCatalog replaces the connection catalog and forgets the
// memoized default connection key
func (m *Manager) SetConnectionCatalog(cc ConnectionCatalog) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.connections = cc
	m.defaultKey = nil
	m.keyResolved = false
}

// DefaultConnectionKey returns the key of the connection flagged as default.
// The answer is looked up once. With several defaults the first one wins and
// the others are logged.
func (m *Manager) DefaultConnectionKey() (ConnectionKey, bool) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.keyResolved {
		if m.defaultKey == nil {
			return ConnectionKey{}, false
		}
		return *m.defaultKey, true
	}
	m.keyResolved = true

	if m.connections == nil {
		m.logger.Info("no connection catalog, no default connection")
		return ConnectionKey{}, false
	}

	var found *ConnectionKey
	for _, d := range m.connections.Descriptors() {
		if !d.IsDefault() {
			continue
		}
		key := d.Key()
		if found != nil {
			m.logger.Warn("multiple default connections, keeping the first",
				zap.Stringer("kept", *found),
				zap.Stringer("ignored", key))
			continue
		}
		found = &key
	}

	if found == nil {
		m.logger.Info("no connection flagged as default")
		return ConnectionKey{}, false
	}
	m.defaultKey = found
	m.logger.Debug("default connection resolved", zap.Stringer("key", *found))
	return *found, true
}

// SetDefaultConnectionKey sets the default connection key explicitly
func (m *Manager) SetDefaultConnectionKey(key ConnectionKey) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.defaultKey = &key
	m.keyResolved = true
}
