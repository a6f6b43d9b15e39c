package manager

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/mapping/internal/orm/mapping"
)

// Execution is one unit of work. It may carry a catalog override that
// replaces the global catalog for that unit of work while per-context
// overrides are enabled.
type Execution struct {
	id      uuid.UUID
	manager *Manager

	mu       sync.Mutex
	override *mapping.Catalog
	resolved *mapping.Catalog
}

// NewExecution creates an execution without an override
func (m *Manager) NewExecution() *Execution {
	return &Execution{id: uuid.New(), manager: m}
}

// ID returns the execution identity
func (e *Execution) ID() uuid.UUID { return e.id }

// SetOverride binds c as the catalog of this execution. A nil catalog
// clears the override.
func (e *Execution) SetOverride(c *mapping.Catalog) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.override = c
	e.resolved = nil

	if !e.manager.PerContextOverrides() {
		e.manager.logger.Debug("override set while per-context overrides are disabled",
			zap.String("execution", e.id.String()))
	}
}

// ClearOverride drops the override
func (e *Execution) ClearOverride() {
	e.SetOverride(nil)
}

// LoadProfile binds the profile registered under key as the override
func (e *Execution) LoadProfile(key string) error {
	c, err := e.manager.Profile(key)
	if err != nil {
		return err
	}
	e.SetOverride(c)
	return nil
}

// Override returns the bound override, nil if none
func (e *Execution) Override() *mapping.Catalog {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.override
}

// Catalog returns the catalog this unit of work runs against. It is resolved
// once and kept until the override changes or Refresh is called, so a
// concurrent ReplaceGlobal does not switch catalogs mid-work.
func (e *Execution) Catalog() (*mapping.Catalog, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved != nil {
		return e.resolved, nil
	}

	c := e.override
	if c == nil || !e.manager.PerContextOverrides() {
		global, err := e.manager.Global()
		if err != nil {
			return nil, err
		}
		c = global
	}
	e.resolved = c
	return c, nil
}

// Refresh forgets the catalog resolved for the current unit of work
func (e *Execution) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolved = nil
}

// Current returns the catalog in effect for ctx: the override of the
// execution bound to ctx when per-context overrides are enabled, the global
// catalog otherwise.
func (m *Manager) Current(ctx context.Context) (*mapping.Catalog, error) {
	if !m.PerContextOverrides() {
		return m.Global()
	}
	exec, ok := FromContext(ctx)
	if !ok {
		m.logger.Debug("per-context overrides enabled but no execution in context")
		return m.Global()
	}
	if c := exec.Override(); c != nil {
		return c, nil
	}
	m.logger.Debug("per-context overrides enabled but no override bound",
		zap.String("execution", exec.ID().String()))
	return m.Global()
}

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	// contextKeyExecution is the key for storing an execution in context
	contextKeyExecution contextKey = "mapping:execution"
)

// FromContext retrieves an execution from the context
func FromContext(ctx context.Context) (*Execution, bool) {
	if ctx == nil {
		return nil, false
	}
	exec, ok := ctx.Value(contextKeyExecution).(*Execution)
	return exec, ok && exec != nil
}

// WithExecution returns a new context with the execution embedded
func WithExecution(ctx context.Context, exec *Execution) context.Context {
	return context.WithValue(ctx, contextKeyExecution, exec)
}

// MustFromContext retrieves an execution from the context.
// Panics if no execution is found.
func MustFromContext(ctx context.Context) *Execution {
	exec, ok := FromContext(ctx)
	if !ok {
		panic(ErrNoExecution)
	}
	return exec
}

// ExecutionFromContext is like FromContext but returns ErrNoExecution
func ExecutionFromContext(ctx context.Context) (*Execution, error) {
	exec, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoExecution
	}
	return exec, nil
}
