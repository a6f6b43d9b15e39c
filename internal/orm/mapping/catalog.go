// Package mapping holds the metadata catalog of the ORM: type descriptors,
// their attributes and relationships, declarative inheritance, and the
// catalog that indexes them and resolves extents and inheritance.
package mapping

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option configures a Catalog
type Option func(*Catalog)

// WithLogger sets the logger used for diagnostics
func WithLogger(logger *zap.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.root = logger
		}
	}
}

// WithBaseViewCacheSize bounds the declarative base view cache of each inheritance descriptor
func WithBaseViewCacheSize(n int) Option {
	return func(c *Catalog) {
		c.baseViewCacheSize = n
	}
}

// derivedCaches holds every catalog-level view computed from the primary
// index. A mutation replaces the whole generation; a computation racing with a
// mutation writes into the discarded generation and is never observed.
type derivedCaches struct {
	mu            sync.Mutex
	resolved      map[string]*TypeDescriptor
	topLevel      map[string]*TypeDescriptor
	firstConcrete map[*TypeDescriptor]*TypeDescriptor
	allConcrete   map[*TypeDescriptor][]*TypeDescriptor
	multiMapped   map[*TypeDescriptor][]*FieldDescriptor
}

func newDerivedCaches() *derivedCaches {
	return &derivedCaches{
		resolved:      make(map[string]*TypeDescriptor),
		topLevel:      make(map[string]*TypeDescriptor),
		firstConcrete: make(map[*TypeDescriptor]*TypeDescriptor),
		allConcrete:   make(map[*TypeDescriptor][]*TypeDescriptor),
		multiMapped:   make(map[*TypeDescriptor][]*FieldDescriptor),
	}
}

type catalogCounters struct {
	resolveHits     atomic.Int64
	resolveMisses   atomic.Int64
	droppedSegments atomic.Int64
	ignoredSetters  atomic.Int64
}

// Catalog indexes all type descriptors of one mapping. It is safe for
// concurrent use: mutations are serialized by a single lock, reads copy what
// they iterate.
type Catalog struct {
	id                uuid.UUID
	root              *zap.Logger
	logger            *zap.Logger
	baseViewCacheSize int

	mu          sync.RWMutex
	types       map[string]*TypeDescriptor
	extentIndex map[string]*TypeDescriptor // extent type name -> declaring descriptor
	joined      map[string][]string        // base type name -> declarative subtypes

	// goTypes maps type names to every Go type the catalog has seen. It
	// survives invalidation so fallback resolution can always be recomputed.
	goTypes sync.Map

	gen    atomic.Uint64
	caches atomic.Pointer[derivedCaches]
	stats  catalogCounters
}

// NewCatalog creates an empty catalog
func NewCatalog(opts ...Option) *Catalog {
	c := &Catalog{
		id:                uuid.New(),
		root:              zap.NewNop(),
		baseViewCacheSize: DefaultBaseViewCacheSize,
		types:             make(map[string]*TypeDescriptor),
		extentIndex:       make(map[string]*TypeDescriptor),
		joined:            make(map[string][]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.root.With(zap.String("catalog_id", c.id.String()))
	c.caches.Store(newDerivedCaches())
	return c
}

// ID returns the unique identity of this catalog
func (c *Catalog) ID() uuid.UUID { return c.id }

// Logger returns the catalog logger
func (c *Catalog) Logger() *zap.Logger { return c.logger }

func (c *Catalog) generation() uint64 { return c.gen.Load() }

func (c *Catalog) derived() *derivedCaches { return c.caches.Load() }

// invalidateDerived drops every derived cache. Descriptors call it when
// their own structure changes; it takes no lock.
func (c *Catalog) invalidateDerived() {
	c.gen.Add(1)
	c.caches.Store(newDerivedCaches())
}

// invalidateLocked is invalidateDerived for callers holding c.mu
func (c *Catalog) invalidateLocked() {
	c.invalidateDerived()
}

// Add stores d under its own name
func (c *Catalog) Add(d *TypeDescriptor) error {
	if d == nil {
		return fmt.Errorf("descriptor cannot be nil")
	}
	return c.Put(d.Name(), d)
}

// Put stores d under name, replacing any previous descriptor. The extent index
// and joined-table registry follow the replacement; derived caches are dropped.
func (c *Catalog) Put(name string, d *TypeDescriptor) error {
	if name == "" {
		return fmt.Errorf("type name cannot be empty")
	}
	if d == nil {
		return fmt.Errorf("descriptor for %s cannot be nil", name)
	}

	c.mu.Lock()
	if old, ok := c.types[name]; ok && old != d {
		c.dropContributionsLocked(old)
	}
	d.catalog.Store(c)
	d.base.Store(nil)
	c.rememberType(d.GoType())
	c.types[name] = d
	for _, ext := range d.ExtentTypes() {
		c.extentIndex[ext] = d
	}
	if base := d.BaseType(); base != "" {
		c.addJoinedLocked(base, d.Name())
	}
	c.invalidateLocked()
	c.mu.Unlock()

	c.logger.Debug("type descriptor stored", zap.String("type", name))
	return nil
}

// Remove deletes the descriptor stored under name. It is scrubbed from every
// other descriptor's extent list and from the joined-table registry.
func (c *Catalog) Remove(name string) (*TypeDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.types[name]
	if !ok {
		return nil, false
	}
	delete(c.types, name)
	c.dropContributionsLocked(d)
	delete(c.extentIndex, name)
	delete(c.joined, name)

	for _, other := range c.types {
		other.removeExtentLocal(name)
	}
	d.catalog.CompareAndSwap(c, nil)
	c.invalidateLocked()

	c.logger.Debug("type descriptor removed", zap.String("type", name))
	return d, true
}

// dropContributionsLocked removes the extent index entries and joined links
// contributed by d. Callers hold c.mu.
func (c *Catalog) dropContributionsLocked(d *TypeDescriptor) {
	for ext, owner := range c.extentIndex {
		if owner == d {
			delete(c.extentIndex, ext)
		}
	}
	c.removeJoinedLocked(d.Name())
}

// Get returns the descriptor stored under exactly name
func (c *Catalog) Get(name string) (*TypeDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.types[name]
	return d, ok
}

// Exists returns true if a descriptor is stored under name
func (c *Catalog) Exists(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Len returns the number of stored descriptors
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}

// Names returns the stored type names in sorted order
func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	c.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Snapshot returns the stored descriptors sorted by name. Iterating the
// snapshot never blocks mutations.
func (c *Catalog) Snapshot() []*TypeDescriptor {
	c.mu.RLock()
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	byName := make(map[string]*TypeDescriptor, len(c.types))
	for k, v := range c.types {
		byName[k] = v
	}
	c.mu.RUnlock()

	sort.Strings(names)
	result := make([]*TypeDescriptor, len(names))
	for i, name := range names {
		result[i] = byName[name]
	}
	return result
}

// Clear removes every descriptor
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range c.types {
		d.catalog.CompareAndSwap(c, nil)
	}
	c.types = make(map[string]*TypeDescriptor)
	c.extentIndex = make(map[string]*TypeDescriptor)
	c.joined = make(map[string][]string)
	c.invalidateLocked()
}

// ExtentOwner returns the descriptor declaring typeName as one of its extents
func (c *Catalog) ExtentOwner(typeName string) (*TypeDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.extentIndex[typeName]
	return d, ok
}

func (c *Catalog) registerExtent(typeName string, owner *TypeDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extentIndex[typeName] = owner
	c.invalidateLocked()
}

func (c *Catalog) deregisterExtent(typeName string, owner *TypeDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.extentIndex[typeName] == owner {
		delete(c.extentIndex, typeName)
	}
	c.invalidateLocked()
}

// Copy returns a new catalog holding the same descriptors. A shallow copy
// shares descriptor instances, which keep resolving links through this
// catalog; a deep copy clones every descriptor into the new catalog.
func (c *Catalog) Copy(deep bool) *Catalog {
	n := NewCatalog(WithLogger(c.root), WithBaseViewCacheSize(c.baseViewCacheSize))
	n.Merge(c, deep)
	return n
}

// Merge stores every descriptor of source in c, replacing descriptors with
// the same name. Shallow merges share the source descriptors without
// re-attaching them; deep merges attach clones to c.
func (c *Catalog) Merge(source *Catalog, deep bool) {
	if source == nil || source == c {
		return
	}
	source.mu.RLock()
	entries := make(map[string]*TypeDescriptor, len(source.types))
	for k, v := range source.types {
		entries[k] = v
	}
	source.mu.RUnlock()
	source.goTypes.Range(func(k, v interface{}) bool {
		c.goTypes.Store(k, v)
		return true
	})

	if deep {
		for name, d := range entries {
			// Put cannot fail for a non-empty name and non-nil descriptor
			_ = c.Put(name, d.clone())
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for name, d := range entries {
		if old, ok := c.types[name]; ok && old != d {
			c.dropContributionsLocked(old)
		}
		c.types[name] = d
		for _, ext := range d.ExtentTypes() {
			c.extentIndex[ext] = d
		}
		if base := d.BaseType(); base != "" {
			c.addJoinedLocked(base, d.Name())
		}
	}
	c.invalidateLocked()
}
