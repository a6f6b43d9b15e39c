package mapping

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Relationship is implemented by to-one and to-many relationship descriptors
type Relationship interface {
	Attribute
	TargetType() string
	Target() (*TypeDescriptor, error)
	ForeignKeys() []ForeignKeyRef
	ForeignKeyFields(ctx *TypeDescriptor) ([]*FieldDescriptor, error)
	ForeignKeyValues(instance interface{}, ctx *TypeDescriptor) ([]interface{}, error)
	CascadeRetrieve() bool
	CascadeStore() CascadeMode
	CascadeDelete() CascadeMode
	IsLazy() bool
	IsCollection() bool
}

// ForeignKeyRef references a foreign-key field by name or, when Name is empty, by positional id
type ForeignKeyRef struct {
	Name string
	ID   int
}

// ForeignKeyByName references a foreign-key field by attribute name
func ForeignKeyByName(name string) ForeignKeyRef { return ForeignKeyRef{Name: name} }

// ForeignKeyByID references a foreign-key field by positional id
func ForeignKeyByID(id int) ForeignKeyRef { return ForeignKeyRef{ID: id} }

// String returns the string representation of the reference
func (r ForeignKeyRef) String() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("#%d", r.ID)
}

type fkCacheEntry struct {
	version    uint64
	generation uint64
	fields     []*FieldDescriptor
}

// relationship holds the state shared by to-one and to-many descriptors
type relationship struct {
	AttributeDescriptor

	targetType      string
	foreignKeys     []ForeignKeyRef
	cascadeRetrieve bool
	cascadeStore    *CascadeMode // nil means the shape-dependent default
	cascadeDelete   *CascadeMode
	lazy            bool
	prefetchLimit   int

	defaultCascade func() CascadeMode
	// defaultForeignKeys resolves the foreign keys when none are declared
	defaultForeignKeys func(ctx *TypeDescriptor) ([]*FieldDescriptor, error)

	// frozen descriptors ignore setter calls
	frozen         bool
	ignoredSetters int

	fkMu    sync.Mutex
	fkCache map[*TypeDescriptor]fkCacheEntry
}

func (r *relationship) init(name, targetType string, foreignKeys []ForeignKeyRef, defaultCascade func() CascadeMode) {
	r.name = name
	r.targetType = targetType
	r.foreignKeys = append([]ForeignKeyRef(nil), foreignKeys...)
	r.cascadeRetrieve = true
	r.defaultCascade = defaultCascade
	r.fkCache = make(map[*TypeDescriptor]fkCacheEntry)
}

// TargetType returns the name of the related type
func (r *relationship) TargetType() string { return r.targetType }

// Target resolves the related type descriptor through the owner's catalog
func (r *relationship) Target() (*TypeDescriptor, error) {
	if r.owner == nil || r.owner.Catalog() == nil {
		return nil, configErrorf("", r.name, "relationship is not attached to a catalog")
	}
	return r.owner.Catalog().Resolve(r.targetType)
}

// ForeignKeys returns the declared foreign-key references
func (r *relationship) ForeignKeys() []ForeignKeyRef {
	return append([]ForeignKeyRef(nil), r.foreignKeys...)
}

// CascadeRetrieve reports whether the related object is loaded with its owner
func (r *relationship) CascadeRetrieve() bool { return r.cascadeRetrieve }

// CascadeStore returns the store cascade mode
func (r *relationship) CascadeStore() CascadeMode {
	if r.cascadeStore != nil {
		return *r.cascadeStore
	}
	return r.defaultCascade()
}

// CascadeDelete returns the delete cascade mode
func (r *relationship) CascadeDelete() CascadeMode {
	if r.cascadeDelete != nil {
		return *r.cascadeDelete
	}
	return r.defaultCascade()
}

// IsLazy reports whether the related object is loaded through a proxy
func (r *relationship) IsLazy() bool { return r.lazy }

// PrefetchLimit returns the prefetch limit, zero means unlimited
func (r *relationship) PrefetchLimit() int { return r.prefetchLimit }

// IgnoredSetterCalls returns the number of setter calls ignored by a frozen descriptor
func (r *relationship) IgnoredSetterCalls() int {
	r.fkMu.Lock()
	defer r.fkMu.Unlock()
	return r.ignoredSetters
}

// SetAccessor binds a field accessor
func (r *relationship) SetAccessor(accessor FieldAccessor) {
	if r.ignoreFrozen("accessor") {
		return
	}
	r.AttributeDescriptor.SetAccessor(accessor)
}

// SetCascadeRetrieve sets whether the related object is loaded with its owner
func (r *relationship) SetCascadeRetrieve(v bool) {
	if r.ignoreFrozen("cascade_retrieve") {
		return
	}
	r.cascadeRetrieve = v
}

// SetCascadeStore sets the store cascade mode
func (r *relationship) SetCascadeStore(mode CascadeMode) {
	if r.ignoreFrozen("cascade_store") {
		return
	}
	r.cascadeStore = &mode
}

// SetCascadeDelete sets the delete cascade mode
func (r *relationship) SetCascadeDelete(mode CascadeMode) {
	if r.ignoreFrozen("cascade_delete") {
		return
	}
	r.cascadeDelete = &mode
}

// SetCascadeStoreText parses a textual store cascade setting
func (r *relationship) SetCascadeStoreText(s string) error {
	mode, err := r.parseCascade(s)
	if err != nil {
		return err
	}
	if r.ignoreFrozen("cascade_store") {
		return nil
	}
	r.cascadeStore = mode
	return nil
}

// SetCascadeDeleteText parses a textual delete cascade setting
func (r *relationship) SetCascadeDeleteText(s string) error {
	mode, err := r.parseCascade(s)
	if err != nil {
		return err
	}
	if r.ignoreFrozen("cascade_delete") {
		return nil
	}
	r.cascadeDelete = mode
	return nil
}

// parseCascade returns nil for "false" so the shape-dependent default is
// evaluated when the mode is read, after the indirection table is known.
func (r *relationship) parseCascade(s string) (*CascadeMode, error) {
	if strings.EqualFold(strings.TrimSpace(s), "false") {
		return nil, nil
	}
	mode, err := ParseCascadeMode(s, CascadeNone)
	if err != nil {
		ownerName := ""
		if r.owner != nil {
			ownerName = r.owner.Name()
		}
		return nil, configErrorf(ownerName, r.name, "unknown cascade setting: %q", s)
	}
	return &mode, nil
}

// SetLazy sets whether the related object is loaded through a proxy
func (r *relationship) SetLazy(v bool) {
	if r.ignoreFrozen("lazy") {
		return
	}
	r.lazy = v
}

// SetPrefetchLimit sets the prefetch limit
func (r *relationship) SetPrefetchLimit(n int) {
	if r.ignoreFrozen("prefetch_limit") {
		return
	}
	r.prefetchLimit = n
}

func (r *relationship) ignoreFrozen(property string) bool {
	if !r.frozen {
		return false
	}
	r.fkMu.Lock()
	r.ignoredSetters++
	r.fkMu.Unlock()

	ownerName := ""
	if r.owner != nil {
		ownerName = r.owner.Name()
		if c := r.owner.Catalog(); c != nil {
			c.stats.ignoredSetters.Add(1)
		}
	}
	r.logger().Warn("ignoring setter on inheritance descriptor",
		zap.String("type", ownerName),
		zap.String("attribute", r.name),
		zap.String("property", property))
	return true
}

func (r *relationship) logger() *zap.Logger {
	if r.owner != nil {
		return r.owner.logger()
	}
	return zap.NewNop()
}

// ForeignKeyFields resolves the declared foreign keys against ctx. References
// not found on ctx are looked up along its declarative base chain. The result
// is cached per context descriptor until ctx or its catalog is mutated.
func (r *relationship) ForeignKeyFields(ctx *TypeDescriptor) ([]*FieldDescriptor, error) {
	if ctx == nil {
		return nil, configErrorf("", r.name, "no context descriptor for foreign key resolution")
	}
	if len(r.foreignKeys) == 0 && r.defaultForeignKeys != nil {
		return r.defaultForeignKeys(ctx)
	}
	version := ctx.currentVersion()
	// base chain lookups depend on other descriptors of the catalog
	var generation uint64
	if c := ctx.Catalog(); c != nil {
		generation = c.generation()
	}

	r.fkMu.Lock()
	entry, ok := r.fkCache[ctx]
	r.fkMu.Unlock()
	if ok && entry.version == version && entry.generation == generation {
		return entry.fields, nil
	}

	fields := make([]*FieldDescriptor, 0, len(r.foreignKeys))
	for _, ref := range r.foreignKeys {
		fd := ctx.findFieldInChain(ref)
		if fd == nil {
			return nil, configErrorf(ctx.Name(), r.name,
				"foreign key %s not found in %s or its base types", ref, ctx.Name())
		}
		fields = append(fields, fd)
	}

	r.fkMu.Lock()
	r.fkCache[ctx] = fkCacheEntry{version: version, generation: generation, fields: fields}
	r.fkMu.Unlock()
	return fields, nil
}

// ForeignKeyValues reads the raw foreign-key values off instance. Lazy
// placeholders are materialized first since they carry no field values.
func (r *relationship) ForeignKeyValues(instance interface{}, ctx *TypeDescriptor) ([]interface{}, error) {
	if len(r.foreignKeys) == 0 && r.defaultForeignKeys == nil {
		return nil, nil
	}
	if lazy, ok := instance.(LazyInstance); ok {
		materialized, err := lazy.Materialize()
		if err != nil {
			return nil, fmt.Errorf("materialize instance for %s: %w", r.name, err)
		}
		instance = materialized
	}

	fields, err := r.ForeignKeyFields(ctx)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, len(fields))
	for i, fd := range fields {
		v, err := fd.Accessor().Get(instance)
		if err != nil {
			return nil, fmt.Errorf("read foreign key %s: %w", fd.Name(), err)
		}
		values[i] = v
	}
	return values, nil
}

// copyInto copies the configuration of r into c, leaving c unbound
func (r *relationship) copyInto(c *relationship, defaultCascade func() CascadeMode) {
	c.init(r.name, r.targetType, r.foreignKeys, defaultCascade)
	c.accessor = r.accessor
	c.cascadeRetrieve = r.cascadeRetrieve
	c.cascadeStore = r.cascadeStore
	c.cascadeDelete = r.cascadeDelete
	c.lazy = r.lazy
	c.prefetchLimit = r.prefetchLimit
	c.defaultForeignKeys = r.defaultForeignKeys
	c.frozen = r.frozen
}

// ReferenceDescriptor maps a to-one relationship. Its foreign keys are fields
// of the declaring type.
type ReferenceDescriptor struct {
	relationship
}

// NewReferenceDescriptor creates a to-one relationship.
// Store and delete cascades default to link: the foreign key is still written.
func NewReferenceDescriptor(name, targetType string, foreignKeys ...ForeignKeyRef) *ReferenceDescriptor {
	r := &ReferenceDescriptor{}
	r.init(name, targetType, foreignKeys, linkCascade)
	return r
}

// IsCollection returns false
func (r *ReferenceDescriptor) IsCollection() bool { return false }

// OwnForeignKeyFields resolves the foreign keys against the declaring type
func (r *ReferenceDescriptor) OwnForeignKeyFields() ([]*FieldDescriptor, error) {
	return r.ForeignKeyFields(r.owner)
}

func (r *ReferenceDescriptor) clone() *ReferenceDescriptor {
	c := &ReferenceDescriptor{}
	r.copyInto(&c.relationship, linkCascade)
	return c
}

func linkCascade() CascadeMode { return CascadeLink }

// OrderBy is one ordering clause of a collection
type OrderBy struct {
	Field      string
	Descending bool
}

// CollectionDescriptor maps a to-many relationship. Its foreign keys are
// fields of the item type, unless an indirection table makes it many-to-many.
type CollectionDescriptor struct {
	relationship

	indirectionTable string
	fkToThis         []string
	fkToItem         []string
	orderBy          []OrderBy

	// CollectionKind hints the concrete collection type the runtime should build
	CollectionKind string
}

// NewCollectionDescriptor creates a to-many relationship
func NewCollectionDescriptor(name, itemType string, foreignKeys ...ForeignKeyRef) *CollectionDescriptor {
	c := &CollectionDescriptor{}
	c.init(name, itemType, foreignKeys, c.shapeDefault)
	return c
}

// shapeDefault keeps join rows in sync for many-to-many collections
func (c *CollectionDescriptor) shapeDefault() CascadeMode {
	if c.HasManyToManyIndirection() {
		return CascadeLink
	}
	return CascadeNone
}

// IsCollection returns true
func (c *CollectionDescriptor) IsCollection() bool { return true }

// ItemType returns the name of the collection's item type
func (c *CollectionDescriptor) ItemType() string { return c.targetType }

// SetIndirectionTable makes the collection many-to-many through table
func (c *CollectionDescriptor) SetIndirectionTable(table string, fkToThis, fkToItem []string) {
	c.indirectionTable = table
	c.fkToThis = append([]string(nil), fkToThis...)
	c.fkToItem = append([]string(nil), fkToItem...)
}

// IndirectionTable returns the join table name, empty unless many-to-many
func (c *CollectionDescriptor) IndirectionTable() string { return c.indirectionTable }

// HasManyToManyIndirection returns true if an indirection table is set
func (c *CollectionDescriptor) HasManyToManyIndirection() bool { return c.indirectionTable != "" }

// ForeignKeyColumnsToThis returns the join table columns referencing the owner.
// Nil unless the collection is many-to-many.
func (c *CollectionDescriptor) ForeignKeyColumnsToThis() []string {
	if !c.HasManyToManyIndirection() {
		return nil
	}
	return append([]string(nil), c.fkToThis...)
}

// ForeignKeyColumnsToItem returns the join table columns referencing the item.
// Nil unless the collection is many-to-many.
func (c *CollectionDescriptor) ForeignKeyColumnsToItem() []string {
	if !c.HasManyToManyIndirection() {
		return nil
	}
	return append([]string(nil), c.fkToItem...)
}

// AddOrderBy appends an ordering clause
func (c *CollectionDescriptor) AddOrderBy(field string, descending bool) {
	c.orderBy = append(c.orderBy, OrderBy{Field: field, Descending: descending})
}

// OrderBy returns the ordering clauses
func (c *CollectionDescriptor) OrderBy() []OrderBy {
	return append([]OrderBy(nil), c.orderBy...)
}

func (c *CollectionDescriptor) clone() *CollectionDescriptor {
	n := &CollectionDescriptor{
		indirectionTable: c.indirectionTable,
		fkToThis:         append([]string(nil), c.fkToThis...),
		fkToItem:         append([]string(nil), c.fkToItem...),
		orderBy:          append([]OrderBy(nil), c.orderBy...),
		CollectionKind:   c.CollectionKind,
	}
	c.copyInto(&n.relationship, n.shapeDefault)
	return n
}
