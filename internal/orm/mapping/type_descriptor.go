package mapping

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ProcedureArgument is one argument of a stored procedure binding. Either
// Field names an attribute whose value is passed, or Constant is passed as is.
type ProcedureArgument struct {
	Field    string
	Constant interface{}
}

// ProcedureDescriptor binds an insert, update or delete operation to a stored procedure
type ProcedureDescriptor struct {
	Name        string
	ReturnField string
	Arguments   []ProcedureArgument
}

// attributeViews are the derived field classifications of a type descriptor
type attributeViews struct {
	primaryKey    []*FieldDescriptor
	nonKey        []*FieldDescriptor
	readWrite     []*FieldDescriptor
	locking       []*FieldDescriptor
	rwNonKey      []*FieldDescriptor
	autoIncrement []*FieldDescriptor

	byName   map[string]*FieldDescriptor
	byID     map[int]*FieldDescriptor
	byColumn map[string]*FieldDescriptor
}

type baseMemo struct {
	desc       *TypeDescriptor
	generation uint64
}

// TypeDescriptor is the persistence mapping of one application type: its
// table, attributes, key and locking classification, extents and optional
// declarative base type.
type TypeDescriptor struct {
	name        string
	goType      reflect.Type
	catalog     atomic.Pointer[Catalog]
	schema      string
	table       string
	abstract    bool
	isInterface bool

	mu          sync.RWMutex
	fields      []*FieldDescriptor
	references  []*ReferenceDescriptor
	collections []*CollectionDescriptor
	extents     []string
	baseType    string
	superRef    *SuperReferenceDescriptor

	version uint64 // bumped on every structural mutation, guarded by atomic ops
	views   atomic.Pointer[attributeViews]
	base    atomic.Pointer[baseMemo]

	// Factory builds new instances; when nil the Go type is instantiated
	Factory func() (interface{}, error)
	// Initializer runs on every instance built by NewInstance
	Initializer func(instance interface{}) error

	InsertProcedure *ProcedureDescriptor
	UpdateProcedure *ProcedureDescriptor
	DeleteProcedure *ProcedureDescriptor

	// RowReader names the row reader the runtime materializes rows with
	RowReader string
	// AcceptLocks reports whether the runtime may lock instances of this type
	AcceptLocks bool
}

// NewTypeDescriptor creates a descriptor identified by name only
func NewTypeDescriptor(name string) *TypeDescriptor {
	return &TypeDescriptor{name: name, AcceptLocks: true}
}

// NewTypeDescriptorFor creates a descriptor for a Go type
func NewTypeDescriptorFor(t reflect.Type) *TypeDescriptor {
	d := NewTypeDescriptor(TypeName(t))
	d.SetGoType(t)
	return d
}

// Name returns the fully-qualified type name
func (d *TypeDescriptor) Name() string { return d.name }

// GoType returns the Go type, nil for descriptors known by name only
func (d *TypeDescriptor) GoType() reflect.Type { return d.goType }

// SetGoType binds the descriptor to a Go type. Interface types mark the
// descriptor as an interface.
func (d *TypeDescriptor) SetGoType(t reflect.Type) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	d.goType = t
	if t != nil && t.Kind() == reflect.Interface {
		d.isInterface = true
	}
}

// Catalog returns the owning catalog, nil while detached
func (d *TypeDescriptor) Catalog() *Catalog { return d.catalog.Load() }

// SetTable binds the descriptor to schema.table
func (d *TypeDescriptor) SetTable(schema, table string) {
	d.schema = schema
	d.table = table
	d.Invalidate()
}

// Schema returns the schema name
func (d *TypeDescriptor) Schema() string { return d.schema }

// Table returns the table name, empty for abstract types and interfaces
func (d *TypeDescriptor) Table() string { return d.table }

// FullTableName returns schema.table, or just the table without a schema
func (d *TypeDescriptor) FullTableName() string {
	if d.table == "" {
		return ""
	}
	if d.schema == "" {
		return d.table
	}
	return d.schema + "." + d.table
}

// SetAbstract marks the type abstract
func (d *TypeDescriptor) SetAbstract(v bool) {
	d.abstract = v
	d.Invalidate()
}

// SetInterface marks the type as an interface
func (d *TypeDescriptor) SetInterface(v bool) {
	d.isInterface = v
	d.Invalidate()
}

// IsAbstract returns true for abstract types
func (d *TypeDescriptor) IsAbstract() bool { return d.abstract }

// IsInterface returns true for interfaces
func (d *TypeDescriptor) IsInterface() bool { return d.isInterface }

// IsConcrete returns true if the type can be instantiated
func (d *TypeDescriptor) IsConcrete() bool { return !d.abstract && !d.isInterface }

// UsesProcedures returns true if any stored procedure binding is set
func (d *TypeDescriptor) UsesProcedures() bool {
	return d.InsertProcedure != nil || d.UpdateProcedure != nil || d.DeleteProcedure != nil
}

// String returns the type name
func (d *TypeDescriptor) String() string { return d.name }

func (d *TypeDescriptor) currentVersion() uint64 {
	return atomic.LoadUint64(&d.version)
}

// invalidateLocked drops every derived view. Callers hold d.mu.
func (d *TypeDescriptor) invalidateLocked() {
	atomic.AddUint64(&d.version, 1)
	d.views.Store(nil)
	if c := d.catalog.Load(); c != nil {
		c.invalidateDerived()
	}
}

// Invalidate drops every derived view, for callers that changed field flags in place
func (d *TypeDescriptor) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidateLocked()
}

func (d *TypeDescriptor) logger() *zap.Logger {
	if c := d.catalog.Load(); c != nil {
		return c.logger
	}
	return zap.NewNop()
}

func (d *TypeDescriptor) defaultAccessor(name string) FieldAccessor {
	if d.goType != nil && d.goType.Kind() == reflect.Struct {
		return NewReflectAccessor(name)
	}
	return NewMapAccessor(name)
}

// AddField adds a field and keeps fields sorted by declared order
func (d *TypeDescriptor) AddField(f *FieldDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f.bind(d)
	d.fields = append(d.fields, f)
	sort.SliceStable(d.fields, func(i, j int) bool {
		if d.fields[i].Order != d.fields[j].Order {
			return d.fields[i].Order < d.fields[j].Order
		}
		return d.fields[i].ID < d.fields[j].ID
	})
	d.invalidateLocked()
}

// AddReference adds a to-one relationship
func (d *TypeDescriptor) AddReference(r *ReferenceDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r.bind(d)
	d.references = append(d.references, r)
	d.invalidateLocked()
}

// AddCollection adds a to-many relationship
func (d *TypeDescriptor) AddCollection(c *CollectionDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c.bind(d)
	d.collections = append(d.collections, c)
	d.invalidateLocked()
}

// AddAttribute adds a field, reference or collection descriptor
func (d *TypeDescriptor) AddAttribute(a Attribute) error {
	switch attr := a.(type) {
	case *FieldDescriptor:
		d.AddField(attr)
	case *SuperReferenceDescriptor:
		return configErrorf(d.name, attr.Name(), "use SetBaseType to declare a base type")
	case *ReferenceDescriptor:
		d.AddReference(attr)
	case *CollectionDescriptor:
		d.AddCollection(attr)
	default:
		return configErrorf(d.name, a.Name(), "unsupported attribute descriptor %T", a)
	}
	return nil
}

// RemoveField removes the plain field with the given name
func (d *TypeDescriptor) RemoveField(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, f := range d.fields {
		if f.name == name {
			d.fields = append(d.fields[:i:i], d.fields[i+1:]...)
			d.invalidateLocked()
			return true
		}
	}
	return false
}

// RemoveAttribute removes the attribute with the given name. The base type
// link is removed with its super reference.
func (d *TypeDescriptor) RemoveAttribute(name string) bool {
	d.mu.Lock()
	removed := false
	for i, f := range d.fields {
		if f.name == name {
			d.fields = append(d.fields[:i:i], d.fields[i+1:]...)
			removed = true
			break
		}
	}
	droppedBase := false
	if !removed {
		for i, r := range d.references {
			if r.name == name {
				d.references = append(d.references[:i:i], d.references[i+1:]...)
				if d.superRef != nil && &d.superRef.ReferenceDescriptor == r {
					d.superRef = nil
					d.baseType = ""
					d.base.Store(nil)
					droppedBase = true
				}
				removed = true
				break
			}
		}
	}
	if !removed {
		for i, c := range d.collections {
			if c.name == name {
				d.collections = append(d.collections[:i:i], d.collections[i+1:]...)
				removed = true
				break
			}
		}
	}
	if removed {
		d.invalidateLocked()
	}
	d.mu.Unlock()

	if c := d.catalog.Load(); droppedBase && c != nil {
		c.deregisterJoined(d)
	}
	return removed
}

// Fields returns all fields in declared order
func (d *TypeDescriptor) Fields() []*FieldDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*FieldDescriptor(nil), d.fields...)
}

// References returns all to-one relationships, including the super reference
func (d *TypeDescriptor) References() []*ReferenceDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*ReferenceDescriptor(nil), d.references...)
}

// Collections returns all to-many relationships
func (d *TypeDescriptor) Collections() []*CollectionDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*CollectionDescriptor(nil), d.collections...)
}

// Relationships returns references followed by collections
func (d *TypeDescriptor) Relationships() []Relationship {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]Relationship, 0, len(d.references)+len(d.collections))
	for _, r := range d.references {
		if d.superRef != nil && &d.superRef.ReferenceDescriptor == r {
			result = append(result, d.superRef)
			continue
		}
		result = append(result, r)
	}
	for _, c := range d.collections {
		result = append(result, c)
	}
	return result
}

func (d *TypeDescriptor) attributeViews() *attributeViews {
	if v := d.views.Load(); v != nil {
		return v
	}
	// Computing under the read lock keeps a concurrent mutation from being
	// overwritten by a view built from the previous field list.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if v := d.views.Load(); v != nil {
		return v
	}
	v := buildAttributeViews(d.fields)
	d.views.Store(v)
	return v
}

func buildAttributeViews(fields []*FieldDescriptor) *attributeViews {
	v := &attributeViews{
		byName:   make(map[string]*FieldDescriptor, len(fields)),
		byID:     make(map[int]*FieldDescriptor, len(fields)),
		byColumn: make(map[string]*FieldDescriptor, len(fields)),
	}
	for _, f := range fields {
		v.byName[f.name] = f
		v.byID[f.ID] = f
		v.byColumn[strings.ToLower(f.Column)] = f

		if f.PrimaryKey {
			v.primaryKey = append(v.primaryKey, f)
		} else {
			v.nonKey = append(v.nonKey, f)
			if !f.IsReadOnly() {
				v.rwNonKey = append(v.rwNonKey, f)
			}
		}
		if !f.IsReadOnly() {
			v.readWrite = append(v.readWrite, f)
		}
		if f.Locking {
			v.locking = append(v.locking, f)
		}
		if f.AutoIncrement {
			v.autoIncrement = append(v.autoIncrement, f)
		}
	}
	return v
}

// PrimaryKeyFields returns the primary key fields. An interface declaring no
// fields of its own takes the primary key of its first extent.
func (d *TypeDescriptor) PrimaryKeyFields() ([]*FieldDescriptor, error) {
	return d.primaryKeyFields(make(map[*TypeDescriptor]bool))
}

func (d *TypeDescriptor) primaryKeyFields(seen map[*TypeDescriptor]bool) ([]*FieldDescriptor, error) {
	if seen[d] {
		return nil, configErrorf(d.name, "", "extent cycle while resolving primary key")
	}
	seen[d] = true

	if d.isInterface && d.fieldCount() == 0 {
		extents := d.ExtentTypes()
		if len(extents) == 0 {
			return nil, configErrorf(d.name, "", "interface declares no fields and has no extents")
		}
		c := d.catalog.Load()
		if c == nil {
			return nil, configErrorf(d.name, "", "interface is not attached to a catalog")
		}
		ext, err := c.Resolve(extents[0])
		if err != nil {
			return nil, fmt.Errorf("resolve primary key of %s: %w", d.name, err)
		}
		return ext.primaryKeyFields(seen)
	}
	return copyFields(d.attributeViews().primaryKey), nil
}

// NonKeyFields returns all fields that are not part of the primary key
func (d *TypeDescriptor) NonKeyFields() []*FieldDescriptor {
	return copyFields(d.attributeViews().nonKey)
}

// ReadWriteFields returns all fields the runtime may write
func (d *TypeDescriptor) ReadWriteFields() []*FieldDescriptor {
	return copyFields(d.attributeViews().readWrite)
}

// LockingFields returns the optimistic locking fields
func (d *TypeDescriptor) LockingFields() []*FieldDescriptor {
	return copyFields(d.attributeViews().locking)
}

// ReadWriteNonKeyFields returns writable fields outside the primary key
func (d *TypeDescriptor) ReadWriteNonKeyFields() []*FieldDescriptor {
	return copyFields(d.attributeViews().rwNonKey)
}

// AutoIncrementFields returns fields whose values are generated on insert
func (d *TypeDescriptor) AutoIncrementFields() []*FieldDescriptor {
	return copyFields(d.attributeViews().autoIncrement)
}

// IsLockable returns true if the type declares optimistic locking fields
func (d *TypeDescriptor) IsLockable() bool {
	return len(d.attributeViews().locking) > 0
}

func copyFields(fields []*FieldDescriptor) []*FieldDescriptor {
	if len(fields) == 0 {
		return nil
	}
	return append([]*FieldDescriptor(nil), fields...)
}

func (d *TypeDescriptor) fieldCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.fields)
}

// FieldByName returns the field with the given attribute name, nil if not declared
func (d *TypeDescriptor) FieldByName(name string) *FieldDescriptor {
	return d.attributeViews().byName[name]
}

// FieldByID returns the field with the given positional id, nil if not declared
func (d *TypeDescriptor) FieldByID(id int) *FieldDescriptor {
	return d.attributeViews().byID[id]
}

// FieldByColumn returns the field mapped to the column, compared case-insensitively
func (d *TypeDescriptor) FieldByColumn(column string) *FieldDescriptor {
	return d.attributeViews().byColumn[strings.ToLower(column)]
}

// ReferenceByName returns the to-one relationship with the given name
func (d *TypeDescriptor) ReferenceByName(name string) *ReferenceDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.references {
		if r.name == name {
			return r
		}
	}
	return nil
}

// CollectionByName returns the to-many relationship with the given name
func (d *TypeDescriptor) CollectionByName(name string) *CollectionDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.collections {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Attribute returns the field, reference or collection with the given name
func (d *TypeDescriptor) Attribute(name string) Attribute {
	if f := d.FieldByName(name); f != nil {
		return f
	}
	if name == SuperReferenceName {
		if s := d.SuperReference(); s != nil {
			return s
		}
	}
	if r := d.ReferenceByName(name); r != nil {
		return r
	}
	if c := d.CollectionByName(name); c != nil {
		return c
	}
	return nil
}

func (d *TypeDescriptor) fieldByRef(ref ForeignKeyRef) *FieldDescriptor {
	if ref.Name != "" {
		return d.FieldByName(ref.Name)
	}
	return d.FieldByID(ref.ID)
}

// findFieldInChain looks the field up locally, then along the declarative base chain
func (d *TypeDescriptor) findFieldInChain(ref ForeignKeyRef) *FieldDescriptor {
	seen := make(map[*TypeDescriptor]bool)
	for cur := d; cur != nil && !seen[cur]; {
		seen[cur] = true
		if fd := cur.fieldByRef(ref); fd != nil {
			return fd
		}
		base, err := cur.BaseTypeDescriptor()
		if err != nil {
			return nil
		}
		cur = base
	}
	return nil
}

// findAttributeInChain looks the attribute up locally, then along the declarative base chain
func (d *TypeDescriptor) findAttributeInChain(name string) Attribute {
	seen := make(map[*TypeDescriptor]bool)
	for cur := d; cur != nil && !seen[cur]; {
		seen[cur] = true
		if a := cur.Attribute(name); a != nil {
			return a
		}
		base, err := cur.BaseTypeDescriptor()
		if err != nil {
			return nil
		}
		cur = base
	}
	return nil
}

// AddExtent registers a type that may substitute for this one. On an attached
// descriptor the catalog's extent index is updated as well.
func (d *TypeDescriptor) AddExtent(typeName string) {
	d.mu.Lock()
	for _, e := range d.extents {
		if e == typeName {
			d.mu.Unlock()
			return
		}
	}
	d.extents = append(d.extents, typeName)
	d.invalidateLocked()
	d.mu.Unlock()

	if c := d.catalog.Load(); c != nil {
		c.registerExtent(typeName, d)
	}
}

// RemoveExtent unregisters an extent type
func (d *TypeDescriptor) RemoveExtent(typeName string) bool {
	if !d.removeExtentLocal(typeName) {
		return false
	}
	if c := d.catalog.Load(); c != nil {
		c.deregisterExtent(typeName, d)
	}
	return true
}

func (d *TypeDescriptor) removeExtentLocal(typeName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.extents {
		if e == typeName {
			d.extents = append(d.extents[:i:i], d.extents[i+1:]...)
			d.invalidateLocked()
			return true
		}
	}
	return false
}

// ExtentTypes returns the names of the declared extent types
func (d *TypeDescriptor) ExtentTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.extents...)
}

// HasExtents returns true if any extent type is declared
func (d *TypeDescriptor) HasExtents() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.extents) > 0
}

// IsExtentOf returns true if typeName is declared as a direct extent
func (d *TypeDescriptor) IsExtentOf(typeName string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.extents {
		if e == typeName {
			return true
		}
	}
	return false
}

// SetBaseType declares a declarative base type. The base is linked through a
// super reference whose foreign keys default to the primary key ids of this type.
func (d *TypeDescriptor) SetBaseType(typeName string, foreignKeys ...ForeignKeyRef) *SuperReferenceDescriptor {
	s := NewSuperReferenceDescriptor(typeName, foreignKeys...)

	d.mu.Lock()
	if d.superRef != nil {
		for i, r := range d.references {
			if r == &d.superRef.ReferenceDescriptor {
				d.references = append(d.references[:i:i], d.references[i+1:]...)
				break
			}
		}
	}
	s.bind(d)
	d.superRef = s
	d.baseType = typeName
	d.references = append(d.references, &s.ReferenceDescriptor)
	d.base.Store(nil)
	d.invalidateLocked()
	d.mu.Unlock()

	if c := d.catalog.Load(); c != nil {
		c.registerJoined(d)
	}
	return s
}

// BaseType returns the declared base type name, empty if none
func (d *TypeDescriptor) BaseType() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.baseType
}

// SuperReference returns the declarative inheritance descriptor, nil if none
func (d *TypeDescriptor) SuperReference() *SuperReferenceDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.superRef
}

// BaseTypeDescriptor resolves the declared base type. It returns nil without
// error if no base type is declared. The base must be concrete.
func (d *TypeDescriptor) BaseTypeDescriptor() (*TypeDescriptor, error) {
	baseType := d.BaseType()
	if baseType == "" {
		return nil, nil
	}
	c := d.catalog.Load()
	if c == nil {
		return nil, configErrorf(d.name, "", "base type %s cannot be resolved outside a catalog", baseType)
	}
	gen := c.generation()
	if m := d.base.Load(); m != nil && m.generation == gen {
		return m.desc, nil
	}

	base, err := c.Resolve(baseType)
	if err != nil {
		return nil, configErrorf(d.name, "", "base type %s is not mapped", baseType)
	}
	if !base.IsConcrete() {
		return nil, configErrorf(d.name, "", "base type %s must be concrete for declarative inheritance", baseType)
	}
	d.base.Store(&baseMemo{desc: base, generation: gen})
	return base, nil
}

// NewInstance builds a new instance through the factory hook or the Go type,
// then runs the initializer hook.
func (d *TypeDescriptor) NewInstance() (interface{}, error) {
	var (
		instance interface{}
		err      error
	)
	switch {
	case d.Factory != nil:
		instance, err = d.Factory()
		if err != nil {
			return nil, fmt.Errorf("factory for %s: %w", d.name, err)
		}
	case !d.IsConcrete():
		return nil, configErrorf(d.name, "", "cannot instantiate abstract type or interface")
	case d.goType == nil:
		return nil, configErrorf(d.name, "", "no factory and no Go type to instantiate")
	case d.goType.Kind() == reflect.Map:
		instance = reflect.MakeMap(d.goType).Interface()
	default:
		instance = reflect.New(d.goType).Interface()
	}

	if d.Initializer != nil {
		if err := d.Initializer(instance); err != nil {
			return nil, fmt.Errorf("initializer for %s: %w", d.name, err)
		}
	}
	return instance, nil
}

// UpdateLockingValues advances every locking field that maintains its own
// value: timestamps are set to now, integer versions are incremented.
func (d *TypeDescriptor) UpdateLockingValues(instance interface{}) error {
	for _, f := range d.LockingFields() {
		if !f.UpdateLock {
			continue
		}
		current, err := f.Accessor().Get(instance)
		if err != nil {
			return fmt.Errorf("read locking field %s: %w", f.Name(), err)
		}
		next, err := nextLockingValue(f, current)
		if err != nil {
			return err
		}
		if err := f.Accessor().Set(instance, next); err != nil {
			return fmt.Errorf("write locking field %s: %w", f.Name(), err)
		}
	}
	return nil
}

func nextLockingValue(f *FieldDescriptor, current interface{}) (interface{}, error) {
	switch v := current.(type) {
	case time.Time:
		return time.Now(), nil
	case int:
		return v + 1, nil
	case int32:
		return v + 1, nil
	case int64:
		return v + 1, nil
	case uint:
		return v + 1, nil
	case uint32:
		return v + 1, nil
	case uint64:
		return v + 1, nil
	case nil:
		if strings.EqualFold(f.ColumnType, "timestamp") {
			return time.Now(), nil
		}
		return 1, nil
	default:
		ownerName := ""
		if f.owner != nil {
			ownerName = f.owner.Name()
		}
		return nil, configErrorf(ownerName, f.Name(), "locking field must be an integer or timestamp, got %T", current)
	}
}
