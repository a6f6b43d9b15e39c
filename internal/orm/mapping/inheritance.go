package mapping

import (
	"fmt"
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// SuperReferenceName is the attribute name of the declarative inheritance reference
const SuperReferenceName = "super"

// DefaultBaseViewCacheSize bounds the number of cached base views per descriptor
const DefaultBaseViewCacheSize = 1024

// SuperReferenceDescriptor links a type to its declared base type. It works
// whether or not the Go type actually embeds or implements the base: in host
// mode the instance already is a base instance; in declarative mode a separate
// base view is built and attribute values are copied between the two.
//
// Cascade, laziness and accessor binding are fixed; setter calls are logged
// and ignored.
type SuperReferenceDescriptor struct {
	ReferenceDescriptor

	modeMu      sync.Mutex
	modeDecided bool
	hostMode    bool

	viewsOnce sync.Once
	views     *lru.Cache

	accessorMu sync.Mutex
	accessors  map[accessorKey]FieldAccessor
}

type accessorKey struct {
	declaringType string
	attribute     string
}

// NewSuperReferenceDescriptor creates the inheritance link to baseType. Without
// foreign keys the primary key of the declaring type references the base.
func NewSuperReferenceDescriptor(baseType string, foreignKeys ...ForeignKeyRef) *SuperReferenceDescriptor {
	s := &SuperReferenceDescriptor{accessors: make(map[accessorKey]FieldAccessor)}
	s.init(SuperReferenceName, baseType, foreignKeys, objectCascade)
	s.accessor = superAccessor{s}
	s.defaultForeignKeys = primaryKeyOf
	s.frozen = true
	return s
}

func objectCascade() CascadeMode { return CascadeObject }

// primaryKeyOf is the foreign key of an inheritance link declared without one
func primaryKeyOf(ctx *TypeDescriptor) ([]*FieldDescriptor, error) {
	return ctx.PrimaryKeyFields()
}

// IsHostInheritance reports whether the declaring Go type is its base type,
// implements it, or embeds it. The answer is decided once.
func (s *SuperReferenceDescriptor) IsHostInheritance() (bool, error) {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	if s.modeDecided {
		return s.hostMode, nil
	}
	if s.owner == nil {
		return false, configErrorf("", s.name, "inheritance descriptor is not attached to a type")
	}
	base, err := s.owner.BaseTypeDescriptor()
	if err != nil {
		return false, err
	}
	s.hostMode = isHostSubtype(s.owner.GoType(), base.GoType())
	s.modeDecided = true
	s.owner.logger().Debug("inheritance mode decided",
		zap.String("type", s.owner.Name()),
		zap.String("base", base.Name()),
		zap.Bool("host", s.hostMode))
	return s.hostMode, nil
}

func isHostSubtype(sub, base reflect.Type) bool {
	if sub == nil || base == nil {
		return false
	}
	if sub == base {
		return true
	}
	if base.Kind() == reflect.Interface {
		return sub.Implements(base) || reflect.PointerTo(sub).Implements(base)
	}
	return embeds(sub, base, make(map[reflect.Type]bool))
}

func embeds(t, target reflect.Type, seen map[reflect.Type]bool) bool {
	if t.Kind() != reflect.Struct || seen[t] {
		return false
	}
	seen[t] = true
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft == target || embeds(ft, target, seen) {
			return true
		}
	}
	return false
}

func (s *SuperReferenceDescriptor) viewCache() *lru.Cache {
	s.viewsOnce.Do(func() {
		size := DefaultBaseViewCacheSize
		if s.owner != nil {
			if c := s.owner.Catalog(); c != nil && c.baseViewCacheSize > 0 {
				size = c.baseViewCacheSize
			}
		}
		// lru.New only fails for non-positive sizes
		s.views, _ = lru.New(size)
	})
	return s.views
}

// Read returns instance viewed as its base type. In host mode that is the
// instance itself; in declarative mode a base instance is built, filled with
// the base attributes of instance and cached by instance identity.
func (s *SuperReferenceDescriptor) Read(instance interface{}) (interface{}, error) {
	if instance == nil {
		return nil, nil
	}
	host, err := s.IsHostInheritance()
	if err != nil {
		return nil, err
	}
	if host {
		return instance, nil
	}

	key, cacheable := identityKey(instance)
	if cacheable {
		if view, ok := s.viewCache().Get(key); ok {
			return view, nil
		}
	}

	base, err := s.owner.BaseTypeDescriptor()
	if err != nil {
		return nil, err
	}
	view, err := base.NewInstance()
	if err != nil {
		return nil, fmt.Errorf("build base view of %s: %w", s.owner.Name(), err)
	}
	for _, attr := range copyableAttributes(base) {
		src, err := s.ownerAccessor(attr.Name())
		if err != nil {
			return nil, err
		}
		v, err := src.Get(instance)
		if err != nil {
			return nil, fmt.Errorf("read %s.%s: %w", s.owner.Name(), attr.Name(), err)
		}
		if err := attr.Accessor().Set(view, v); err != nil {
			return nil, fmt.Errorf("write %s.%s: %w", base.Name(), attr.Name(), err)
		}
	}

	if cacheable {
		s.viewCache().Add(key, view)
	}
	return view, nil
}

// Write copies every base attribute of baseValue into instance. Any cached
// base view of instance is dropped.
func (s *SuperReferenceDescriptor) Write(instance, baseValue interface{}) error {
	if instance == nil || baseValue == nil {
		return nil
	}
	host, err := s.IsHostInheritance()
	if err != nil {
		return err
	}
	base, err := s.owner.BaseTypeDescriptor()
	if err != nil {
		return err
	}

	for _, attr := range copyableAttributes(base) {
		v, err := attr.Accessor().Get(baseValue)
		if err != nil {
			return fmt.Errorf("read %s.%s: %w", base.Name(), attr.Name(), err)
		}
		dst := attr.Accessor()
		if !host {
			if dst, err = s.ownerAccessor(attr.Name()); err != nil {
				return err
			}
		}
		if err := dst.Set(instance, v); err != nil {
			return fmt.Errorf("write %s.%s: %w", s.owner.Name(), attr.Name(), err)
		}
	}

	if !host {
		s.Forget(instance)
	}
	return nil
}

// Forget drops the cached base view of instance
func (s *SuperReferenceDescriptor) Forget(instance interface{}) {
	if key, ok := identityKey(instance); ok {
		s.viewCache().Remove(key)
	}
}

// ownerAccessor returns the accessor for name on the declaring type. Accessors
// of the two hierarchies are not interchangeable, so they are kept apart by
// declaring type.
func (s *SuperReferenceDescriptor) ownerAccessor(name string) (FieldAccessor, error) {
	key := accessorKey{declaringType: s.owner.Name(), attribute: name}

	s.accessorMu.Lock()
	defer s.accessorMu.Unlock()
	if a, ok := s.accessors[key]; ok {
		return a, nil
	}

	var accessor FieldAccessor
	if attr := s.owner.Attribute(name); attr != nil && attr.Name() != SuperReferenceName {
		accessor = attr.Accessor()
	}
	if accessor == nil {
		accessor = s.owner.defaultAccessor(name)
	}
	s.accessors[key] = accessor
	return accessor, nil
}

// copyableAttributes returns every non-synthetic attribute the base declares
func copyableAttributes(base *TypeDescriptor) []Attribute {
	var attrs []Attribute
	for _, f := range base.Fields() {
		if f.IsAnonymous() {
			continue
		}
		attrs = append(attrs, f)
	}
	for _, r := range base.References() {
		if r.Name() == SuperReferenceName {
			continue
		}
		attrs = append(attrs, r)
	}
	for _, c := range base.Collections() {
		attrs = append(attrs, c)
	}
	return attrs
}

type pointerIdentity struct {
	t reflect.Type
	p uintptr
}

// identityKey returns a map key identifying instance. Pointers key by
// themselves; maps and slices by their data pointer. Values have no identity
// and are never cached.
func identityKey(instance interface{}) (interface{}, bool) {
	v := reflect.ValueOf(instance)
	switch v.Kind() {
	case reflect.Ptr:
		return instance, true
	case reflect.Map, reflect.Slice:
		return pointerIdentity{t: v.Type(), p: v.Pointer()}, true
	}
	return nil, false
}

func (s *SuperReferenceDescriptor) clone() *SuperReferenceDescriptor {
	return NewSuperReferenceDescriptor(s.targetType, s.foreignKeys...)
}

// superAccessor exposes the inheritance link as a virtual attribute
type superAccessor struct {
	s *SuperReferenceDescriptor
}

func (a superAccessor) Name() string { return SuperReferenceName }

func (a superAccessor) Get(instance interface{}) (interface{}, error) {
	return a.s.Read(instance)
}

func (a superAccessor) Set(instance interface{}, value interface{}) error {
	return a.s.Write(instance, value)
}
