package mapping

import (
	"reflect"

	"go.uber.org/zap"
)

// Resolve returns the descriptor for name. A name with no descriptor of its
// own falls back, when its Go type is known, to the nearest mapped embedded
// struct, then to a mapped interface the type implements.
func (c *Catalog) Resolve(name string) (*TypeDescriptor, error) {
	if d, ok := c.Get(name); ok {
		c.stats.resolveHits.Add(1)
		return d, nil
	}

	dc := c.derived()
	dc.mu.Lock()
	d, ok := dc.resolved[name]
	dc.mu.Unlock()
	if ok {
		c.stats.resolveHits.Add(1)
		return d, nil
	}

	if v, ok := c.goTypes.Load(name); ok {
		if d := c.resolveFallback(v.(reflect.Type)); d != nil {
			dc.mu.Lock()
			dc.resolved[name] = d
			dc.mu.Unlock()
			c.stats.resolveHits.Add(1)
			c.logger.Debug("type resolved through ancestor",
				zap.String("type", name),
				zap.String("descriptor", d.Name()))
			return d, nil
		}
	}

	c.stats.resolveMisses.Add(1)
	c.logger.Debug("no descriptor for type", zap.String("type", name))
	return nil, &TypeNotMappedError{TypeName: name}
}

// MustResolve is like Resolve but panics if the type is not mapped
func (c *Catalog) MustResolve(name string) *TypeDescriptor {
	d, err := c.Resolve(name)
	if err != nil {
		panic(err)
	}
	return d
}

// ResolveType returns the descriptor for a Go type. The type is remembered,
// so later lookups by its name resolve the same way.
func (c *Catalog) ResolveType(t reflect.Type) (*TypeDescriptor, error) {
	if t == nil {
		return nil, &TypeNotMappedError{TypeName: "<nil>"}
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	c.rememberType(t)
	return c.Resolve(TypeName(t))
}

// rememberType records t under its name
func (c *Catalog) rememberType(t reflect.Type) {
	if t == nil {
		return
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	c.goTypes.LoadOrStore(TypeName(t), t)
}

func (c *Catalog) resolveFallback(t reflect.Type) *TypeDescriptor {
	if d := c.resolveEmbedded(t, make(map[reflect.Type]bool)); d != nil {
		return d
	}
	return c.resolveInterface(t)
}

// DescriptorFor returns the descriptor for the dynamic type of instance
func (c *Catalog) DescriptorFor(instance interface{}) (*TypeDescriptor, error) {
	if lazy, ok := instance.(LazyInstance); ok {
		materialized, err := lazy.Materialize()
		if err != nil {
			return nil, err
		}
		instance = materialized
	}
	return c.ResolveType(reflect.TypeOf(instance))
}

// resolveEmbedded walks embedded structs depth first in field order
func (c *Catalog) resolveEmbedded(t reflect.Type, seen map[reflect.Type]bool) *TypeDescriptor {
	if t.Kind() != reflect.Struct || seen[t] {
		return nil
	}
	seen[t] = true
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if d, ok := c.Get(TypeName(ft)); ok {
			return d
		}
		if d := c.resolveEmbedded(ft, seen); d != nil {
			return d
		}
	}
	return nil
}

// resolveInterface returns the first mapped interface, by name, that t or *t implements
func (c *Catalog) resolveInterface(t reflect.Type) *TypeDescriptor {
	for _, d := range c.Snapshot() {
		it := d.GoType()
		if it == nil || it.Kind() != reflect.Interface {
			continue
		}
		if t.Implements(it) || reflect.PointerTo(t).Implements(it) {
			return d
		}
	}
	return nil
}
