package mapping

import (
	"fmt"
	"reflect"
	"sync"
)

// FieldAccessor reads and writes one attribute value on an in-memory instance.
// The catalog never inspects how values are stored; it only calls Get and Set.
type FieldAccessor interface {
	Name() string
	Get(instance interface{}) (interface{}, error)
	Set(instance interface{}, value interface{}) error
}

// LazyInstance is implemented by placeholders that stand in for an object that
// has not been materialized yet.
type LazyInstance interface {
	Materialize() (interface{}, error)
}

// AccessorFunc adapts a pair of functions to the FieldAccessor interface
type AccessorFunc struct {
	Field  string
	Getter func(instance interface{}) (interface{}, error)
	Setter func(instance interface{}, value interface{}) error
}

// Name returns the attribute name
func (a AccessorFunc) Name() string { return a.Field }

// Get calls the getter
func (a AccessorFunc) Get(instance interface{}) (interface{}, error) {
	if a.Getter == nil {
		return nil, fmt.Errorf("accessor %s has no getter", a.Field)
	}
	return a.Getter(instance)
}

// Set calls the setter
func (a AccessorFunc) Set(instance interface{}, value interface{}) error {
	if a.Setter == nil {
		return fmt.Errorf("accessor %s has no setter", a.Field)
	}
	return a.Setter(instance, value)
}

// MapAccessor accesses a key of a map[string]interface{} instance
type MapAccessor struct {
	Key string
}

// NewMapAccessor creates an accessor for the given map key
func NewMapAccessor(key string) *MapAccessor {
	return &MapAccessor{Key: key}
}

// Name returns the map key
func (a *MapAccessor) Name() string { return a.Key }

// Get returns the value stored under the key, nil if absent
func (a *MapAccessor) Get(instance interface{}) (interface{}, error) {
	m, ok := instance.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("map accessor %s: unsupported instance type %T", a.Key, instance)
	}
	return m[a.Key], nil
}

// Set stores the value under the key
func (a *MapAccessor) Set(instance interface{}, value interface{}) error {
	m, ok := instance.(map[string]interface{})
	if !ok {
		return fmt.Errorf("map accessor %s: unsupported instance type %T", a.Key, instance)
	}
	if m == nil {
		return fmt.Errorf("map accessor %s: nil map", a.Key)
	}
	m[a.Key] = value
	return nil
}

// ReflectAccessor accesses a struct field by name on the instance's dynamic type.
// Promoted fields of embedded structs are found as well, so an accessor built for
// a base struct works on any struct embedding it.
type ReflectAccessor struct {
	Field string

	// reflect.Type -> []int field index
	indexes sync.Map
}

// NewReflectAccessor creates an accessor for the named struct field
func NewReflectAccessor(field string) *ReflectAccessor {
	return &ReflectAccessor{Field: field}
}

// Name returns the struct field name
func (a *ReflectAccessor) Name() string { return a.Field }

// Get returns the field value
func (a *ReflectAccessor) Get(instance interface{}) (interface{}, error) {
	v, err := a.structValue(instance)
	if err != nil {
		return nil, err
	}
	f, err := a.field(v)
	if err != nil {
		return nil, err
	}
	return f.Interface(), nil
}

// Set assigns the field value; nil assigns the zero value
func (a *ReflectAccessor) Set(instance interface{}, value interface{}) error {
	v, err := a.structValue(instance)
	if err != nil {
		return err
	}
	if !v.CanAddr() {
		return fmt.Errorf("reflect accessor %s: instance %T is not addressable, pass a pointer", a.Field, instance)
	}
	f, err := a.field(v)
	if err != nil {
		return err
	}
	if value == nil {
		f.Set(reflect.Zero(f.Type()))
		return nil
	}
	rv := reflect.ValueOf(value)
	if !rv.Type().AssignableTo(f.Type()) {
		return fmt.Errorf("reflect accessor %s: cannot assign %s to %s", a.Field, rv.Type(), f.Type())
	}
	f.Set(rv)
	return nil
}

func (a *ReflectAccessor) structValue(instance interface{}) (reflect.Value, error) {
	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("reflect accessor %s: nil instance", a.Field)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("reflect accessor %s: unsupported instance type %T", a.Field, instance)
	}
	return v, nil
}

func (a *ReflectAccessor) field(v reflect.Value) (reflect.Value, error) {
	t := v.Type()
	if idx, ok := a.indexes.Load(t); ok {
		return v.FieldByIndexErr(idx.([]int))
	}
	sf, ok := t.FieldByName(a.Field)
	if !ok {
		return reflect.Value{}, fmt.Errorf("reflect accessor %s: no such field on %s", a.Field, t)
	}
	if !sf.IsExported() {
		return reflect.Value{}, fmt.Errorf("reflect accessor %s: field on %s is not exported", a.Field, t)
	}
	a.indexes.Store(t, sf.Index)
	return v.FieldByIndexErr(sf.Index)
}

// TypeName returns the fully-qualified name used to key Go types in a catalog
func TypeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
