package mapping

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReflectAccessor(t *testing.T) {
	t.Run("get and set", func(t *testing.T) {
		a := NewReflectAccessor("Name")
		p := &Party{ID: 1, Name: "Ada"}

		v, err := a.Get(p)
		require.NoError(t, err)
		assert.Equal(t, "Ada", v)

		require.NoError(t, a.Set(p, "Grace"))
		assert.Equal(t, "Grace", p.Name)
	})

	t.Run("promoted field through embedding", func(t *testing.T) {
		a := NewReflectAccessor("Name")
		p := &Person{Party: Party{Name: "Ada"}}

		v, err := a.Get(p)
		require.NoError(t, err)
		assert.Equal(t, "Ada", v)

		require.NoError(t, a.Set(p, "Grace"))
		assert.Equal(t, "Grace", p.Party.Name)
	})

	t.Run("same accessor on different types", func(t *testing.T) {
		a := NewReflectAccessor("ID")

		v, err := a.Get(&Party{ID: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		v, err = a.Get(&Customer{ID: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
	})

	t.Run("nil assigns zero value", func(t *testing.T) {
		a := NewReflectAccessor("Name")
		p := &Party{Name: "Ada"}
		require.NoError(t, a.Set(p, nil))
		assert.Empty(t, p.Name)
	})

	t.Run("errors", func(t *testing.T) {
		a := NewReflectAccessor("Missing")
		_, err := a.Get(&Party{})
		assert.Error(t, err)

		err = NewReflectAccessor("Name").Set(Party{}, "x")
		assert.Error(t, err, "non-pointer instance is not addressable")

		err = NewReflectAccessor("Name").Set(&Party{}, 42)
		assert.Error(t, err, "int is not assignable to string")

		_, err = NewReflectAccessor("Name").Get((*Party)(nil))
		assert.Error(t, err)
	})
}

func TestMapAccessor(t *testing.T) {
	a := NewMapAccessor("name")
	m := map[string]interface{}{}

	require.NoError(t, a.Set(m, "Ada"))
	v, err := a.Get(m)
	require.NoError(t, err)
	assert.Equal(t, "Ada", v)

	v, err = NewMapAccessor("missing").Get(m)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = a.Get(&Party{})
	assert.Error(t, err)
}

func TestAccessorFunc(t *testing.T) {
	var stored interface{}
	a := AccessorFunc{
		Field:  "virtual",
		Getter: func(interface{}) (interface{}, error) { return stored, nil },
		Setter: func(_ interface{}, v interface{}) error { stored = v; return nil },
	}

	require.NoError(t, a.Set(nil, 3))
	v, err := a.Get(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, "virtual", a.Name())

	_, err = AccessorFunc{Field: "x"}.Get(nil)
	assert.Error(t, err)
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, TypeName(reflect.TypeOf(Party{})), TypeName(reflect.TypeOf(&Party{})))
	assert.Equal(t, "github.com/conduit-lang/mapping/internal/orm/mapping.Party", TypeName(reflect.TypeOf(Party{})))
	assert.Equal(t, "int", TypeName(reflect.TypeOf(0)))
}

func TestErrors(t *testing.T) {
	err := configErrorf("Order", "Customer", "foreign key %s not found", "CustomerID")
	assert.True(t, IsConfigurationError(err))
	assert.False(t, IsTypeNotMapped(err))
	assert.Equal(t, "mapping configuration error: Order.Customer: foreign key CustomerID not found", err.Error())

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "Customer", cfgErr.Attribute)

	notMapped := &TypeNotMappedError{TypeName: "Ghost"}
	assert.True(t, IsTypeNotMapped(notMapped))
	assert.True(t, errors.Is(notMapped, ErrTypeNotMapped))
	assert.Equal(t, "type not mapped: Ghost", notMapped.Error())
}
