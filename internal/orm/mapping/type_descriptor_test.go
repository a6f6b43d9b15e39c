package mapping

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldNames(fields []*FieldDescriptor) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name()
	}
	return names
}

func TestTypeDescriptorBasics(t *testing.T) {
	d := newOrderDescriptor()

	assert.Equal(t, typeName(Order{}), d.Name())
	assert.Equal(t, reflect.TypeOf(Order{}), d.GoType())
	assert.Equal(t, "sales.orders", d.FullTableName())
	assert.True(t, d.IsConcrete())
	assert.False(t, d.UsesProcedures())

	d.UpdateProcedure = &ProcedureDescriptor{Name: "update_order"}
	assert.True(t, d.UsesProcedures())

	iface := NewTypeDescriptorFor(reflect.TypeOf((*Shape)(nil)).Elem())
	assert.True(t, iface.IsInterface())
	assert.False(t, iface.IsConcrete())
	assert.Empty(t, iface.FullTableName())
}

func TestFieldOrdering(t *testing.T) {
	d := NewTypeDescriptor("Thing")
	c := NewFieldDescriptor(3, "C", "", nil)
	a := NewFieldDescriptor(1, "A", "", nil)
	b := NewFieldDescriptor(2, "B", "", nil)
	b.Order = 10
	d.AddField(c)
	d.AddField(b)
	d.AddField(a)

	assert.Equal(t, []string{"A", "C", "B"}, fieldNames(d.Fields()))
	assert.Equal(t, "C", d.FieldByColumn("c").Column, "column defaults to name")
}

func TestAttributeViews(t *testing.T) {
	d := newOrderDescriptor()
	readOnly := NewFieldDescriptor(5, "Total", "total", nil)
	readOnly.Access = AccessReadOnly
	d.AddField(readOnly)

	pk, err := d.PrimaryKeyFields()
	require.NoError(t, err)
	assert.Equal(t, []string{"ID"}, fieldNames(pk))
	assert.Equal(t, []string{"CustomerID", "Version", "UpdatedAt", "Total"}, fieldNames(d.NonKeyFields()))
	assert.Equal(t, []string{"ID", "CustomerID", "Version", "UpdatedAt"}, fieldNames(d.ReadWriteFields()))
	assert.Equal(t, []string{"CustomerID", "Version", "UpdatedAt"}, fieldNames(d.ReadWriteNonKeyFields()))
	assert.Equal(t, []string{"Version", "UpdatedAt"}, fieldNames(d.LockingFields()))
	assert.Empty(t, d.AutoIncrementFields())
	assert.True(t, d.IsLockable())

	assert.Same(t, d.FieldByName("CustomerID"), d.FieldByID(2))
	assert.Same(t, d.FieldByName("CustomerID"), d.FieldByColumn("CUSTOMER_ID"))
	assert.Nil(t, d.FieldByName("nope"))
}

func TestViewInvalidation(t *testing.T) {
	t.Run("add and remove field", func(t *testing.T) {
		d := newPartyDescriptor()
		pk, err := d.PrimaryKeyFields()
		require.NoError(t, err)
		assert.Len(t, pk, 1)

		d.AddField(pkField(3, "Region", "region"))
		pk, err = d.PrimaryKeyFields()
		require.NoError(t, err)
		assert.Equal(t, []string{"ID", "Region"}, fieldNames(pk))

		assert.True(t, d.RemoveField("Region"))
		pk, err = d.PrimaryKeyFields()
		require.NoError(t, err)
		assert.Equal(t, []string{"ID"}, fieldNames(pk))
		assert.False(t, d.RemoveField("Region"))
	})

	t.Run("flags changed in place need Invalidate", func(t *testing.T) {
		d := newPartyDescriptor()
		assert.False(t, d.IsLockable())

		d.FieldByName("Name").Locking = true
		d.Invalidate()
		assert.True(t, d.IsLockable())
	})

	t.Run("returned slices are copies", func(t *testing.T) {
		d := newPartyDescriptor()
		fields := d.NonKeyFields()
		fields[0] = nil
		assert.NotNil(t, d.NonKeyFields()[0])
	})
}

func TestAddAttribute(t *testing.T) {
	d := NewTypeDescriptor("Thing")
	require.NoError(t, d.AddAttribute(NewFieldDescriptor(1, "A", "a", nil)))
	require.NoError(t, d.AddAttribute(NewReferenceDescriptor("R", "Other")))
	require.NoError(t, d.AddAttribute(NewCollectionDescriptor("C", "Other")))

	err := d.AddAttribute(NewSuperReferenceDescriptor("Base"))
	assert.True(t, IsConfigurationError(err))

	assert.NotNil(t, d.Attribute("A"))
	assert.NotNil(t, d.Attribute("R"))
	assert.NotNil(t, d.Attribute("C"))
	assert.Len(t, d.Relationships(), 2)

	assert.True(t, d.RemoveAttribute("R"))
	assert.True(t, d.RemoveAttribute("C"))
	assert.True(t, d.RemoveAttribute("A"))
	assert.Nil(t, d.Attribute("A"))
	assert.False(t, d.RemoveAttribute("A"))
}

func TestDefaultAccessors(t *testing.T) {
	structType := newPartyDescriptor()
	assert.IsType(t, &ReflectAccessor{}, structType.FieldByName("Name").Accessor())

	mapType := NewTypeDescriptorFor(reflect.TypeOf(map[string]interface{}{}))
	mapType.AddField(NewFieldDescriptor(1, "name", "name", nil))
	assert.IsType(t, &MapAccessor{}, mapType.FieldByName("name").Accessor())

	custom := AccessorFunc{Field: "Name"}
	f := NewFieldDescriptor(3, "Alias", "alias", custom)
	structType.AddField(f)
	assert.Equal(t, custom, f.Accessor())
}

func TestInterfacePrimaryKey(t *testing.T) {
	t.Run("defers to first extent", func(t *testing.T) {
		c := NewCatalog()
		shape := NewTypeDescriptorFor(reflect.TypeOf((*Shape)(nil)).Elem())
		square := NewTypeDescriptorFor(reflect.TypeOf(Square{}))
		square.AddField(pkField(1, "ID", "id"))
		shape.AddExtent(square.Name())
		require.NoError(t, c.Add(shape))
		require.NoError(t, c.Add(square))

		pk, err := shape.PrimaryKeyFields()
		require.NoError(t, err)
		require.Len(t, pk, 1)
		assert.Same(t, square.FieldByName("ID"), pk[0])
	})

	t.Run("no extents is a configuration error", func(t *testing.T) {
		c := NewCatalog()
		shape := NewTypeDescriptorFor(reflect.TypeOf((*Shape)(nil)).Elem())
		require.NoError(t, c.Add(shape))

		_, err := shape.PrimaryKeyFields()
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("extent cycle is reported", func(t *testing.T) {
		c := NewCatalog()
		a := NewTypeDescriptor("A")
		a.SetInterface(true)
		b := NewTypeDescriptor("B")
		b.SetInterface(true)
		a.AddExtent("B")
		b.AddExtent("A")
		require.NoError(t, c.Add(a))
		require.NoError(t, c.Add(b))

		_, err := a.PrimaryKeyFields()
		assert.True(t, IsConfigurationError(err))
	})
}

func TestExtents(t *testing.T) {
	d := NewTypeDescriptor("Vehicle")
	d.AddExtent("Car")
	d.AddExtent("Car")
	d.AddExtent("Truck")

	assert.Equal(t, []string{"Car", "Truck"}, d.ExtentTypes())
	assert.True(t, d.HasExtents())
	assert.True(t, d.IsExtentOf("Truck"))

	assert.True(t, d.RemoveExtent("Car"))
	assert.False(t, d.RemoveExtent("Car"))
	assert.Equal(t, []string{"Truck"}, d.ExtentTypes())
}

func TestBaseTypeDescriptor(t *testing.T) {
	t.Run("no base", func(t *testing.T) {
		base, err := newPartyDescriptor().BaseTypeDescriptor()
		assert.NoError(t, err)
		assert.Nil(t, base)
	})

	t.Run("detached", func(t *testing.T) {
		_, err := newCustomerDescriptor().BaseTypeDescriptor()
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("unmapped base", func(t *testing.T) {
		c := NewCatalog()
		customer := newCustomerDescriptor()
		require.NoError(t, c.Add(customer))
		_, err := customer.BaseTypeDescriptor()
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("abstract base", func(t *testing.T) {
		c := NewCatalog()
		party := newPartyDescriptor()
		party.SetAbstract(true)
		customer := newCustomerDescriptor()
		require.NoError(t, c.Add(party))
		require.NoError(t, c.Add(customer))

		_, err := customer.BaseTypeDescriptor()
		var cfgErr *ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Contains(t, cfgErr.Message, "concrete")
	})

	t.Run("memoized until the catalog changes", func(t *testing.T) {
		c := NewCatalog()
		party := newPartyDescriptor()
		customer := newCustomerDescriptor()
		require.NoError(t, c.Add(party))
		require.NoError(t, c.Add(customer))

		base, err := customer.BaseTypeDescriptor()
		require.NoError(t, err)
		assert.Same(t, party, base)

		replacement := newPartyDescriptor()
		require.NoError(t, c.Add(replacement))
		base, err = customer.BaseTypeDescriptor()
		require.NoError(t, err)
		assert.Same(t, replacement, base)
	})

	t.Run("removing the super reference drops the base", func(t *testing.T) {
		c := NewCatalog()
		require.NoError(t, c.Add(newPartyDescriptor()))
		customer := newCustomerDescriptor()
		require.NoError(t, c.Add(customer))
		assert.Equal(t, []string{customer.Name()}, c.JoinedSubtypes(typeName(Party{})))

		assert.True(t, customer.RemoveAttribute(SuperReferenceName))
		assert.Empty(t, customer.BaseType())
		assert.Nil(t, customer.SuperReference())
		assert.Empty(t, c.JoinedSubtypes(typeName(Party{})))
	})
}

func TestNewInstance(t *testing.T) {
	t.Run("from Go type", func(t *testing.T) {
		d := newPartyDescriptor()
		d.Initializer = func(instance interface{}) error {
			instance.(*Party).Name = "initialized"
			return nil
		}
		instance, err := d.NewInstance()
		require.NoError(t, err)
		assert.Equal(t, &Party{Name: "initialized"}, instance)
	})

	t.Run("map type", func(t *testing.T) {
		d := NewTypeDescriptorFor(reflect.TypeOf(map[string]interface{}{}))
		instance, err := d.NewInstance()
		require.NoError(t, err)
		assert.NotNil(t, instance.(map[string]interface{}))
	})

	t.Run("factory", func(t *testing.T) {
		d := NewTypeDescriptor("Virtual")
		d.Factory = func() (interface{}, error) { return &Party{ID: 9}, nil }
		instance, err := d.NewInstance()
		require.NoError(t, err)
		assert.Equal(t, int64(9), instance.(*Party).ID)
	})

	t.Run("abstract", func(t *testing.T) {
		d := newPartyDescriptor()
		d.SetAbstract(true)
		_, err := d.NewInstance()
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("initializer error", func(t *testing.T) {
		d := newPartyDescriptor()
		d.Initializer = func(interface{}) error { return errors.New("boom") }
		_, err := d.NewInstance()
		assert.ErrorContains(t, err, "boom")
	})
}

func TestUpdateLockingValues(t *testing.T) {
	d := newOrderDescriptor()
	before := time.Now().Add(-time.Hour)
	o := &Order{Version: 4, UpdatedAt: before}

	require.NoError(t, d.UpdateLockingValues(o))
	assert.Equal(t, 5, o.Version)
	assert.True(t, o.UpdatedAt.After(before))

	d.FieldByName("Version").UpdateLock = false
	require.NoError(t, d.UpdateLockingValues(o))
	assert.Equal(t, 5, o.Version)

	m := NewTypeDescriptorFor(reflect.TypeOf(map[string]interface{}{}))
	rev := NewFieldDescriptor(1, "rev", "rev", nil)
	rev.Locking = true
	m.AddField(rev)
	row := map[string]interface{}{}
	require.NoError(t, m.UpdateLockingValues(row))
	assert.Equal(t, 1, row["rev"])

	row["rev"] = "v1"
	assert.True(t, IsConfigurationError(m.UpdateLockingValues(row)))
}
