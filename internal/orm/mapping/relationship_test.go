package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCascadeMode(t *testing.T) {
	tests := []struct {
		input        string
		falseDefault CascadeMode
		want         CascadeMode
		wantErr      bool
	}{
		{"none", CascadeLink, CascadeNone, false},
		{"LINK", CascadeNone, CascadeLink, false},
		{" Object ", CascadeNone, CascadeObject, false},
		{"true", CascadeNone, CascadeObject, false},
		{"false", CascadeLink, CascadeLink, false},
		{"false", CascadeNone, CascadeNone, false},
		{"always", CascadeNone, 0, true},
		{"", CascadeNone, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCascadeMode(tt.input, tt.falseDefault)
			if tt.wantErr {
				assert.True(t, IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCascadeModeString(t *testing.T) {
	assert.Equal(t, "none", CascadeNone.String())
	assert.Equal(t, "link", CascadeLink.String())
	assert.Equal(t, "object", CascadeObject.String())
	assert.Equal(t, "unknown", CascadeMode(9).String())
}

func TestCascadeDefaults(t *testing.T) {
	t.Run("to-one false keeps the link", func(t *testing.T) {
		r := NewReferenceDescriptor("Customer", "Customer", ForeignKeyByName("CustomerID"))
		require.NoError(t, r.SetCascadeStoreText("false"))
		require.NoError(t, r.SetCascadeDeleteText("false"))

		assert.Equal(t, CascadeLink, r.CascadeStore())
		assert.Equal(t, CascadeLink, r.CascadeDelete())
	})

	t.Run("to-many false without indirection is none", func(t *testing.T) {
		c := NewCollectionDescriptor("Orders", "Order", ForeignKeyByName("CustomerID"))
		require.NoError(t, c.SetCascadeStoreText("false"))
		require.NoError(t, c.SetCascadeDeleteText("false"))

		assert.Equal(t, CascadeNone, c.CascadeStore())
		assert.Equal(t, CascadeNone, c.CascadeDelete())
	})

	t.Run("to-many false with indirection is link regardless of order", func(t *testing.T) {
		before := NewCollectionDescriptor("Tags", "Tag")
		before.SetIndirectionTable("order_tags", []string{"order_id"}, []string{"tag_id"})
		require.NoError(t, before.SetCascadeStoreText("false"))

		after := NewCollectionDescriptor("Tags", "Tag")
		require.NoError(t, after.SetCascadeStoreText("false"))
		after.SetIndirectionTable("order_tags", []string{"order_id"}, []string{"tag_id"})

		assert.Equal(t, CascadeLink, before.CascadeStore())
		assert.Equal(t, CascadeLink, after.CascadeStore())

		require.NoError(t, after.SetCascadeDeleteText("false"))
		assert.Equal(t, CascadeLink, after.CascadeDelete())
	})

	t.Run("explicit modes win", func(t *testing.T) {
		r := NewReferenceDescriptor("Customer", "Customer")
		require.NoError(t, r.SetCascadeStoreText("object"))
		r.SetCascadeDelete(CascadeNone)

		assert.Equal(t, CascadeObject, r.CascadeStore())
		assert.Equal(t, CascadeNone, r.CascadeDelete())
	})

	t.Run("unknown text is rejected", func(t *testing.T) {
		r := NewReferenceDescriptor("Customer", "Customer")
		err := r.SetCascadeStoreText("sometimes")
		assert.True(t, IsConfigurationError(err))
		assert.Equal(t, CascadeLink, r.CascadeStore())
	})
}

func TestCollectionDescriptor(t *testing.T) {
	c := NewCollectionDescriptor("Orders", "Order", ForeignKeyByName("CustomerID"))
	assert.True(t, c.IsCollection())
	assert.Equal(t, "Order", c.ItemType())
	assert.False(t, c.HasManyToManyIndirection())
	assert.Nil(t, c.ForeignKeyColumnsToThis())
	assert.Nil(t, c.ForeignKeyColumnsToItem())

	c.AddOrderBy("ID", true)
	assert.Equal(t, []OrderBy{{Field: "ID", Descending: true}}, c.OrderBy())

	c.SetIndirectionTable("customer_orders", []string{"customer_id"}, []string{"order_id"})
	assert.True(t, c.HasManyToManyIndirection())
	assert.Equal(t, []string{"customer_id"}, c.ForeignKeyColumnsToThis())
	assert.Equal(t, []string{"order_id"}, c.ForeignKeyColumnsToItem())
	assert.Equal(t, "customer_orders", c.IndirectionTable())
}

func TestForeignKeyFields(t *testing.T) {
	t.Run("resolve by name and id", func(t *testing.T) {
		order := newOrderDescriptor()
		byName := order.ReferenceByName("Customer")
		require.NotNil(t, byName)

		fields, err := byName.ForeignKeyFields(order)
		require.NoError(t, err)
		require.Len(t, fields, 1)
		assert.Same(t, order.FieldByName("CustomerID"), fields[0])

		byID := NewReferenceDescriptor("Other", "X", ForeignKeyByID(2))
		order.AddReference(byID)
		fields, err = byID.OwnForeignKeyFields()
		require.NoError(t, err)
		assert.Same(t, order.FieldByName("CustomerID"), fields[0])
	})

	t.Run("cached until the context changes", func(t *testing.T) {
		order := newOrderDescriptor()
		ref := order.ReferenceByName("Customer")

		first, err := ref.ForeignKeyFields(order)
		require.NoError(t, err)

		replacement := NewFieldDescriptor(2, "CustomerID", "cust_id", nil)
		order.RemoveField("CustomerID")
		order.AddField(replacement)

		second, err := ref.ForeignKeyFields(order)
		require.NoError(t, err)
		assert.NotSame(t, first[0], second[0])
		assert.Same(t, replacement, second[0])
	})

	t.Run("missing foreign key names the reference", func(t *testing.T) {
		order := newOrderDescriptor()
		ref := NewReferenceDescriptor("Broken", "X", ForeignKeyByName("NoSuchField"))
		order.AddReference(ref)

		_, err := ref.ForeignKeyFields(order)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
		assert.Contains(t, err.Error(), "NoSuchField")
	})

	t.Run("falls back to the base chain", func(t *testing.T) {
		c := NewCatalog()
		party := newPartyDescriptor()
		customer := newCustomerDescriptor()
		require.NoError(t, c.Add(party))
		require.NoError(t, c.Add(customer))

		ref := NewReferenceDescriptor("Named", "X", ForeignKeyByName("Name"))
		customer.AddReference(ref)

		fields, err := ref.ForeignKeyFields(customer)
		require.NoError(t, err)
		assert.Same(t, party.FieldByName("Name"), fields[0])
	})

	t.Run("base mutation invalidates the cache", func(t *testing.T) {
		c := NewCatalog()
		party := newPartyDescriptor()
		customer := newCustomerDescriptor()
		require.NoError(t, c.Add(party))
		require.NoError(t, c.Add(customer))

		ref := NewReferenceDescriptor("Coded", "X", ForeignKeyByName("Code"))
		customer.AddReference(ref)
		party.AddField(NewFieldDescriptor(9, "Code", "code", nil))

		fields, err := ref.ForeignKeyFields(customer)
		require.NoError(t, err)
		assert.Same(t, party.FieldByName("Code"), fields[0])

		require.True(t, party.RemoveField("Code"))
		_, err = ref.ForeignKeyFields(customer)
		assert.True(t, IsConfigurationError(err))
	})
}

func TestForeignKeyValues(t *testing.T) {
	order := newOrderDescriptor()
	ref := order.ReferenceByName("Customer")

	values, err := ref.ForeignKeyValues(&Order{ID: 1, CustomerID: 42}, order)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(42)}, values)

	lazy := &lazyOrder{target: &Order{CustomerID: 7}}
	values, err = ref.ForeignKeyValues(lazy, order)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(7)}, values)
	assert.Equal(t, 1, lazy.calls)

	noKeys := NewReferenceDescriptor("Loose", "X")
	order.AddReference(noKeys)
	untouched := &lazyOrder{target: &Order{}}
	values, err = noKeys.ForeignKeyValues(untouched, order)
	require.NoError(t, err)
	assert.Nil(t, values)
	assert.Equal(t, 0, untouched.calls)
}

func TestRelationshipTarget(t *testing.T) {
	order := newOrderDescriptor()
	ref := order.ReferenceByName("Customer")

	_, err := ref.Target()
	assert.True(t, IsConfigurationError(err), "detached descriptor cannot resolve targets")

	c := NewCatalog()
	require.NoError(t, c.Add(order))
	_, err = ref.Target()
	assert.True(t, IsTypeNotMapped(err))

	customer := newCustomerDescriptor()
	require.NoError(t, c.Add(customer))
	target, err := ref.Target()
	require.NoError(t, err)
	assert.Same(t, customer, target)
}
