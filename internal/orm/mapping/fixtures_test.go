package mapping

import (
	"reflect"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type Party struct {
	ID   int64
	Name string
}

// Person is a host-mode subtype: it embeds its base
type Person struct {
	Party
	Email string
}

// Customer is a declarative subtype: it repeats the base attributes itself
type Customer struct {
	ID   int64
	Name string
	Tier string
}

type Order struct {
	ID         int64
	CustomerID int64
	Version    int
	UpdatedAt  time.Time
}

type Shape interface {
	Area() float64
}

type Square struct {
	ID   int64
	Side float64
}

func (s *Square) Area() float64 { return s.Side * s.Side }

type Circle struct {
	ID     int64
	Radius float64
}

func (c *Circle) Area() float64 { return 3 * c.Radius * c.Radius }

type lazyOrder struct {
	target *Order
	calls  int
}

func (l *lazyOrder) Materialize() (interface{}, error) {
	l.calls++
	return l.target, nil
}

func typeName(v interface{}) string {
	return TypeName(reflect.TypeOf(v))
}

func pkField(id int, name, column string) *FieldDescriptor {
	f := NewFieldDescriptor(id, name, column, nil)
	f.PrimaryKey = true
	f.Nullable = false
	return f
}

func newPartyDescriptor() *TypeDescriptor {
	d := NewTypeDescriptorFor(reflect.TypeOf(Party{}))
	d.SetTable("", "party")
	id := pkField(1, "ID", "id")
	id.AutoIncrement = true
	d.AddField(id)
	d.AddField(NewFieldDescriptor(2, "Name", "name", nil))
	return d
}

func newPersonDescriptor() *TypeDescriptor {
	d := NewTypeDescriptorFor(reflect.TypeOf(Person{}))
	d.SetTable("", "person")
	d.AddField(pkField(1, "ID", "id"))
	d.AddField(NewFieldDescriptor(3, "Email", "email", nil))
	d.SetBaseType(typeName(Party{}))
	return d
}

func newCustomerDescriptor() *TypeDescriptor {
	d := NewTypeDescriptorFor(reflect.TypeOf(Customer{}))
	d.SetTable("", "customer")
	d.AddField(pkField(1, "ID", "id"))
	d.AddField(NewFieldDescriptor(3, "Tier", "tier", nil))
	d.SetBaseType(typeName(Party{}))
	return d
}

func newOrderDescriptor() *TypeDescriptor {
	d := NewTypeDescriptorFor(reflect.TypeOf(Order{}))
	d.SetTable("sales", "orders")
	d.AddField(pkField(1, "ID", "id"))
	d.AddField(NewFieldDescriptor(2, "CustomerID", "customer_id", nil))
	version := NewFieldDescriptor(3, "Version", "version", nil)
	version.Locking = true
	d.AddField(version)
	updated := NewFieldDescriptor(4, "UpdatedAt", "updated_at", nil)
	updated.Locking = true
	updated.ColumnType = "timestamp"
	d.AddField(updated)
	d.AddReference(NewReferenceDescriptor("Customer", typeName(Customer{}), ForeignKeyByName("CustomerID")))
	return d
}

func newObservedCatalog(level zapcore.LevelEnabler) (*Catalog, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewCatalog(WithLogger(zap.New(core))), logs
}
