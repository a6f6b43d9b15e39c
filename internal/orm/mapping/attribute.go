package mapping

import "fmt"

// Attribute is implemented by every descriptor mapping one member of a type:
// plain fields, to-one references and to-many collections.
type Attribute interface {
	Name() string
	Owner() *TypeDescriptor
	Accessor() FieldAccessor
}

// AttributeDescriptor holds the state shared by all attribute descriptors
type AttributeDescriptor struct {
	name     string
	owner    *TypeDescriptor
	accessor FieldAccessor
}

// Name returns the attribute name
func (a *AttributeDescriptor) Name() string { return a.name }

// Owner returns the type descriptor declaring this attribute
func (a *AttributeDescriptor) Owner() *TypeDescriptor { return a.owner }

// Accessor returns the field accessor bound to this attribute
func (a *AttributeDescriptor) Accessor() FieldAccessor { return a.accessor }

// SetAccessor binds a field accessor
func (a *AttributeDescriptor) SetAccessor(accessor FieldAccessor) {
	a.accessor = accessor
}

// bind attaches the attribute to its owner and installs a default accessor
// when none was supplied.
func (a *AttributeDescriptor) bind(owner *TypeDescriptor) {
	a.owner = owner
	if a.accessor == nil && owner != nil {
		a.accessor = owner.defaultAccessor(a.name)
	}
}

// AccessMode controls how the persistence runtime treats a field
type AccessMode int

const (
	// AccessReadWrite fields are read and written
	AccessReadWrite AccessMode = iota
	// AccessReadOnly fields are read but never written
	AccessReadOnly
	// AccessAnonymous fields exist only in the mapping, not on the instance
	AccessAnonymous
)

// String returns the string representation of the access mode
func (m AccessMode) String() string {
	switch m {
	case AccessReadWrite:
		return "readwrite"
	case AccessReadOnly:
		return "readonly"
	case AccessAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// ParseAccessMode converts a string to an AccessMode
func ParseAccessMode(s string) (AccessMode, error) {
	switch s {
	case "", "readwrite":
		return AccessReadWrite, nil
	case "readonly":
		return AccessReadOnly, nil
	case "anonymous":
		return AccessAnonymous, nil
	default:
		return 0, configErrorf("", "", "unknown access mode: %s", s)
	}
}

// FieldDescriptor maps a plain attribute to a column.
// Changing key or locking flags after the field was added requires
// TypeDescriptor.Invalidate to refresh the derived views.
type FieldDescriptor struct {
	AttributeDescriptor

	ID         int    // positional id, referenced by foreign keys
	Order      int    // declared order index
	Column     string // column name
	ColumnType string // opaque column type name

	PrimaryKey    bool
	AutoIncrement bool
	Nullable      bool
	Locking       bool
	UpdateLock    bool // locking value is maintained by UpdateLockingValues
	Access        AccessMode
}

// NewFieldDescriptor creates a read/write field. A nil accessor is replaced by
// the owner's default accessor when the field is added to a type descriptor.
func NewFieldDescriptor(id int, name, column string, accessor FieldAccessor) *FieldDescriptor {
	if column == "" {
		column = name
	}
	return &FieldDescriptor{
		AttributeDescriptor: AttributeDescriptor{name: name, accessor: accessor},
		ID:                  id,
		Order:               id,
		Column:              column,
		UpdateLock:          true,
		Nullable:            true,
	}
}

// IsReadOnly returns true if the runtime must never write this field
func (f *FieldDescriptor) IsReadOnly() bool { return f.Access == AccessReadOnly }

// IsAnonymous returns true if the field has no counterpart on the instance
func (f *FieldDescriptor) IsAnonymous() bool { return f.Access == AccessAnonymous }

// String returns a short description used in log and error messages
func (f *FieldDescriptor) String() string {
	owner := "<unbound>"
	if f.owner != nil {
		owner = f.owner.Name()
	}
	return fmt.Sprintf("%s.%s(%s)", owner, f.name, f.Column)
}

func (f *FieldDescriptor) clone() *FieldDescriptor {
	c := *f
	c.owner = nil
	return &c
}
