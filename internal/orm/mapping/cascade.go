package mapping

import "strings"

// CascadeMode controls how store and delete operations propagate across a relationship
type CascadeMode int

const (
	// CascadeNone leaves the related object and the link untouched
	CascadeNone CascadeMode = iota
	// CascadeLink maintains only the foreign key or indirection row
	CascadeLink
	// CascadeObject applies the operation to the related object itself
	CascadeObject
)

// String returns the string representation of the cascade mode
func (c CascadeMode) String() string {
	switch c {
	case CascadeNone:
		return "none"
	case CascadeLink:
		return "link"
	case CascadeObject:
		return "object"
	default:
		return "unknown"
	}
}

// ParseCascadeMode converts a textual cascade setting to a CascadeMode.
// The legacy boolean literals are accepted: "true" means object, "false"
// means falseDefault, which depends on the shape of the relationship.
func ParseCascadeMode(s string, falseDefault CascadeMode) (CascadeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return CascadeNone, nil
	case "link":
		return CascadeLink, nil
	case "object":
		return CascadeObject, nil
	case "true":
		return CascadeObject, nil
	case "false":
		return falseDefault, nil
	default:
		return 0, configErrorf("", "", "unknown cascade setting: %q", s)
	}
}
