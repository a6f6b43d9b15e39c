package mapping

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when the descriptor graph is internally inconsistent
	ErrConfiguration = errors.New("mapping configuration error")

	// ErrTypeNotMapped is returned when no descriptor exists for a type or any of its ancestors
	ErrTypeNotMapped = errors.New("type not mapped")
)

// ConfigurationError describes an inconsistency in the descriptor graph
type ConfigurationError struct {
	Type      string
	Attribute string
	Message   string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	switch {
	case e.Type != "" && e.Attribute != "":
		return fmt.Sprintf("%s: %s.%s: %s", ErrConfiguration, e.Type, e.Attribute, e.Message)
	case e.Type != "":
		return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Type, e.Message)
	default:
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Message)
	}
}

// Is reports whether target is ErrConfiguration
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// TypeNotMappedError is returned when a type has no descriptor anywhere in its ancestor chain
type TypeNotMappedError struct {
	TypeName string
}

// Error implements the error interface
func (e *TypeNotMappedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTypeNotMapped, e.TypeName)
}

// Is reports whether target is ErrTypeNotMapped
func (e *TypeNotMappedError) Is(target error) bool {
	return target == ErrTypeNotMapped
}

func configErrorf(typeName, attribute, format string, args ...interface{}) error {
	return &ConfigurationError{
		Type:      typeName,
		Attribute: attribute,
		Message:   fmt.Sprintf(format, args...),
	}
}

// IsConfigurationError returns true if the error is a ConfigurationError
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsTypeNotMapped returns true if the error is a TypeNotMappedError
func IsTypeNotMapped(err error) bool {
	return errors.Is(err, ErrTypeNotMapped)
}
