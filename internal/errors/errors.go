// Package errors provides categorized errors for the capture pipeline.
//
// Every failure inside the pipeline is tagged with one of four categories.
// Transient, inference and storage errors are logged and the pipeline keeps
// running; configuration errors abort startup.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// ErrorCategory represents the type of error for grouping and handling
type ErrorCategory string

const (
	CategoryTransient ErrorCategory = "transient" // corrupt frame, source disconnect
	CategoryInference ErrorCategory = "inference" // backend failure or timeout
	CategoryStorage   ErrorCategory = "storage"   // image or metadata write failure
	CategoryConfig    ErrorCategory = "configuration"
	CategoryGeneric   ErrorCategory = "generic"
)

// EnhancedError wraps an error with category, component and context data
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Component string
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	if ee.Err == nil {
		return string(ee.Category)
	}
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, anything else by the wrapped error
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return stderrors.Is(ee.Err, target)
}

// Recoverable reports whether the pipeline may continue after this error
func (ee *EnhancedError) Recoverable() bool {
	return ee.Category != CategoryConfig
}

// Fields returns the error metadata as log fields
func (ee *EnhancedError) Fields() map[string]any {
	fields := make(map[string]any, len(ee.Context)+2)
	maps.Copy(fields, ee.Context)
	fields["category"] = string(ee.Category)
	if ee.Component != "" {
		fields["component"] = ee.Component
	}
	return fields
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts building an enhanced error around err
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts building an enhanced error from a format string
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key/value pair of context data
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the EnhancedError
func (eb *ErrorBuilder) Build() *EnhancedError {
	category := eb.category
	if category == "" {
		category = CategoryGeneric
	}
	return &EnhancedError{
		Err:       eb.err,
		Category:  category,
		Component: eb.component,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
}

// CategoryOf returns the category of the first EnhancedError in the chain,
// CategoryGeneric if there is none.
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.Category
	}
	return CategoryGeneric
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category ErrorCategory) bool {
	return err != nil && CategoryOf(err) == category
}

// FieldsOf returns the log fields of the first EnhancedError in the chain,
// an empty map if there is none
func FieldsOf(err error) map[string]any {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.Fields()
	}
	return map[string]any{}
}

// ValidationErrors collects configuration problems so they can be reported together
type ValidationErrors []string

// Add records a problem
func (v *ValidationErrors) Add(format string, args ...any) {
	*v = append(*v, fmt.Sprintf(format, args...))
}

// Err returns nil when no problem was recorded, otherwise a configuration error
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return New(fmt.Errorf("invalid configuration: %s", strings.Join(v, "; "))).
		Category(CategoryConfig).
		Context("problems", len(v)).
		Build()
}

// Re-exports of the standard library helpers so callers need a single import
var (
	Is     = stderrors.Is
	As     = stderrors.As
	Unwrap = stderrors.Unwrap
	Join   = stderrors.Join
)

// NewStd creates a plain error, like errors.New in the standard library
func NewStd(text string) error {
	return stderrors.New(text)
}
