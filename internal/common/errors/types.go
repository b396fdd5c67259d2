// Package errors defines the error taxonomy shared by the execution layer,
// the cache layer and the HTTP surface.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeTemplateLoad is recorded when a template name cannot be resolved
	ErrTypeTemplateLoad ErrorType = "template_load"
	// ErrTypeTemplateExecution is recorded when a resolved template fails while running
	ErrTypeTemplateExecution ErrorType = "template_execution"
	// ErrTypeCache represents cache backend I/O failures
	ErrTypeCache ErrorType = "cache"
	// ErrTypeTimeout represents a suspended call that outlived its deadline
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

const (
	contextTemplate = "template"
	contextLocation = "location"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// TemplateLoadError records that the named template could not be resolved.
func TemplateLoadError(name string, cause error) *AppError {
	err := &AppError{
		Type:    ErrTypeTemplateLoad,
		Message: fmt.Sprintf("failed to load template %q", name),
		Cause:   cause,
	}
	return err.WithContext(contextTemplate, name)
}

// TemplateExecutionError records that the named template failed while running.
// location is a source position token such as "name:3:14" and may be empty.
func TemplateExecutionError(name string, cause error, location string) *AppError {
	err := &AppError{
		Type:    ErrTypeTemplateExecution,
		Message: fmt.Sprintf("failed to execute template %q", name),
		Cause:   cause,
	}
	err.WithContext(contextTemplate, name)
	if location != "" {
		err.WithContext(contextLocation, location)
	}
	return err
}

// CacheError wraps a cache backend failure for the given operation
func CacheError(operation string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeCache,
		Message: fmt.Sprintf("cache %s failed", operation),
		Cause:   cause,
	}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
		Cause:   cause,
	}
}

// IsType reports whether any AppError in err's chain has the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}

// TemplateName returns the template a load or execution error refers to
func TemplateName(err error) string {
	return contextString(err, contextTemplate)
}

// Location returns the source location recorded on an execution error
func Location(err error) string {
	return contextString(err, contextLocation)
}

func contextString(err error, key string) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ""
	}
	s, _ := appErr.Context[key].(string)
	return s
}
