package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name: "basic error",
			appError: &AppError{
				Type:    ErrTypeConfig,
				Message: "configuration is invalid",
			},
			want: "config: configuration is invalid",
		},
		{
			name: "error with code",
			appError: &AppError{
				Type:    ErrTypeCache,
				Message: "cache get failed",
				Code:    "CACHE001",
			},
			want: "cache: cache get failed: code=CACHE001",
		},
		{
			name: "error with cause",
			appError: &AppError{
				Type:    ErrTypeConnection,
				Message: "redis connection failed",
				Cause:   errors.New("network timeout"),
			},
			want: "connection: redis connection failed: cause=network timeout",
		},
		{
			name: "context keys are sorted",
			appError: &AppError{
				Type:    ErrTypeTemplateExecution,
				Message: "boom",
				Context: map[string]interface{}{
					"template": "a",
					"location": "a:1:2",
				},
			},
			want: "template_execution: boom: context={location=a:1:2, template=a}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			if got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	appError := InternalError("wrapper error", cause)

	if appError.Unwrap() != cause {
		t.Errorf("AppError.Unwrap() = %v, want %v", appError.Unwrap(), cause)
	}

	if ConfigError("no cause").Unwrap() != nil {
		t.Error("AppError.Unwrap() without cause should be nil")
	}
}

func TestAppError_WithContextAndCode(t *testing.T) {
	appError := ValidationError("validation failed")

	if appError.WithContext("field", "name") != appError {
		t.Error("WithContext should return the same instance")
	}
	if appError.WithCode("V1") != appError {
		t.Error("WithCode should return the same instance")
	}
	if appError.Context["field"] != "name" || appError.Code != "V1" {
		t.Errorf("unexpected error state: %+v", appError)
	}
}

func TestTemplateLoadError(t *testing.T) {
	cause := errors.New("no such template")
	err := TemplateLoadError("missing", cause)

	if err.Type != ErrTypeTemplateLoad {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeTemplateLoad)
	}
	if TemplateName(err) != "missing" {
		t.Errorf("TemplateName() = %q, want missing", TemplateName(err))
	}
	if Location(err) != "" {
		t.Errorf("Location() = %q, want empty", Location(err))
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestTemplateExecutionError(t *testing.T) {
	err := TemplateExecutionError("greet", errors.New("ReferenceError"), "greet:2:5")

	if err.Type != ErrTypeTemplateExecution {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeTemplateExecution)
	}
	if TemplateName(err) != "greet" {
		t.Errorf("TemplateName() = %q, want greet", TemplateName(err))
	}
	if Location(err) != "greet:2:5" {
		t.Errorf("Location() = %q, want greet:2:5", Location(err))
	}

	wrapped := fmt.Errorf("render: %w", err)
	if TemplateName(wrapped) != "greet" {
		t.Error("TemplateName should see through wrapping")
	}
}

func TestTimeoutError(t *testing.T) {
	err := TimeoutError("template resolve", nil)

	if err.Type != ErrTypeTimeout {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeTimeout)
	}
	if err.Message != "timeout during template resolve" {
		t.Errorf("Message = %v", err.Message)
	}
}

func TestIsType(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		errType ErrorType
		want    bool
	}{
		{"matching type", ConfigError("test"), ErrTypeConfig, true},
		{"non-matching type", ConfigError("test"), ErrTypeCache, false},
		{"non-app error", errors.New("regular error"), ErrTypeConfig, false},
		{"nil error", nil, ErrTypeConfig, false},
		{"nested cause", TemplateExecutionError("a", TimeoutError("run", nil), ""), ErrTypeTimeout, true},
		{"wrapped", fmt.Errorf("x: %w", CacheError("get", nil)), ErrTypeCache, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsType(tt.err, tt.errType); got != tt.want {
				t.Errorf("IsType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"app error", NotFoundError("template"), ErrTypeNotFound},
		{"regular error", errors.New("regular error"), ErrTypeInternal},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetType(tt.err); got != tt.want {
				t.Errorf("GetType() = %v, want %v", got, tt.want)
			}
		})
	}
}
