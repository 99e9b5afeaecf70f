package errors

import (
	"errors"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	err := NewError()
	require.NotNil(t, err)
	assert.Equal(t, 0, err.Code)
	assert.Equal(t, "", err.Message)
	assert.Nil(t, err.InnerError)
	assert.NotEmpty(t, err.Stack, "Stack should be captured")
}

func TestError_WithCode(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{"validation", CodeValidation},
		{"internal", CodeInternal},
		{"custom code", 9999},
		{"zero code", 0},
		{"negative code", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError().WithCode(tt.code)
			assert.Equal(t, tt.code, err.Code)
		})
	}
}

func TestError_WithMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{"simple message", "dedup conflict"},
		{"empty message", ""},
		{"long message", strings.Repeat("a", 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError().WithMessage(tt.message)
			assert.Equal(t, tt.message, err.Message)
		})
	}
}

func TestError_WithMessagef(t *testing.T) {
	err := NewError().WithMessagef("job %s not found", "job-1")
	assert.Equal(t, "job job-1 not found", err.Message)
}

func TestError_WithError(t *testing.T) {
	innerErr := errors.New("connection refused")
	err := NewError().WithError(innerErr)
	assert.Equal(t, innerErr, err.InnerError)
}

func TestError_ChainedMethods(t *testing.T) {
	innerErr := errors.New("lease expired")
	err := NewError().
		WithCode(CodeTransientStore).
		WithMessage("failed to claim job").
		WithError(innerErr)

	assert.Equal(t, CodeTransientStore, err.Code)
	assert.Equal(t, "failed to claim job", err.Message)
	assert.Equal(t, innerErr, err.InnerError)
}

func TestError_Error_WithoutInnerError(t *testing.T) {
	err := NewError().
		WithCode(CodeValidation).
		WithMessage("invalid payload")

	result := err.Error()
	assert.Contains(t, result, "code 4001")
	assert.Contains(t, result, "message invalid payload")
	assert.Contains(t, result, "stack")
	assert.NotContains(t, result, "error ")
}

func TestError_Error_WithInnerError(t *testing.T) {
	innerErr := errors.New("connection refused")
	err := NewError().
		WithCode(CodeTransientStore).
		WithMessage("failed to connect").
		WithError(innerErr)

	result := err.Error()
	assert.Contains(t, result, "error connection refused")
	assert.Contains(t, result, "code 5002")
	assert.Contains(t, result, "message failed to connect")
	assert.Contains(t, result, "stack")
}

func TestError_GetStackString(t *testing.T) {
	err := NewError()
	stackString := err.GetStackString()

	assert.NotEmpty(t, stackString)
	assert.Contains(t, stackString, "error_test.go")
	assert.Contains(t, stackString, ":")
}

func TestError_GetStackString_EmptyStack(t *testing.T) {
	err := &Error{Stack: []runtime.Frame{}}
	assert.Equal(t, "", err.GetStackString())
}

func TestWrapError(t *testing.T) {
	innerErr := errors.New("original error")
	err := WrapError(innerErr, "wrapped message", CodeInternal)

	assert.Equal(t, CodeInternal, err.Code)
	assert.Equal(t, "wrapped message", err.Message)
	assert.Equal(t, innerErr, err.InnerError)
	assert.NotEmpty(t, err.Stack)
}

func TestWrapMessage(t *testing.T) {
	err := WrapMessage("job not found", CodeNotFound)

	assert.Equal(t, CodeNotFound, err.Code)
	assert.Equal(t, "job not found", err.Message)
	assert.Nil(t, err.InnerError)
	assert.NotEmpty(t, err.Stack)
}

func TestError_NilInnerError(t *testing.T) {
	err := NewError().
		WithCode(CodeInternal).
		WithMessage("test error").
		WithError(nil)

	result := err.Error()
	assert.Nil(t, err.InnerError)
	assert.NotContains(t, result, "error <nil>")
}

func TestError_StackCapture(t *testing.T) {
	err := createNestedError()
	stackString := err.GetStackString()
	assert.Contains(t, stackString, "createNestedError")
	assert.Contains(t, stackString, "TestError_StackCapture")
}

func createNestedError() *Error {
	return NewError().WithMessage("nested error")
}

func TestIs(t *testing.T) {
	leaseLost := NewError().WithCode(CodeLeaseLost).WithMessage("lease expired")
	wrapped := WrapError(leaseLost, "heartbeat failed", CodeInternal)

	assert.True(t, Is(wrapped, CodeLeaseLost))
	assert.True(t, Is(wrapped, CodeInternal))
	assert.False(t, Is(wrapped, CodeDedupConflict))
	assert.False(t, Is(nil, CodeLeaseLost))
}
