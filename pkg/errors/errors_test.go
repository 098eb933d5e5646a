package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *GateError
		expected string
	}{
		{
			name: "error without cause",
			err: &GateError{
				Code:    CodeStatementRejected,
				Message: "missing where clause",
			},
			expected: "STATEMENT_REJECTED: missing where clause",
		},
		{
			name: "error with cause",
			err: &GateError{
				Code:    CodeConnectionFailed,
				Message: "open session",
				Cause:   fmt.Errorf("dial tcp: connection refused"),
			},
			expected: "CONNECTION_FAILED: open session (caused by: dial tcp: connection refused)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestGateError_UnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(cause, CodeUnsupportedQueryShape, "expression select item")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, ErrUnsupportedQueryShape))
	assert.False(t, errors.Is(err, ErrConnectionFailed))
	assert.True(t, errors.Is(err, cause))
}

func TestGateError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	err := ErrStatementRejected.WithDetail("rule", "critical_ddl")

	assert.Equal(t, "critical_ddl", err.Details["rule"])
	assert.Nil(t, ErrStatementRejected.Details)
}

func TestMalformed(t *testing.T) {
	err := Malformed(17, "unterminated quoted string")

	assert.True(t, IsMalformed(err))
	assert.Equal(t, 17, err.Details["offset"])
	assert.Contains(t, err.Error(), "near offset 17")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "message"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "message %d", 1))
	assert.NoError(t, FromDriver(nil, "exec"))
}

func TestFromDriver(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"refused", fmt.Errorf("dial tcp 10.0.0.1:3306: connect: connection refused"), CodeConnectionFailed},
		{"auth", fmt.Errorf("Error 1045: Access denied for user 'x'"), CodeConnectionFailed},
		{"deadline", fmt.Errorf("context deadline exceeded"), CodeDeadlineExceeded},
		{"syntax", fmt.Errorf("Error 1064: You have an error in your SQL syntax"), CodeStatementExecutionFailed},
		{"already coded", New(CodeNotFound, "missing"), CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetCode(FromDriver(tt.err, "exec")))
		})
	}
}

func TestGetMessage(t *testing.T) {
	assert.Equal(t, "plain", GetMessage(fmt.Errorf("plain")))
	assert.Equal(t, "exec: boom", GetMessage(Wrap(fmt.Errorf("boom"), CodeInternal, "exec")))
	assert.Equal(t, "unknown engine type", GetMessage(ErrUnknownEngine))
	assert.Equal(t, CodeInternal, GetCode(fmt.Errorf("plain")))
}
