package errors_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/paveg/partjoin/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestJoinError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *errors.JoinError
		expected string
	}{
		{
			name:     "Error with column",
			err:      errors.NewColumnNotFoundError("Configure", "id"),
			expected: "Configure operation failed on column 'id': column does not exist",
		},
		{
			name:     "Error without column",
			err:      errors.NewConfigurationError("Configure", "no join columns selected"),
			expected: "Configure operation failed: no join columns selected",
		},
		{
			name:     "Error with cause",
			err:      errors.NewIOError("Sort", stderrors.New("disk full")),
			expected: "Sort operation failed: i/o failure: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestJoinError_Unwrap(t *testing.T) {
	err := errors.NewCanceledError("Partition", context.Canceled)

	assert.Equal(t, context.Canceled, err.Unwrap())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJoinError_KindSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		other    error
	}{
		{"configuration", errors.NewConfigurationError("Configure", "x"), errors.ErrConfiguration, errors.ErrIntegrity},
		{"column", errors.NewColumnNotFoundError("Configure", "x"), errors.ErrConfiguration, errors.ErrIO},
		{"integrity", errors.NewIntegrityError("Reassemble", "x"), errors.ErrIntegrity, errors.ErrConfiguration},
		{"canceled", errors.NewCanceledError("Probe", context.Canceled), errors.ErrCanceled, errors.ErrIO},
		{"io", errors.NewIOError("Read", stderrors.New("eof")), errors.ErrIO, errors.ErrCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("join: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.NotErrorIs(t, wrapped, tt.other)
		})
	}
}

func TestJoinError_Is(t *testing.T) {
	err1 := errors.NewColumnNotFoundError("Configure", "id")
	err2 := errors.NewColumnNotFoundError("Configure", "id")
	err3 := errors.NewColumnNotFoundError("Configure", "name")

	assert.True(t, stderrors.Is(err1, err2))
	assert.False(t, stderrors.Is(err1, err3))
	assert.False(t, stderrors.Is(err1, stderrors.New("column does not exist")))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "configuration", errors.KindConfiguration.String())
	assert.Equal(t, "integrity", errors.KindIntegrity.String())
	assert.Equal(t, "canceled", errors.KindCanceled.String())
	assert.Equal(t, "io", errors.KindIO.String())
	assert.Equal(t, "internal", errors.KindInternal.String())
}
