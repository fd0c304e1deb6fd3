package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func TestValidator_Struct(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name      string
		req       registerRequest
		wantField string
		wantTag   string
	}{
		{name: "valid", req: registerRequest{Email: "a@example.com", Password: "pw123456"}},
		{name: "missing email", req: registerRequest{Password: "pw123456"}, wantField: "email", wantTag: "required"},
		{name: "bad email", req: registerRequest{Email: "nope", Password: "pw123456"}, wantField: "email", wantTag: "email"},
		{name: "short password", req: registerRequest{Email: "a@example.com", Password: "pw"}, wantField: "password", wantTag: "min"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.req)
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var fieldErr *FieldError
			require.True(t, errors.As(err, &fieldErr))
			assert.Equal(t, tt.wantField, fieldErr.Field)
			assert.Equal(t, tt.wantTag, fieldErr.Tag)
		})
	}
}

func TestValidator_IsEmail(t *testing.T) {
	v := NewValidator()
	assert.True(t, v.IsEmail("user@example.com"))
	assert.False(t, v.IsEmail("user@"))
	assert.False(t, v.IsEmail(""))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM "))
}

func TestBlank(t *testing.T) {
	assert.True(t, Blank("a", " "))
	assert.True(t, Blank(""))
	assert.False(t, Blank("a", "b"))
}

func TestPagination(t *testing.T) {
	tests := []struct {
		page, limit         int
		wantPage, wantLimit int
	}{
		{0, 0, 1, DefaultPageSize},
		{3, 50, 3, 50},
		{-1, 500, 1, MaxPageSize},
	}
	for _, tt := range tests {
		page, limit := Pagination(tt.page, tt.limit)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantLimit, limit)
	}
}
