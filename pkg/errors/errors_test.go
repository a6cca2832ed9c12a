package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_IsMatchesByCode(t *testing.T) {
	sentinel := New(ErrCodeInsufficientStock, "insufficient stock")
	wrapped := fmt.Errorf("reserve: %w", sentinel.WithCause(errors.New("available=2")))

	assert.True(t, errors.Is(wrapped, sentinel))
	assert.False(t, errors.Is(wrapped, ErrInternal))
	assert.Contains(t, wrapped.Error(), "available=2")
}

func TestGetAppError(t *testing.T) {
	t.Run("app error passes through", func(t *testing.T) {
		appErr := GetAppError(fmt.Errorf("ctx: %w", ErrInvalidParams))
		assert.Equal(t, ErrCodeInvalidParams, appErr.Code)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		cause := errors.New("boom")
		appErr := GetAppError(cause)
		assert.Equal(t, ErrCodeInternal, appErr.Code)
		assert.ErrorIs(t, appErr, cause)
		assert.ErrorIs(t, appErr, ErrInternal)
	})
}

func TestAppError_HTTPStatus(t *testing.T) {
	cases := map[int]int{
		ErrCodeSKUNotFound:        http.StatusNotFound,
		ErrCodeInvalidQuantity:    http.StatusBadRequest,
		ErrCodeInsufficientStock:  http.StatusConflict,
		ErrCodeContentionExceeded: http.StatusServiceUnavailable,
		ErrCodeDatabaseError:      http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, New(code, "x").HTTPStatus(), "code %d", code)
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeRedisError, CodeOf(WrapCode(errors.New("io"), ErrCodeRedisError, "redis")))
	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("plain")))
}
