package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("connection reset")
	err := WrapError(originalErr, ErrCodeNetwork, "request failed", 0)

	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should reach the cause")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewNotFoundError("room")
	err.WithContext("room_id", "r1").WithContext("attempt", 2)

	if err.Context["room_id"] != "r1" {
		t.Errorf("Context[room_id] = %v, want r1", err.Context["room_id"])
	}
	if err.Context["attempt"] != 2 {
		t.Errorf("Context[attempt] = %v, want 2", err.Context["attempt"])
	}
}

func TestFromHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		code   ErrorCode
		retry  bool
	}{
		{http.StatusBadRequest, ErrCodeInvalidInput, false},
		{http.StatusUnauthorized, ErrCodeUnauthorized, false},
		{http.StatusNotFound, ErrCodeNotFound, false},
		{http.StatusConflict, ErrCodeConflict, false},
		{http.StatusTooManyRequests, ErrCodeRateLimit, true},
		{http.StatusInternalServerError, ErrCodeInternal, true},
		{http.StatusBadGateway, ErrCodeBadGateway, true},
		{http.StatusServiceUnavailable, ErrCodeServiceUnavailable, true},
		{http.StatusGatewayTimeout, ErrCodeTimeout, true},
	}
	for _, tc := range cases {
		err := FromHTTPStatus(tc.status, "")
		if err.Code != tc.code {
			t.Errorf("FromHTTPStatus(%d).Code = %v, want %v", tc.status, err.Code, tc.code)
		}
		if err.Message != http.StatusText(tc.status) {
			t.Errorf("FromHTTPStatus(%d).Message = %q", tc.status, err.Message)
		}
		if IsRetryable(err) != tc.retry {
			t.Errorf("IsRetryable(%d) = %v, want %v", tc.status, !tc.retry, tc.retry)
		}
	}

	if got := FromHTTPStatus(http.StatusNotFound, "Room not found"); got.Message != "Room not found" {
		t.Errorf("server message should be kept, got %q", got.Message)
	}
}

func TestIsRetryable_WrappedAndPlain(t *testing.T) {
	wrapped := fmt.Errorf("failed to join room: %w", NewNetworkError(errors.New("dial tcp")))
	if !IsRetryable(wrapped) {
		t.Error("network errors wrapped with %w should be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	regularErr := errors.New("regular error")

	if !IsAppError(appErr) {
		t.Error("IsAppError() should return true for AppError")
	}
	if IsAppError(regularErr) {
		t.Error("IsAppError() should return false for regular error")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	if result := GetAppError(appErr); result != appErr {
		t.Errorf("GetAppError() = %v, want %v", result, appErr)
	}

	wrapped := fmt.Errorf("outer: %w", appErr)
	if result := GetAppError(wrapped); result != appErr {
		t.Error("GetAppError() should extract AppError from wrapped error")
	}
	if !HasCode(wrapped, ErrCodeInvalidInput) {
		t.Error("HasCode() should see through wrapping")
	}

	if result := GetAppError(errors.New("regular error")); result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
}
