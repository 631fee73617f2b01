package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name: "without underlying error",
			appErr: &AppError{
				Code:    CodeNotFound,
				Message: "rental not found",
			},
			expected: "NOT_FOUND: rental not found",
		},
		{
			name: "with underlying error",
			appErr: &AppError{
				Code:    CodeInternal,
				Message: "failed to claim device",
				Err:     errors.New("write conflict"),
			},
			expected: "INTERNAL_ERROR: failed to claim device (caused by: write conflict)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appErr.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	appErr := Internal("wrapped", originalErr)

	if errors.Unwrap(appErr) != originalErr {
		t.Errorf("Unwrap() should return original error")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   string
		status int
	}{
		{"not found", NotFound("Device"), CodeNotFound, http.StatusNotFound},
		{"not found with id", NotFoundWithID("Rental", "abc"), CodeNotFound, http.StatusNotFound},
		{"validation", Validation("bad", nil), CodeValidation, http.StatusUnprocessableEntity},
		{"invalid input", InvalidInput("bad"), CodeInvalidInput, http.StatusBadRequest},
		{"unauthorized", Unauthorized("who"), CodeUnauthorized, http.StatusUnauthorized},
		{"forbidden", Forbidden("no"), CodeForbidden, http.StatusForbidden},
		{"conflict", Conflict("taken"), CodeConflict, http.StatusConflict},
		{"policy violation", PolicyViolation("quota", nil), CodePolicyViolation, http.StatusConflict},
		{"internal", Internal("boom", nil), CodeInternal, http.StatusInternalServerError},
		{"timeout", Timeout("slow"), CodeTimeout, http.StatusGatewayTimeout},
		{"rate limited", RateLimited("slow down"), CodeRateLimited, http.StatusTooManyRequests},
		{"unsupported media type", UnsupportedMediaType("json only"), CodeUnsupportedType, http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, tt.err.Code)
			}
			if tt.err.StatusCode() != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, tt.err.StatusCode())
			}
		})
	}
}

func TestNotFoundWithID_Details(t *testing.T) {
	err := NotFoundWithID("Rental", "12345")

	if err.Details["id"] != "12345" {
		t.Errorf("expected id '12345', got %v", err.Details["id"])
	}
	if err.Details["resource"] != "Rental" {
		t.Errorf("expected resource 'Rental', got %v", err.Details["resource"])
	}
}

func TestPolicyViolation_Details(t *testing.T) {
	err := PolicyViolation("daily usage limit reached", map[string]any{"hours_today": 8.0})

	if err.Details["hours_today"] != 8.0 {
		t.Errorf("expected hours_today detail, got %v", err.Details)
	}
}

func TestIsAppError_Wrapped(t *testing.T) {
	appErr := Conflict("no device available")
	wrapped := fmt.Errorf("transaction failed: %w", appErr)

	if !IsAppError(appErr) {
		t.Errorf("IsAppError() should return true for AppError")
	}
	if !IsAppError(wrapped) {
		t.Errorf("IsAppError() should see through fmt.Errorf wrapping")
	}
	if IsAppError(errors.New("regular error")) {
		t.Errorf("IsAppError() should return false for regular error")
	}
}

func TestAsAppError(t *testing.T) {
	appErr := NotFound("Rental")
	regularErr := errors.New("regular error")

	if AsAppError(appErr) != appErr {
		t.Errorf("AsAppError() should return same AppError")
	}

	result := AsAppError(regularErr)
	if result.Code != CodeInternal {
		t.Errorf("AsAppError() should wrap regular error as internal error")
	}
	if result.Err != regularErr {
		t.Errorf("AsAppError() should wrap the original error")
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", PolicyViolation("cooldown", nil))

	if !HasCode(err, CodePolicyViolation) {
		t.Errorf("HasCode() should match wrapped policy violation")
	}
	if HasCode(err, CodeConflict) {
		t.Errorf("HasCode() should not match a different code")
	}
	if HasCode(errors.New("plain"), CodeInternal) {
		t.Errorf("HasCode() should be false for non-AppError")
	}
}
