package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	. "runbox/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{LanguageNotSupported, "Programming language not supported"},
		{InvalidParams, "Invalid parameters"},
		{ProcessTerminationUnconfirmed, "Process termination could not be confirmed"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{ValidationFailed, 400},
		{TooManyTestCases, 400},
		{SessionNotFound, 404},
		{ExecutionQueueFull, 429},
		{ServiceUnavailable, 503},
		{EnvironmentCreateFailed, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestWrapfKeepsCause(t *testing.T) {
	cause := errors.New("no space left on device")
	err := Wrapf(cause, EnvironmentIOFailed, "write %s failed", "main.c")

	if err.Code != EnvironmentIOFailed {
		t.Fatalf("Code = %v, want %v", err.Code, EnvironmentIOFailed)
	}
	if !strings.Contains(err.Error(), "write main.c failed") || !strings.Contains(err.Error(), "no space left") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
}

func TestGetCodeThroughFmtWrap(t *testing.T) {
	inner := New(ProcessStartFailed)
	outer := fmt.Errorf("session: %w", inner)

	if got := GetCode(outer); got != ProcessStartFailed {
		t.Fatalf("GetCode() = %v, want %v", got, ProcessStartFailed)
	}
	if !Is(outer, ProcessStartFailed) {
		t.Fatal("expected Is to match wrapped code")
	}
	if got := GetCode(errors.New("plain")); got != InternalServerError {
		t.Fatalf("GetCode(plain) = %v", got)
	}
	if got := GetCode(nil); got != Success {
		t.Fatalf("GetCode(nil) = %v", got)
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("language", "required")
	if err.Code != ValidationFailed {
		t.Fatalf("Code = %v", err.Code)
	}
	if err.Details["field"] != "language" || err.Details["reason"] != "required" {
		t.Fatalf("unexpected details %v", err.Details)
	}
	if err.Error() != "language: required" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestReasonHasNoStack(t *testing.T) {
	err := New(ExecutionSystemError)
	if err.Stack == "" {
		t.Fatal("expected stack to be captured")
	}
	if strings.Contains(Reason(err), "\n") {
		t.Fatalf("reason should be single line, got %q", Reason(err))
	}
	if Reason(nil) != "" {
		t.Fatal("Reason(nil) should be empty")
	}
}
