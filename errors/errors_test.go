package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		wantCategory ErrorCategory
	}{
		{"network", ErrCodeNetworkErr, CategoryTransient},
		{"timeout", ErrCodeTimeout, CategoryTransient},
		{"rate_limit", ErrCodeRateLimit, CategoryResource},
		{"too_large", ErrCodePayloadTooLarge, CategoryResource},
		{"invalid", ErrCodeInvalidInput, CategoryPermanent},
		{"encoding", ErrCodeEncoding, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg")
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Error() != "msg" {
				t.Errorf("Error() = %q, want %q", err.Error(), "msg")
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeTimeout)
	if err.Error() != "request timed out" {
		t.Errorf("Error() = %q, want %q", err.Error(), "request timed out")
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantCode  ErrorCode
		wantRetry bool
	}{
		{http.StatusTooManyRequests, ErrCodeRateLimit, true},
		{http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, true},
		{http.StatusGatewayTimeout, ErrCodeTimeout, true},
		{http.StatusBadRequest, ErrCodeInvalidInput, false},
		{http.StatusInternalServerError, ErrCodeUnavailable, true},
		{http.StatusServiceUnavailable, ErrCodeUnavailable, true},
		{http.StatusForbidden, ErrCodeRejected, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := FromStatus(tt.status, "POST /events")
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Code() != tt.wantCode {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.wantCode)
			}
			if err.Retryable() != tt.wantRetry {
				t.Errorf("Retryable() = %v, want %v", err.Retryable(), tt.wantRetry)
			}
			if err.Status() != tt.status {
				t.Errorf("Status() = %d, want %d", err.Status(), tt.status)
			}
		})
	}

	if err := FromStatus(http.StatusNoContent, "ok"); err != nil {
		t.Errorf("FromStatus(204) = %v, want nil", err)
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, "sending batch")

	if err.Error() != "sending batch: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Code() != ErrCodeNetworkErr {
		t.Errorf("Code() = %v, want %v", err.Code(), ErrCodeNetworkErr)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error should match its cause")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "message"); err != nil {
		t.Error("Wrap(nil, ...) should return nil")
	}
	if err := WrapWithCode(nil, ErrCodeEncoding, "message"); err != nil {
		t.Error("WrapWithCode(nil, ...) should return nil")
	}
}

func TestWrapContextErrors(t *testing.T) {
	if got := Code(Wrap(context.DeadlineExceeded, "send")); got != ErrCodeTimeout {
		t.Errorf("deadline code = %v, want %v", got, ErrCodeTimeout)
	}
	if got := Code(Wrap(context.Canceled, "send")); got != ErrCodeCanceled {
		t.Errorf("canceled code = %v, want %v", got, ErrCodeCanceled)
	}
}

func TestWrapPreservesClassification(t *testing.T) {
	original := FromStatus(http.StatusTooManyRequests, "POST /events")
	original.metadata = map[string]string{"batch_id": "b-1"}

	wrapped := Wrap(original, "flush")
	if wrapped.Code() != ErrCodeRateLimit {
		t.Errorf("Code() = %v, want %v", wrapped.Code(), ErrCodeRateLimit)
	}
	if wrapped.Status() != http.StatusTooManyRequests {
		t.Errorf("Status() = %d, want 429", wrapped.Status())
	}
	if wrapped.Metadata()["batch_id"] != "b-1" {
		t.Error("wrapped error should keep metadata")
	}
	if !Is(wrapped, ErrCodeRateLimit) {
		t.Error("Is should find the code through the chain")
	}
}

func TestWithRetryableOverride(t *testing.T) {
	err := New(ErrCodeInvalidInput, "bad", WithRetryable(true))
	if !err.Retryable() {
		t.Error("expected override to make error retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if !IsRetryable(fmt.Errorf("plain")) {
		t.Error("unclassified errors are treated as retryable")
	}
	if IsRetryable(New(ErrCodeInvalidInput, "bad")) {
		t.Error("invalid input is not retryable")
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(ErrCodeNetworkErr, "x", WithMetadata("k", "v"))
	md := err.Metadata()
	md["k"] = "changed"
	if err.Metadata()["k"] != "v" {
		t.Error("Metadata() must return a copy")
	}
}

func TestCodeAndCategoryOfPlainError(t *testing.T) {
	plain := fmt.Errorf("plain")
	if Code(plain) != "" {
		t.Errorf("Code(plain) = %q, want empty", Code(plain))
	}
	if Category(plain) != "" {
		t.Errorf("Category(plain) = %q, want empty", Category(plain))
	}
}
