package llm

import (
	"errors"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		check     func(error) bool
	}{
		{400, false, func(e error) bool { _, ok := e.(*InvalidRequestError); return ok }},
		{401, false, func(e error) bool { _, ok := e.(*AuthenticationError); return ok }},
		{403, false, func(e error) bool { _, ok := e.(*AuthenticationError); return ok }},
		{408, true, func(e error) bool { _, ok := e.(*RequestTimeoutError); return ok }},
		{413, false, func(e error) bool { _, ok := e.(*ContextLengthError); return ok }},
		{422, false, func(e error) bool { _, ok := e.(*InvalidRequestError); return ok }},
		{429, true, func(e error) bool { _, ok := e.(*RateLimitError); return ok }},
		{500, true, func(e error) bool { _, ok := e.(*ServerError); return ok }},
		{503, true, func(e error) bool { _, ok := e.(*ServerError); return ok }},
		{418, true, func(e error) bool { _, ok := e.(*ProviderError); return ok }},
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "boom", "anthropic", nil)
		if !tt.check(err) {
			t.Errorf("status %d: unexpected error type %T", tt.status, err)
		}
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d: IsRetryable = %v, want %v", tt.status, got, tt.retryable)
		}
	}
}

func TestIsRetryableNilAndUnknown(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsRetryable(errors.New("mystery")) {
		t.Error("unknown errors should default to retryable")
	}
}

func TestServiceErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := &ServiceError{Message: "wrapped", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}
