package assistant

import (
	"errors"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		body       string
		want       ErrorKind
	}{
		{
			name:       "rate limit 429",
			statusCode: 429,
			body:       `{"error": {"message": "Rate limit exceeded"}}`,
			want:       ErrKindRateLimit,
		},
		{
			name:       "rate limit wording in 500 body",
			statusCode: 500,
			body:       `{"error": {"message": "Too many requests, slow down"}}`,
			want:       ErrKindRateLimit,
		},
		{
			name:       "auth error 401",
			statusCode: 401,
			body:       `{"error": {"message": "Invalid API key"}}`,
			want:       ErrKindAuth,
		},
		{
			name:       "forbidden 403",
			statusCode: 403,
			body:       `{"error": {"message": "Access denied"}}`,
			want:       ErrKindAuth,
		},
		{
			name:       "bad request 400",
			statusCode: 400,
			body:       `{"error": {"message": "Invalid request"}}`,
			want:       ErrKindBadRequest,
		},
		{
			name:       "not found 404",
			statusCode: 404,
			body:       "",
			want:       ErrKindBadRequest,
		},
		{
			name:       "server error 500",
			statusCode: 500,
			body:       `{"error": {"message": "Internal server error"}}`,
			want:       ErrKindRetryable,
		},
		{
			name:       "bad gateway 502",
			statusCode: 502,
			body:       "",
			want:       ErrKindRetryable,
		},
		{
			name:       "service unavailable 503",
			statusCode: 503,
			body:       "",
			want:       ErrKindRetryable,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classifyStatus(tt.statusCode, tt.body)
			if got != tt.want {
				t.Errorf("classifyStatus(%d) = %s, want %s", tt.statusCode, got, tt.want)
			}
		})
	}
}

func TestErrorKindRetryable(t *testing.T) {
	t.Parallel()

	if !ErrKindRetryable.Retryable() {
		t.Error("retryable kind must be retryable")
	}
	if !ErrKindRateLimit.Retryable() {
		t.Error("rate limit must be retryable")
	}
	for _, kind := range []ErrorKind{ErrKindAuth, ErrKindBadRequest, ErrKindFatal} {
		if kind.Retryable() {
			t.Errorf("%s must not be retryable", kind)
		}
	}
}

func TestTypedErrors(t *testing.T) {
	t.Parallel()

	var authErr *AuthError
	err := error(&AuthError{Err: errors.New("bad key")})
	if !errors.As(err, &authErr) {
		t.Error("errors.As failed for AuthError")
	}

	var dup *DuplicateThreadError
	err = error(&DuplicateThreadError{ExternalID: "conv-1"})
	if !errors.As(err, &dup) {
		t.Error("errors.As failed for DuplicateThreadError")
	}
	if dup.ExternalID != "conv-1" {
		t.Errorf("ExternalID = %q, want %q", dup.ExternalID, "conv-1")
	}
}
