package faults

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, "Invalid Credentials", KindAuth},
		{"forbidden invalid_grant", http.StatusForbidden, `{"error":"invalid_grant"}`, KindAuth},
		{"forbidden unauthenticated", http.StatusForbidden, "request had UNAUTHENTICATED status", KindAuth},
		{"too many requests", http.StatusTooManyRequests, "slow down", KindRateLimit},
		{"forbidden quota", http.StatusForbidden, "Quota exceeded for quota metric", KindRateLimit},
		{"forbidden rate limit", http.StatusForbidden, "User rate limit exceeded", KindRateLimit},
		{"forbidden other", http.StatusForbidden, "access denied by policy", KindFetch},
		{"server error", http.StatusInternalServerError, "backend unavailable", KindFetch},
		{"not found", http.StatusNotFound, "no such message", KindFetch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromStatus(tt.status, tt.body)
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestKindOfWrappedError(t *testing.T) {
	err := fmt.Errorf("listing aborted: %w", &AuthError{Status: 401, Detail: "expired"})
	assert.Equal(t, KindAuth, KindOf(err))
	assert.True(t, IsAuth(err))
	assert.False(t, IsRateLimit(err))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(fmt.Errorf("connection reset")))
}

func TestServiceResolutionErrorUnwraps(t *testing.T) {
	inner := fmt.Errorf("insert failed")
	err := &ServiceResolutionError{Domain: "spotify.com", Err: inner}
	assert.Equal(t, KindServiceResolution, KindOf(err))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "spotify.com")
}

func TestDetailTruncation(t *testing.T) {
	body := strings.Repeat("x", 1000)
	err := FromStatus(http.StatusInternalServerError, body)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Len(t, fetchErr.Detail, maxDetail+3)
	assert.True(t, strings.HasSuffix(fetchErr.Detail, "..."))
}
