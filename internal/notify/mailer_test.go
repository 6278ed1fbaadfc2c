package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepCompletedPayload(t *testing.T) {
	var got sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/send", r.URL.Path)
		assert.Equal(t, "Bearer mail-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	m := NewMailer(server.URL, "mail-key", zerolog.Nop())
	m.SweepCompleted(context.Background(), "owner@example.com", "free", 12, 2, 95*time.Second)

	assert.Equal(t, "owner@example.com", got.To)
	assert.Equal(t, templateSweepCompleted, got.TemplateID)
	assert.EqualValues(t, 12, got.Variables["accounts_found"])
	assert.EqualValues(t, 2, got.Variables["breaches_found"])
	assert.Equal(t, "free", got.Variables["plan"])
	assert.Equal(t, "1m35s", got.Variables["duration"])
}

func TestSweepFailedPayload(t *testing.T) {
	var got sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	m := NewMailer(server.URL, "mail-key", zerolog.Nop())
	m.SweepFailed(context.Background(), "owner@example.com", "listing failed: auth error")

	assert.Equal(t, templateSweepFailed, got.TemplateID)
	assert.Equal(t, "listing failed: auth error", got.Variables["error"])
}

func TestSendFailureDoesNotPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	server.Close()

	m := NewMailer(server.URL, "mail-key", zerolog.Nop())
	m.SweepCompleted(context.Background(), "owner@example.com", "pro", 1, 0, time.Second)
	m.SweepFailed(context.Background(), "owner@example.com", "boom")
}
