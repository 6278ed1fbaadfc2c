// Package notify sends sweep outcome emails through the transactional email
// endpoint. Send failures are logged and never fail a sweep.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	templateSweepCompleted = "sweep-completed"
	templateSweepFailed    = "sweep-failed"
)

// Mailer talks to the transactional email endpoint.
type Mailer struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewMailer creates a transactional email client.
func NewMailer(baseURL, apiKey string, log zerolog.Logger) *Mailer {
	return &Mailer{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("component", "notify").Logger(),
	}
}

type sendRequest struct {
	To         string         `json:"to"`
	TemplateID string         `json:"template_id"`
	Variables  map[string]any `json:"variables"`
}

// SweepCompleted sends the success notification.
func (m *Mailer) SweepCompleted(ctx context.Context, mailboxAddress, planLabel string, servicesFound, breachesFound int, duration time.Duration) {
	m.send(ctx, sendRequest{
		To:         mailboxAddress,
		TemplateID: templateSweepCompleted,
		Variables: map[string]any{
			"accounts_found": servicesFound,
			"breaches_found": breachesFound,
			"plan":           planLabel,
			"duration":       duration.Round(time.Second).String(),
			"mailbox":        mailboxAddress,
		},
	})
}

// SweepFailed sends the failure notification.
func (m *Mailer) SweepFailed(ctx context.Context, mailboxAddress, errorMessage string) {
	m.send(ctx, sendRequest{
		To:         mailboxAddress,
		TemplateID: templateSweepFailed,
		Variables: map[string]any{
			"mailbox": mailboxAddress,
			"error":   errorMessage,
		},
	})
}

func (m *Mailer) send(ctx context.Context, payload sendRequest) {
	body, err := json.Marshal(payload)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to marshal notification")
		return
	}

	url := fmt.Sprintf("%s/v1/send", m.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to create notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Warn().Err(err).Str("template", payload.TemplateID).Msg("failed to send notification")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		m.log.Warn().Int("status", resp.StatusCode).Str("template", payload.TemplateID).Str("body", string(respBody)).Msg("notification rejected")
		return
	}
	m.log.Debug().Str("template", payload.TemplateID).Str("to", payload.To).Msg("notification sent")
}
