// Package breach looks up known data breaches for a mailbox address. Breach
// data is an enrichment: not-found and transient failures both come back as
// "no breaches" so a sweep never fails on it.
package breach

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Record is one known breach affecting an account.
type Record struct {
	Name        string    `json:"Name"`
	Title       string    `json:"Title"`
	Domain      string    `json:"Domain"`
	BreachDate  time.Time `json:"BreachDate"`
	DataClasses []string  `json:"DataClasses"`
	Description string    `json:"Description"`
}

// Client talks to the external breach lookup endpoint.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a breach lookup client.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("component", "breach").Logger(),
	}
}

// LookupBreaches returns the breaches for a mailbox address, possibly empty.
// Never returns an error: absence of data and lookup failure are both "no
// breaches".
func (c *Client) LookupBreaches(ctx context.Context, mailboxAddress string) []Record {
	reqURL := fmt.Sprintf("%s/breachedaccount/%s?truncateResponse=false", c.baseURL, url.PathEscape(mailboxAddress))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to create breach lookup request")
		return nil
	}
	req.Header.Set("hibp-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("breach lookup failed, continuing without breach data")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		c.log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("breach lookup returned error, continuing without breach data")
		return nil
	}

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		c.log.Warn().Err(err).Msg("failed to decode breach response")
		return nil
	}
	return records
}
