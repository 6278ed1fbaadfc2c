// Package mailapi is the HTTP client for the mail provider's message APIs.
package mailapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"github.com/clearslate/sweeper/internal/faults"
	"github.com/clearslate/sweeper/internal/models"
)

// ListPage is one page of message identifiers. NextPageToken is empty on the
// last page.
type ListPage struct {
	IDs           []models.MessageID
	NextPageToken string
}

// ListRequest parameterizes a list-messages call.
type ListRequest struct {
	Query     string
	PageSize  int
	PageToken string
}

// Client talks to the mail provider API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a mail provider client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// ListMessages fetches one page of message identifiers matching the query.
// Spam and trash are always excluded.
func (c *Client) ListMessages(ctx context.Context, accessToken string, req ListRequest) (ListPage, error) {
	url := fmt.Sprintf("%s/users/me/messages", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ListPage{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	q := httpReq.URL.Query()
	q.Set("q", req.Query)
	q.Set("maxResults", strconv.Itoa(req.PageSize))
	q.Set("includeSpamTrash", "false")
	if req.PageToken != "" {
		q.Set("pageToken", req.PageToken)
	}
	httpReq.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ListPage{}, fmt.Errorf("failed to list messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return ListPage{}, faults.FromStatus(resp.StatusCode, string(body))
	}

	var decoded listResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ListPage{}, fmt.Errorf("failed to decode response: %w", err)
	}

	page := ListPage{NextPageToken: decoded.NextPageToken}
	for _, m := range decoded.Messages {
		page.IDs = append(page.IDs, models.MessageID(m.ID))
	}
	return page, nil
}

type messageResponse struct {
	ID           string `json:"id"`
	InternalDate string `json:"internalDate"` // epoch millis as string
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// GetMessageMetadata fetches From, Subject and Date headers for one message.
// The returned ReceivedAt prefers the provider-assigned received instant and
// falls back to the parsed Date header.
func (c *Client) GetMessageMetadata(ctx context.Context, accessToken string, id models.MessageID) (models.MessageMeta, error) {
	url := fmt.Sprintf("%s/users/me/messages/%s", c.baseURL, id)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.MessageMeta{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	q := httpReq.URL.Query()
	q.Set("format", "metadata")
	q.Add("metadataHeaders", "From")
	q.Add("metadataHeaders", "Subject")
	q.Add("metadataHeaders", "Date")
	httpReq.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.MessageMeta{}, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return models.MessageMeta{}, faults.FromStatus(resp.StatusCode, string(body))
	}

	var decoded messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return models.MessageMeta{}, fmt.Errorf("failed to decode message %s: %w", id, err)
	}

	meta := models.MessageMeta{ID: id}
	for _, h := range decoded.Payload.Headers {
		switch h.Name {
		case "From":
			meta.From = h.Value
		case "Subject":
			meta.Subject = h.Value
		case "Date":
			meta.Date = h.Value
		}
	}
	meta.ReceivedAt = bestTimestamp(decoded.InternalDate, meta.Date)
	return meta, nil
}

func bestTimestamp(internalDate, dateHeader string) time.Time {
	if internalDate != "" {
		if ms, err := strconv.ParseInt(internalDate, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	if dateHeader != "" {
		if t, err := mail.ParseDate(dateHeader); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
