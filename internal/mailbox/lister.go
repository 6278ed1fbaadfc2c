// Package mailbox enumerates candidate messages and fetches their header
// metadata from the mail provider, under the account's token lifecycle.
package mailbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clearslate/sweeper/internal/mailapi"
	"github.com/clearslate/sweeper/internal/models"
)

// TokenRunner wraps an operation with token decryption and the
// single-refresh-on-auth-failure policy. Satisfied by token.Manager.
type TokenRunner interface {
	WithValidCredential(ctx context.Context, cred *models.CredentialRecord, op func(ctx context.Context, accessToken string) error) error
}

const (
	pageSize          = 500
	maxPagesFree      = 8
	maxPagesPro       = 20
	fallbackThreshold = 50

	lookbackFree = 10 * 365 * 24 * time.Hour
	lookbackPro  = 15 * 365 * 24 * time.Hour
)

// Keyword groups for the primary query. Phrases that show up in account
// lifecycle mail: onboarding, verification, security, billing, privacy and
// account management.
var primaryPhrases = []string{
	// onboarding
	"welcome to", "account created", "get started", "thanks for signing up",
	"your new account",
	// verification
	"verify your email", "confirm your email", "activate your account",
	"confirm your account", "verification code",
	// security
	"password reset", "reset your password", "security alert",
	"new sign-in", "two-factor",
	// billing
	"your receipt", "your invoice", "payment confirmation", "subscription",
	// privacy / legal
	"privacy policy", "terms of service", "policy update",
	// account management
	"your account", "account settings", "email preferences",
}

var fallbackSenders = []string{"noreply", "no-reply", "notifications", "account", "do-not-reply"}

var fallbackSubjects = []string{"account", "welcome", "verify", "receipt", "password"}

// MessageLister is the slice of the provider client the lister needs.
type MessageLister interface {
	ListMessages(ctx context.Context, accessToken string, req mailapi.ListRequest) (mailapi.ListPage, error)
}

// Lister enumerates candidate message identifiers for a sweep.
type Lister struct {
	tokens TokenRunner
	client MessageLister
	log    zerolog.Logger
	now    func() time.Time
}

// NewLister builds a paginated lister.
func NewLister(tokens TokenRunner, client MessageLister, log zerolog.Logger) *Lister {
	return &Lister{
		tokens: tokens,
		client: client,
		log:    log.With().Str("component", "lister").Logger(),
		now:    time.Now,
	}
}

// List returns a finite, deduplicated, ordered sequence of message ids.
// A nil since means a full scan over the plan's lookback window; otherwise
// only messages after since are listed. An AuthError from the provider
// propagates through the token manager, which refreshes once and re-runs
// the whole listing.
func (l *Lister) List(ctx context.Context, cred *models.CredentialRecord, plan models.Plan, since *time.Time) ([]models.MessageID, error) {
	var ids []models.MessageID
	err := l.tokens.WithValidCredential(ctx, cred, func(ctx context.Context, accessToken string) error {
		var opErr error
		ids, opErr = l.list(ctx, accessToken, plan, since)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (l *Lister) list(ctx context.Context, accessToken string, plan models.Plan, since *time.Time) ([]models.MessageID, error) {
	dateFilter := l.dateFilter(plan, since)
	maxPages := maxPagesFree
	if plan == models.PlanPro {
		maxPages = maxPagesPro
	}

	seen := make(map[models.MessageID]struct{})
	var ids []models.MessageID
	add := func(pageIDs []models.MessageID) {
		for _, id := range pageIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	primary := primaryQuery(dateFilter)
	if err := l.paginate(ctx, accessToken, primary, maxPages, add); err != nil {
		return nil, err
	}

	if len(ids) < fallbackThreshold {
		l.log.Debug().Int("primary_count", len(ids)).Msg("primary query below threshold, running fallback query")
		fallback := fallbackQuery(dateFilter)
		if err := l.paginate(ctx, accessToken, fallback, maxPages, add); err != nil {
			return nil, err
		}
	}

	l.log.Info().Int("candidates", len(ids)).Msg("message listing complete")
	return ids, nil
}

// paginate follows the continuation cursor until exhaustion or the page cap.
func (l *Lister) paginate(ctx context.Context, accessToken, query string, maxPages int, add func([]models.MessageID)) error {
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		result, err := l.client.ListMessages(ctx, accessToken, mailapi.ListRequest{
			Query:     query,
			PageSize:  pageSize,
			PageToken: pageToken,
		})
		if err != nil {
			return fmt.Errorf("listing aborted on page %d: %w", page+1, err)
		}
		add(result.IDs)
		if result.NextPageToken == "" {
			return nil
		}
		pageToken = result.NextPageToken
	}
	return nil
}

func (l *Lister) dateFilter(plan models.Plan, since *time.Time) string {
	if since != nil {
		return fmt.Sprintf("after:%d", since.Unix())
	}
	lookback := lookbackFree
	if plan == models.PlanPro {
		lookback = lookbackPro
	}
	return fmt.Sprintf("after:%d", l.now().Add(-lookback).Unix())
}

func primaryQuery(dateFilter string) string {
	quoted := make([]string, len(primaryPhrases))
	for i, p := range primaryPhrases {
		quoted[i] = `"` + p + `"`
	}
	return fmt.Sprintf("(%s) -category:promotions %s", strings.Join(quoted, " OR "), dateFilter)
}

func fallbackQuery(dateFilter string) string {
	return fmt.Sprintf("from:(%s) subject:(%s) -category:promotions -category:forums %s",
		strings.Join(fallbackSenders, " OR "),
		strings.Join(fallbackSubjects, " OR "),
		dateFilter)
}
