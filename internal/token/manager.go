// Package token guarantees a usable access token around every external call.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clearslate/sweeper/internal/faults"
	"github.com/clearslate/sweeper/internal/models"
	"github.com/clearslate/sweeper/internal/vault"
)

// CredentialStore persists refreshed tokens.
type CredentialStore interface {
	UpdateCredentialToken(ctx context.Context, userID uuid.UUID, accessTokenEnc string, expiry time.Time) error
}

// expirySkew refreshes a token proactively when it is about to lapse, so a
// long listing does not start on a token that dies mid-flight.
const expirySkew = 60 * time.Second

// Manager wraps operations with token decryption and a single
// refresh-and-retry on credential failure.
//
// Two sweeps for the same user refreshing concurrently could overwrite each
// other's token; the one-active-job-per-user invariant upstream is what
// prevents that, not locking here.
type Manager struct {
	vault *vault.Vault
	oauth OAuthClient
	store CredentialStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewManager builds a token lifecycle manager.
func NewManager(v *vault.Vault, oauth OAuthClient, store CredentialStore, log zerolog.Logger) *Manager {
	return &Manager{
		vault: v,
		oauth: oauth,
		store: store,
		log:   log.With().Str("component", "token").Logger(),
		now:   time.Now,
	}
}

// WithValidCredential runs op with a decrypted access token. If the stored
// token has expired it is refreshed up front. If op fails with an AuthError
// and a refresh token exists, the credential is refreshed exactly once and
// the entire op re-run with the new token; a second failure propagates.
// The refreshed token is persisted before the retry; an unsaved token is
// never used.
func (m *Manager) WithValidCredential(ctx context.Context, cred *models.CredentialRecord, op func(ctx context.Context, accessToken string) error) error {
	if cred.TokenExpiry.Before(m.now().Add(expirySkew)) && cred.RefreshTokenEncrypted != "" {
		if err := m.refresh(ctx, cred); err != nil {
			return fmt.Errorf("proactive token refresh failed: %w", err)
		}
	}

	accessToken, err := m.vault.Decrypt(cred.AccessTokenEncrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt access token: %w", err)
	}

	err = op(ctx, accessToken)
	if err == nil || !faults.IsAuth(err) || cred.RefreshTokenEncrypted == "" {
		return err
	}

	m.log.Warn().Str("user_id", cred.UserID.String()).Msg("auth failure, refreshing credential and retrying once")
	if refreshErr := m.refresh(ctx, cred); refreshErr != nil {
		return fmt.Errorf("reactive token refresh failed: %w", refreshErr)
	}
	accessToken, err = m.vault.Decrypt(cred.AccessTokenEncrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt refreshed access token: %w", err)
	}
	return op(ctx, accessToken)
}

// refresh exchanges the refresh token, persists the new ciphertext+expiry,
// and only then updates the in-memory record. Persistence failure aborts.
func (m *Manager) refresh(ctx context.Context, cred *models.CredentialRecord) error {
	refreshToken, err := m.vault.Decrypt(cred.RefreshTokenEncrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	result, err := m.oauth.Refresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	accessEnc, err := m.vault.Encrypt(result.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt new access token: %w", err)
	}
	if err := m.store.UpdateCredentialToken(ctx, cred.UserID, accessEnc, result.Expiry); err != nil {
		return fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	cred.AccessTokenEncrypted = accessEnc
	cred.TokenExpiry = result.Expiry
	m.log.Info().Str("user_id", cred.UserID.String()).Time("expiry", result.Expiry).Msg("credential refreshed")
	return nil
}
