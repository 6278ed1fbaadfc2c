package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clearslate/sweeper/internal/models"
)

// GetCredential loads the mailbox credential for a user.
func (s *Store) GetCredential(ctx context.Context, userID uuid.UUID) (models.CredentialRecord, bool, error) {
	var cred models.CredentialRecord
	err := s.Pool.QueryRow(ctx, `
		SELECT user_id, mailbox_address, access_token_enc,
		       COALESCE(refresh_token_enc, ''), token_expiry
		FROM mailbox_credentials
		WHERE user_id = $1
	`, userID).Scan(
		&cred.UserID, &cred.MailboxAddress, &cred.AccessTokenEncrypted,
		&cred.RefreshTokenEncrypted, &cred.TokenExpiry,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CredentialRecord{}, false, nil
	}
	if err != nil {
		return models.CredentialRecord{}, false, err
	}
	return cred, true, nil
}

// UpdateCredentialToken persists a refreshed access token and its expiry.
// The refresh token is never touched here.
func (s *Store) UpdateCredentialToken(ctx context.Context, userID uuid.UUID, accessTokenEnc string, expiry time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE mailbox_credentials
		SET access_token_enc = $2, token_expiry = $3
		WHERE user_id = $1
	`, userID, accessTokenEnc, expiry)
	return err
}
