package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clearslate/sweeper/internal/models"
)

// GetServiceByDomain looks up a canonical service.
func (s *Store) GetServiceByDomain(ctx context.Context, domain string) (models.CanonicalService, bool, error) {
	var svc models.CanonicalService
	err := s.Pool.QueryRow(ctx, `
		SELECT id, domain, display_name, category, logo_url, contact_email, breached
		FROM services
		WHERE domain = $1
	`, domain).Scan(
		&svc.ID, &svc.Domain, &svc.DisplayName, &svc.Category,
		&svc.LogoURL, &svc.ContactEmail, &svc.Breached,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CanonicalService{}, false, nil
	}
	if err != nil {
		return models.CanonicalService{}, false, err
	}
	return svc, true, nil
}

// CreateService inserts a service record for a newly observed domain. A
// concurrent create for the same domain resolves to the existing row; the
// domain is the immutable identity.
func (s *Store) CreateService(ctx context.Context, svc models.CanonicalService) (models.CanonicalService, error) {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO services (domain, display_name, category, logo_url, contact_email)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (domain) DO UPDATE SET domain = EXCLUDED.domain
		RETURNING id, domain, display_name, category, logo_url, contact_email, breached
	`, svc.Domain, svc.DisplayName, svc.Category, svc.LogoURL, svc.ContactEmail).Scan(
		&svc.ID, &svc.Domain, &svc.DisplayName, &svc.Category,
		&svc.LogoURL, &svc.ContactEmail, &svc.Breached,
	)
	if err != nil {
		return models.CanonicalService{}, err
	}
	return svc, nil
}

// MarkServiceBreached flags a service domain as appearing in breach data.
func (s *Store) MarkServiceBreached(ctx context.Context, domain string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE services SET breached = TRUE WHERE domain = $1`,
		domain,
	)
	return err
}

// ReplaceUserServices replaces all of a user's service links in one
// transaction. Used by full scans.
func (s *Store) ReplaceUserServices(ctx context.Context, userID uuid.UUID, links []models.UserServiceLink) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM user_services WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, link := range links {
		if _, err = tx.Exec(ctx, `
			INSERT INTO user_services (user_id, service_id, email_count, first_seen, last_seen, confidence)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, userID, link.ServiceID, link.EmailCount, link.FirstSeen, link.LastSeen, link.Confidence); err != nil {
			return err
		}
	}
	return nil
}

// MergeUserServices upserts service links, merging counters and widening
// the seen window. Used by incremental scans.
func (s *Store) MergeUserServices(ctx context.Context, userID uuid.UUID, links []models.UserServiceLink) error {
	for _, link := range links {
		_, err := s.Pool.Exec(ctx, `
			INSERT INTO user_services (user_id, service_id, email_count, first_seen, last_seen, confidence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, service_id) DO UPDATE SET
				email_count = user_services.email_count + EXCLUDED.email_count,
				first_seen  = LEAST(user_services.first_seen, EXCLUDED.first_seen),
				last_seen   = GREATEST(user_services.last_seen, EXCLUDED.last_seen),
				confidence  = GREATEST(user_services.confidence, EXCLUDED.confidence)
		`, userID, link.ServiceID, link.EmailCount, link.FirstSeen, link.LastSeen, link.Confidence)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpsertUserBreaches records breach findings, never deleting existing ones.
func (s *Store) UpsertUserBreaches(ctx context.Context, records []models.UserBreachRecord) error {
	for _, rec := range records {
		_, err := s.Pool.Exec(ctx, `
			INSERT INTO user_breaches (user_id, breach_name, breach_date, data_classes, description)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, breach_name) DO UPDATE SET
				breach_date  = EXCLUDED.breach_date,
				data_classes = EXCLUDED.data_classes,
				description  = EXCLUDED.description
		`, rec.UserID, rec.BreachName, rec.BreachDate, rec.DataClasses, rec.Description)
		if err != nil {
			return err
		}
	}
	return nil
}
