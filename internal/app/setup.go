package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clearslate/sweeper/internal/store"
	"github.com/clearslate/sweeper/internal/vault"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Setup database and seed a development user",
	Long:  "Creates database tables and inserts a seed user, credential and pending sweep job for development/testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		db, err := store.Connect(ctx, viper.GetString("database.url"))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()

		fmt.Println("Running migrations...")
		migrationSQL := `
			CREATE EXTENSION IF NOT EXISTS "pgcrypto";

			CREATE TABLE IF NOT EXISTS users (
			    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			    email VARCHAR(255) NOT NULL UNIQUE,
			    plan VARCHAR(16) NOT NULL DEFAULT 'free'
			);

			CREATE TABLE IF NOT EXISTS mailbox_credentials (
			    user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			    mailbox_address VARCHAR(255) NOT NULL,
			    access_token_enc TEXT NOT NULL,
			    refresh_token_enc TEXT,
			    token_expiry TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE IF NOT EXISTS sweep_jobs (
			    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			    status VARCHAR(16) NOT NULL DEFAULT 'pending',
			    progress INT NOT NULL DEFAULT 0,
			    services_found INT NOT NULL DEFAULT 0,
			    breaches_found INT NOT NULL DEFAULT 0,
			    error_kind VARCHAR(32),
			    error_message TEXT,
			    stale BOOLEAN NOT NULL DEFAULT FALSE,
			    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			    started_at TIMESTAMP WITH TIME ZONE,
			    completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_sweep_jobs_status ON sweep_jobs(status, created_at);
			CREATE INDEX IF NOT EXISTS idx_sweep_jobs_user ON sweep_jobs(user_id, status);

			CREATE TABLE IF NOT EXISTS services (
			    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			    domain VARCHAR(255) NOT NULL UNIQUE,
			    display_name VARCHAR(255) NOT NULL,
			    category VARCHAR(64) NOT NULL DEFAULT 'other',
			    logo_url TEXT NOT NULL DEFAULT '',
			    contact_email VARCHAR(255) NOT NULL DEFAULT '',
			    breached BOOLEAN NOT NULL DEFAULT FALSE
			);

			CREATE TABLE IF NOT EXISTS user_services (
			    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			    service_id UUID NOT NULL REFERENCES services(id) ON DELETE CASCADE,
			    email_count INT NOT NULL DEFAULT 0,
			    first_seen TIMESTAMP WITH TIME ZONE NOT NULL,
			    last_seen TIMESTAMP WITH TIME ZONE NOT NULL,
			    confidence INT NOT NULL DEFAULT 0,
			    PRIMARY KEY (user_id, service_id)
			);

			CREATE TABLE IF NOT EXISTS user_breaches (
			    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			    breach_name VARCHAR(255) NOT NULL,
			    breach_date TIMESTAMP WITH TIME ZONE,
			    data_classes TEXT[],
			    description TEXT,
			    PRIMARY KEY (user_id, breach_name)
			);
		`

		if _, err := db.Pool.Exec(ctx, migrationSQL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		fmt.Println("Inserting seed user...")
		seedUserID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		if _, err := db.Pool.Exec(ctx, `
			INSERT INTO users (id, email, plan)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, plan = EXCLUDED.plan
		`, seedUserID, "dev@example.com", "free"); err != nil {
			return fmt.Errorf("failed to insert seed user: %w", err)
		}

		// Seed a placeholder credential so a sweep can be exercised against a
		// fake provider. Tokens are encrypted with the configured vault key.
		tokenVault, err := vault.NewFromHex(viper.GetString("vault.key"))
		if err != nil {
			return fmt.Errorf("failed to initialize token vault: %w", err)
		}
		accessEnc, err := tokenVault.Encrypt("dev-access-token")
		if err != nil {
			return err
		}
		refreshEnc, err := tokenVault.Encrypt("dev-refresh-token")
		if err != nil {
			return err
		}
		if _, err := db.Pool.Exec(ctx, `
			INSERT INTO mailbox_credentials (user_id, mailbox_address, access_token_enc, refresh_token_enc, token_expiry)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO UPDATE SET
				mailbox_address = EXCLUDED.mailbox_address,
				access_token_enc = EXCLUDED.access_token_enc,
				refresh_token_enc = EXCLUDED.refresh_token_enc,
				token_expiry = EXCLUDED.token_expiry
		`, seedUserID, "dev@example.com", accessEnc, refreshEnc, time.Now().Add(time.Hour)); err != nil {
			return fmt.Errorf("failed to insert seed credential: %w", err)
		}

		if _, err := db.Pool.Exec(ctx, `
			INSERT INTO sweep_jobs (user_id) VALUES ($1)
		`, seedUserID); err != nil {
			return fmt.Errorf("failed to insert seed job: %w", err)
		}

		fmt.Printf("✓ Database setup complete. Seed user: %s (dev@example.com, free)\n", seedUserID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
