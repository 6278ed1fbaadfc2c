package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan is a user's subscription tier. It gates scan depth, time window and
// how many discovered services are persisted.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// JobStatus is the sweep job lifecycle state. Jobs are created externally in
// pending, claimed into processing by the orchestrator and terminate in
// completed or failed. Terminal states are never reopened.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// User model for database.
type User struct {
	ID    uuid.UUID `db:"id"`
	Email string    `db:"email"`
	Plan  Plan      `db:"plan"`
}

// SweepJob is one end-to-end mailbox sweep for one user.
type SweepJob struct {
	ID            uuid.UUID  `db:"id"`
	UserID        uuid.UUID  `db:"user_id"`
	Status        JobStatus  `db:"status"`
	Progress      int        `db:"progress"` // 0..100
	ServicesFound int        `db:"services_found"`
	BreachesFound int        `db:"breaches_found"`
	ErrorKind     string     `db:"error_kind"`
	ErrorMessage  string     `db:"error_message"`
	Stale         bool       `db:"stale"`
	CreatedAt     time.Time  `db:"created_at"`
	StartedAt     *time.Time `db:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"`
}

// CredentialRecord stores OAuth material for a connected mailbox. Token
// columns hold ciphertext only; the vault owns the wire format. Mutated only
// by the token manager after a refresh, never deleted by the sweep core.
type CredentialRecord struct {
	UserID                uuid.UUID `db:"user_id"`
	MailboxAddress        string    `db:"mailbox_address"`
	AccessTokenEncrypted  string    `db:"access_token_enc"`
	RefreshTokenEncrypted string    `db:"refresh_token_enc"` // empty: no refresh possible
	TokenExpiry           time.Time `db:"token_expiry"`
}

// CanonicalService is a known online service keyed by its canonical domain.
// The domain is immutable once created; display attributes are not.
type CanonicalService struct {
	ID           uuid.UUID `db:"id"`
	Domain       string    `db:"domain"`
	DisplayName  string    `db:"display_name"`
	Category     string    `db:"category"`
	LogoURL      string    `db:"logo_url"`
	ContactEmail string    `db:"contact_email"`
	Breached     bool      `db:"breached"`
}

// UserServiceLink connects a user to a discovered service. Fully replaced on
// a full sweep, merged on an incremental one.
type UserServiceLink struct {
	UserID     uuid.UUID `db:"user_id"`
	ServiceID  uuid.UUID `db:"service_id"`
	EmailCount int       `db:"email_count"`
	FirstSeen  time.Time `db:"first_seen"`
	LastSeen   time.Time `db:"last_seen"`
	Confidence int       `db:"confidence"`
}

// UserBreachRecord links a user to a known data breach. Upserted, never
// deleted by the sweep core.
type UserBreachRecord struct {
	UserID      uuid.UUID `db:"user_id"`
	BreachName  string    `db:"breach_name"`
	BreachDate  time.Time `db:"breach_date"`
	DataClasses []string  `db:"data_classes"`
	Description string    `db:"description"`
}

type MessageID string

// MessageMeta is the header metadata extracted for one message. ReceivedAt
// carries the best available timestamp: the provider-assigned received
// instant when present, else the parsed Date header.
type MessageMeta struct {
	ID         MessageID
	From       string
	Subject    string
	Date       string
	ReceivedAt time.Time
}

// ContactConfidence grades how a service contact address was derived.
type ContactConfidence string

const (
	ContactHigh   ContactConfidence = "high"   // support/privacy alias observed in the mail
	ContactMedium ContactConfidence = "medium" // other observed address on the canonical domain
	ContactLow    ContactConfidence = "low"    // synthesized support@domain
)

// DomainAggregate is the transient per-domain grouping the pipeline builds
// before resolution and scoring.
type DomainAggregate struct {
	Domain            string
	EmailCount        int
	FirstSeen         time.Time
	LastSeen          time.Time
	Subjects          []string
	Senders           []string
	ContactEmail      string
	ContactConfidence ContactConfidence
}

// ScoredCandidate is a resolved, scored domain group ready for persistence.
type ScoredCandidate struct {
	Aggregate DomainAggregate
	Service   CanonicalService
	Score     int
}
