// Package sweep drives end-to-end mailbox sweeps: claiming jobs, running the
// listing/fetching/aggregation pipeline and persisting results.
package sweep

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clearslate/sweeper/internal/breach"
	"github.com/clearslate/sweeper/internal/faults"
	"github.com/clearslate/sweeper/internal/mailbox"
	"github.com/clearslate/sweeper/internal/models"
)

const (
	// freshnessWindow decides incremental vs full scans: a completed sweep
	// younger than this makes the next one incremental.
	freshnessWindow = 24 * time.Hour

	// freePlanLinkCap bounds how many scored candidates a free-plan sweep
	// persists. The reported total stays uncapped.
	freePlanLinkCap = 50
)

// Store is the durable state the orchestrator needs.
type Store interface {
	ClaimNextJob(ctx context.Context) (models.SweepJob, bool, error)
	UpdateJobProgress(ctx context.Context, jobID uuid.UUID, progress int) error
	MarkJobCompleted(ctx context.Context, jobID uuid.UUID, servicesFound, breachesFound int) error
	MarkJobFailed(ctx context.Context, jobID uuid.UUID, kind, message string) error
	MarkJobsStale(ctx context.Context, userID uuid.UUID, supersededBy uuid.UUID) error
	LatestCompletedJob(ctx context.Context, userID uuid.UUID) (models.SweepJob, bool, error)
	GetUser(ctx context.Context, userID uuid.UUID) (models.User, bool, error)
	GetCredential(ctx context.Context, userID uuid.UUID) (models.CredentialRecord, bool, error)
	ReplaceUserServices(ctx context.Context, userID uuid.UUID, links []models.UserServiceLink) error
	MergeUserServices(ctx context.Context, userID uuid.UUID, links []models.UserServiceLink) error
	UpsertUserBreaches(ctx context.Context, records []models.UserBreachRecord) error
	MarkServiceBreached(ctx context.Context, domain string) error
}

// Lister enumerates candidate message ids.
type Lister interface {
	List(ctx context.Context, cred *models.CredentialRecord, plan models.Plan, since *time.Time) ([]models.MessageID, error)
}

// Fetcher resolves ids to metadata.
type Fetcher interface {
	Fetch(ctx context.Context, cred *models.CredentialRecord, ids []models.MessageID, onProgress func(mailbox.Progress)) (mailbox.FetchResult, error)
}

// Aggregator scores and ranks domain candidates.
type Aggregator interface {
	Aggregate(ctx context.Context, metas []models.MessageMeta) ([]models.ScoredCandidate, error)
}

// BreachLookup maps a mailbox address to known breaches.
type BreachLookup interface {
	LookupBreaches(ctx context.Context, mailboxAddress string) []breach.Record
}

// Notifier sends sweep outcome emails.
type Notifier interface {
	SweepCompleted(ctx context.Context, mailboxAddress, planLabel string, servicesFound, breachesFound int, duration time.Duration)
	SweepFailed(ctx context.Context, mailboxAddress, errorMessage string)
}

// Orchestrator runs the sweep state machine: pending → processing →
// completed | failed. Failed jobs are never retried automatically.
type Orchestrator struct {
	store    Store
	lister   Lister
	fetcher  Fetcher
	engine   Aggregator
	breaches BreachLookup
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time

	processed atomic.Int64
	failed    atomic.Int64
}

// NewOrchestrator wires the sweep pipeline.
func NewOrchestrator(store Store, lister Lister, fetcher Fetcher, engine Aggregator, breaches BreachLookup, notifier Notifier, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		lister:   lister,
		fetcher:  fetcher,
		engine:   engine,
		breaches: breaches,
		notifier: notifier,
		log:      log.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
	}
}

// Stats returns lifetime processed/failed counters.
func (o *Orchestrator) Stats() (processed, failed int64) {
	return o.processed.Load(), o.failed.Load()
}

// ProcessNext claims and runs at most one pending job. It reports whether a
// job was claimed; pipeline failures are terminal for the job, not for the
// caller.
func (o *Orchestrator) ProcessNext(ctx context.Context) (bool, error) {
	job, found, err := o.store.ClaimNextJob(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if !found {
		return false, nil
	}

	o.processJob(ctx, job)
	return true, nil
}

// processJob runs one sweep with a single top-level failure handler. Partial
// work already persisted before a failure is not rolled back.
func (o *Orchestrator) processJob(ctx context.Context, job models.SweepJob) {
	start := o.now()
	log := o.log.With().Str("job_id", job.ID.String()).Str("user_id", job.UserID.String()).Logger()
	log.Info().Msg("sweep started")

	result, err := o.run(ctx, job)
	if err != nil {
		o.failed.Add(1)
		kind := string(faults.KindOf(err))
		if kind == "" {
			kind = "internal"
		}
		log.Error().Err(err).Str("kind", kind).Msg("sweep failed")
		if markErr := o.store.MarkJobFailed(ctx, job.ID, kind, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("failed to record job failure")
		}
		// Only a missing user row leaves no recipient to notify.
		if result.mailbox != "" {
			o.notifier.SweepFailed(ctx, result.mailbox, err.Error())
		}
		return
	}

	o.processed.Add(1)
	duration := o.now().Sub(start)
	log.Info().
		Int("services_found", result.servicesFound).
		Int("services_persisted", result.servicesPersisted).
		Int("breaches_found", result.breachesFound).
		Int("messages_skipped", result.messagesSkipped).
		Bool("incremental", result.incremental).
		Dur("duration", duration).
		Msg("sweep completed")
	o.notifier.SweepCompleted(ctx, result.mailbox, string(result.plan), result.servicesFound, result.breachesFound, duration)
}

type sweepResult struct {
	mailbox           string
	plan              models.Plan
	incremental       bool
	servicesFound     int
	servicesPersisted int
	breachesFound     int
	messagesSkipped   int
}

func (o *Orchestrator) run(ctx context.Context, job models.SweepJob) (sweepResult, error) {
	var result sweepResult

	user, found, err := o.store.GetUser(ctx, job.UserID)
	if err != nil {
		return result, fmt.Errorf("failed to load user: %w", err)
	}
	if !found {
		return result, &faults.PreconditionError{Detail: "user " + job.UserID.String() + " not found"}
	}
	result.mailbox = user.Email

	cred, found, err := o.store.GetCredential(ctx, job.UserID)
	if err != nil {
		return result, fmt.Errorf("failed to load credential: %w", err)
	}
	if !found {
		return result, &faults.PreconditionError{Detail: "no mailbox connection for user " + job.UserID.String()}
	}
	result.mailbox = cred.MailboxAddress
	result.plan = user.Plan

	since, incremental, err := o.scanWindow(ctx, user.ID)
	if err != nil {
		return result, err
	}
	result.incremental = incremental

	ids, err := o.lister.List(ctx, &cred, user.Plan, since)
	if err != nil {
		return result, fmt.Errorf("listing failed: %w", err)
	}

	fetched, err := o.fetcher.Fetch(ctx, &cred, ids, func(p mailbox.Progress) {
		if err := o.store.UpdateJobProgress(ctx, job.ID, p.Percent); err != nil {
			o.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to update progress")
		}
	})
	if err != nil {
		return result, fmt.Errorf("metadata fetch failed: %w", err)
	}
	result.messagesSkipped = fetched.Skipped

	candidates, err := o.engine.Aggregate(ctx, fetched.Metadata)
	if err != nil {
		return result, err
	}
	result.servicesFound = len(candidates)

	breaches := o.breaches.LookupBreaches(ctx, cred.MailboxAddress)
	result.breachesFound = len(breaches)

	persisted := candidates
	if user.Plan == models.PlanFree && len(persisted) > freePlanLinkCap {
		persisted = persisted[:freePlanLinkCap]
	}
	result.servicesPersisted = len(persisted)

	links := buildLinks(user.ID, persisted, o.now())
	if incremental {
		err = o.store.MergeUserServices(ctx, user.ID, links)
	} else {
		err = o.store.ReplaceUserServices(ctx, user.ID, links)
	}
	if err != nil {
		return result, fmt.Errorf("failed to persist service links: %w", err)
	}

	if err := o.persistBreaches(ctx, user.ID, breaches, persisted); err != nil {
		return result, err
	}

	if err := o.store.MarkJobCompleted(ctx, job.ID, result.servicesFound, result.breachesFound); err != nil {
		return result, fmt.Errorf("failed to complete job: %w", err)
	}
	// Earlier completed sweeps are superseded now. Bookkeeping only, so a
	// failure here does not fail the finished sweep.
	if err := o.store.MarkJobsStale(ctx, user.ID, job.ID); err != nil {
		o.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark previous sweeps stale")
	}
	return result, nil
}

// scanWindow returns the incremental cutoff: the start instant of the most
// recent completed sweep, when that sweep finished inside the freshness
// window. A nil cutoff means a full scan.
func (o *Orchestrator) scanWindow(ctx context.Context, userID uuid.UUID) (*time.Time, bool, error) {
	last, found, err := o.store.LatestCompletedJob(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load previous sweep: %w", err)
	}
	if !found || last.CompletedAt == nil || last.StartedAt == nil {
		return nil, false, nil
	}
	if o.now().Sub(*last.CompletedAt) >= freshnessWindow {
		return nil, false, nil
	}
	return last.StartedAt, true, nil
}

func buildLinks(userID uuid.UUID, candidates []models.ScoredCandidate, now time.Time) []models.UserServiceLink {
	links := make([]models.UserServiceLink, 0, len(candidates))
	for _, c := range candidates {
		firstSeen := c.Aggregate.FirstSeen
		lastSeen := c.Aggregate.LastSeen
		if firstSeen.IsZero() {
			firstSeen = now
		}
		if lastSeen.IsZero() {
			lastSeen = now
		}
		links = append(links, models.UserServiceLink{
			UserID:     userID,
			ServiceID:  c.Service.ID,
			EmailCount: c.Aggregate.EmailCount,
			FirstSeen:  firstSeen,
			LastSeen:   lastSeen,
			Confidence: c.Score,
		})
	}
	return links
}

// persistBreaches upserts the user's breach records and flags services whose
// domain shows up in breach data. Flagging is enrichment; its failures are
// logged, not fatal.
func (o *Orchestrator) persistBreaches(ctx context.Context, userID uuid.UUID, breaches []breach.Record, candidates []models.ScoredCandidate) error {
	if len(breaches) == 0 {
		return nil
	}

	records := make([]models.UserBreachRecord, 0, len(breaches))
	for _, b := range breaches {
		name := b.Title
		if name == "" {
			name = b.Name
		}
		records = append(records, models.UserBreachRecord{
			UserID:      userID,
			BreachName:  name,
			BreachDate:  b.BreachDate,
			DataClasses: b.DataClasses,
			Description: b.Description,
		})
	}
	if err := o.store.UpsertUserBreaches(ctx, records); err != nil {
		return fmt.Errorf("failed to persist breach records: %w", err)
	}

	domains := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		domains[c.Service.Domain] = struct{}{}
	}
	for _, b := range breaches {
		if b.Domain == "" {
			continue
		}
		if _, hit := domains[b.Domain]; !hit {
			continue
		}
		if err := o.store.MarkServiceBreached(ctx, b.Domain); err != nil {
			o.log.Warn().Err(err).Str("domain", b.Domain).Msg("failed to flag breached service")
		}
	}
	return nil
}
