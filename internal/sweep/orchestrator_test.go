package sweep

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearslate/sweeper/internal/breach"
	"github.com/clearslate/sweeper/internal/faults"
	"github.com/clearslate/sweeper/internal/mailbox"
	"github.com/clearslate/sweeper/internal/models"
)

type fakeStore struct {
	job  models.SweepJob
	user models.User
	cred models.CredentialRecord
	last *models.SweepJob

	noJob     bool
	noUser    bool
	noCred    bool
	claimErr  error
	claims    int
	maxClaims int // 0: unlimited

	progress          []int
	completed         bool
	completedFound    int
	completedBreaches int
	failedKind        string
	failedMessage     string
	staleUser         uuid.UUID
	staleSuperseded   uuid.UUID
	staleCalls        int
	replaced          []models.UserServiceLink
	merged            []models.UserServiceLink
	breachRecords     []models.UserBreachRecord
	breachedDomains   []string
}

func (s *fakeStore) ClaimNextJob(ctx context.Context) (models.SweepJob, bool, error) {
	if s.claimErr != nil {
		return models.SweepJob{}, false, s.claimErr
	}
	if s.noJob {
		return models.SweepJob{}, false, nil
	}
	s.claims++
	if s.maxClaims > 0 && s.claims > s.maxClaims {
		return models.SweepJob{}, false, nil
	}
	return s.job, true, nil
}

func (s *fakeStore) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, progress int) error {
	s.progress = append(s.progress, progress)
	return nil
}

func (s *fakeStore) MarkJobCompleted(ctx context.Context, jobID uuid.UUID, servicesFound, breachesFound int) error {
	s.completed = true
	s.completedFound = servicesFound
	s.completedBreaches = breachesFound
	return nil
}

func (s *fakeStore) MarkJobFailed(ctx context.Context, jobID uuid.UUID, kind, message string) error {
	s.failedKind = kind
	s.failedMessage = message
	return nil
}

func (s *fakeStore) MarkJobsStale(ctx context.Context, userID uuid.UUID, supersededBy uuid.UUID) error {
	s.staleUser = userID
	s.staleSuperseded = supersededBy
	s.staleCalls++
	return nil
}

func (s *fakeStore) LatestCompletedJob(ctx context.Context, userID uuid.UUID) (models.SweepJob, bool, error) {
	if s.last == nil {
		return models.SweepJob{}, false, nil
	}
	return *s.last, true, nil
}

func (s *fakeStore) GetUser(ctx context.Context, userID uuid.UUID) (models.User, bool, error) {
	if s.noUser {
		return models.User{}, false, nil
	}
	return s.user, true, nil
}

func (s *fakeStore) GetCredential(ctx context.Context, userID uuid.UUID) (models.CredentialRecord, bool, error) {
	if s.noCred {
		return models.CredentialRecord{}, false, nil
	}
	return s.cred, true, nil
}

func (s *fakeStore) ReplaceUserServices(ctx context.Context, userID uuid.UUID, links []models.UserServiceLink) error {
	s.replaced = links
	return nil
}

func (s *fakeStore) MergeUserServices(ctx context.Context, userID uuid.UUID, links []models.UserServiceLink) error {
	s.merged = links
	return nil
}

func (s *fakeStore) UpsertUserBreaches(ctx context.Context, records []models.UserBreachRecord) error {
	s.breachRecords = records
	return nil
}

func (s *fakeStore) MarkServiceBreached(ctx context.Context, domain string) error {
	s.breachedDomains = append(s.breachedDomains, domain)
	return nil
}

type fakeLister struct {
	ids   []models.MessageID
	since *time.Time
	plan  models.Plan
	err   error
}

func (l *fakeLister) List(ctx context.Context, cred *models.CredentialRecord, plan models.Plan, since *time.Time) ([]models.MessageID, error) {
	l.since = since
	l.plan = plan
	return l.ids, l.err
}

type fakeFetcher struct {
	result mailbox.FetchResult
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, cred *models.CredentialRecord, ids []models.MessageID, onProgress func(mailbox.Progress)) (mailbox.FetchResult, error) {
	if f.err != nil {
		return mailbox.FetchResult{}, f.err
	}
	if onProgress != nil {
		onProgress(mailbox.Progress{Processed: len(ids), Total: len(ids), Percent: 100})
	}
	return f.result, nil
}

type fakeAggregator struct {
	candidates []models.ScoredCandidate
	err        error
}

func (a *fakeAggregator) Aggregate(ctx context.Context, metas []models.MessageMeta) ([]models.ScoredCandidate, error) {
	return a.candidates, a.err
}

type fakeBreaches struct {
	records []breach.Record
}

func (b *fakeBreaches) LookupBreaches(ctx context.Context, mailboxAddress string) []breach.Record {
	return b.records
}

type notification struct {
	kind    string
	mailbox string
	message string
}

type fakeNotifier struct {
	sent []notification
}

func (n *fakeNotifier) SweepCompleted(ctx context.Context, mailboxAddress, planLabel string, servicesFound, breachesFound int, duration time.Duration) {
	n.sent = append(n.sent, notification{kind: "completed", mailbox: mailboxAddress})
}

func (n *fakeNotifier) SweepFailed(ctx context.Context, mailboxAddress, errorMessage string) {
	n.sent = append(n.sent, notification{kind: "failed", mailbox: mailboxAddress, message: errorMessage})
}

type fixture struct {
	store    *fakeStore
	lister   *fakeLister
	fetcher  *fakeFetcher
	engine   *fakeAggregator
	breaches *fakeBreaches
	notifier *fakeNotifier
	orch     *Orchestrator
	now      time.Time
}

func newFixture(t *testing.T, plan models.Plan) *fixture {
	t.Helper()
	userID := uuid.New()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	f := &fixture{
		store: &fakeStore{
			job:  models.SweepJob{ID: uuid.New(), UserID: userID, Status: models.JobProcessing},
			user: models.User{ID: userID, Email: "owner@example.com", Plan: plan},
			cred: models.CredentialRecord{UserID: userID, MailboxAddress: "owner@example.com"},
		},
		lister:   &fakeLister{ids: []models.MessageID{"m1", "m2"}},
		fetcher:  &fakeFetcher{result: mailbox.FetchResult{Metadata: []models.MessageMeta{{ID: "m1"}, {ID: "m2"}}}},
		engine:   &fakeAggregator{},
		breaches: &fakeBreaches{},
		notifier: &fakeNotifier{},
		now:      now,
	}
	f.orch = NewOrchestrator(f.store, f.lister, f.fetcher, f.engine, f.breaches, f.notifier, zerolog.Nop())
	f.orch.now = func() time.Time { return now }
	return f
}

func candidateRange(n int) []models.ScoredCandidate {
	out := make([]models.ScoredCandidate, n)
	for i := range out {
		out[i] = models.ScoredCandidate{
			Aggregate: models.DomainAggregate{Domain: fmt.Sprintf("svc%d.com", i), EmailCount: 1},
			Service:   models.CanonicalService{ID: uuid.New(), Domain: fmt.Sprintf("svc%d.com", i)},
			Score:     100 - i,
		}
	}
	return out
}

func TestProcessNextNoPendingJob(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.store.noJob = true

	claimed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestProcessNextClaimErrorSurfaces(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.store.claimErr = fmt.Errorf("deadlock detected")

	_, err := f.orch.ProcessNext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
}

func TestSweepCompletesAndReplacesOnFullScan(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.engine.candidates = candidateRange(3)

	claimed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.Nil(t, f.lister.since)
	assert.True(t, f.store.completed)
	assert.Equal(t, 3, f.store.completedFound)
	assert.Len(t, f.store.replaced, 3)
	assert.Nil(t, f.store.merged)
	assert.Equal(t, []int{100}, f.store.progress)

	processed, failed := f.orch.Stats()
	assert.EqualValues(t, 1, processed)
	assert.EqualValues(t, 0, failed)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "completed", f.notifier.sent[0].kind)
}

func TestRecentSweepGoesIncremental(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	started := f.now.Add(-3 * time.Hour)
	completed := f.now.Add(-2 * time.Hour)
	f.store.last = &models.SweepJob{
		Status: models.JobCompleted, StartedAt: &started, CompletedAt: &completed,
	}
	f.engine.candidates = candidateRange(2)

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)

	require.NotNil(t, f.lister.since)
	assert.Equal(t, started, *f.lister.since)
	assert.Len(t, f.store.merged, 2)
	assert.Nil(t, f.store.replaced)
}

func TestStaleSweepGoesFull(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	started := f.now.Add(-26 * time.Hour)
	completed := f.now.Add(-25 * time.Hour)
	f.store.last = &models.SweepJob{
		Status: models.JobCompleted, StartedAt: &started, CompletedAt: &completed,
	}
	f.engine.candidates = candidateRange(1)

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.Nil(t, f.lister.since)
	assert.Len(t, f.store.replaced, 1)
	assert.Nil(t, f.store.merged)
}

func TestFreePlanCapsPersistedLinksNotReportedCount(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.engine.candidates = candidateRange(70)

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.store.replaced, freePlanLinkCap)
	assert.Equal(t, 70, f.store.completedFound)
	// The cap keeps the highest-scored candidates.
	assert.Equal(t, 100, f.store.replaced[0].Confidence)
}

func TestProPlanPersistsEverything(t *testing.T) {
	f := newFixture(t, models.PlanPro)
	f.engine.candidates = candidateRange(70)

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.store.replaced, 70)
	assert.Equal(t, models.PlanPro, f.lister.plan)
}

func TestListingFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.lister.err = &faults.AuthError{Status: 401, Detail: "refresh exhausted"}

	claimed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.False(t, f.store.completed)
	assert.Equal(t, "auth", f.store.failedKind)
	assert.Contains(t, f.store.failedMessage, "refresh exhausted")

	_, failed := f.orch.Stats()
	assert.EqualValues(t, 1, failed)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "failed", f.notifier.sent[0].kind)
	assert.Equal(t, "owner@example.com", f.notifier.sent[0].mailbox)
}

func TestUnclassifiedFailureRecordsInternalKind(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.fetcher.err = fmt.Errorf("connection reset by peer")

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "internal", f.store.failedKind)
}

func TestMissingUserFailsPrecondition(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.store.noUser = true

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "precondition", f.store.failedKind)
	// No mailbox known yet, so no failure mail goes out.
	assert.Empty(t, f.notifier.sent)
}

func TestMissingCredentialNotifiesUserEmail(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.store.noCred = true
	f.store.user.Email = "account-owner@example.com"

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "precondition", f.store.failedKind)

	// The user record resolved, so the failure mail goes to its address.
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "failed", f.notifier.sent[0].kind)
	assert.Equal(t, "account-owner@example.com", f.notifier.sent[0].mailbox)
	assert.Contains(t, f.notifier.sent[0].message, "no mailbox connection")
}

func TestBreachesPersistedAndMatchingServicesFlagged(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.engine.candidates = []models.ScoredCandidate{
		{Service: models.CanonicalService{ID: uuid.New(), Domain: "linkedin.com"}, Aggregate: models.DomainAggregate{Domain: "linkedin.com", EmailCount: 4}, Score: 60},
		{Service: models.CanonicalService{ID: uuid.New(), Domain: "spotify.com"}, Aggregate: models.DomainAggregate{Domain: "spotify.com", EmailCount: 2}, Score: 55},
	}
	f.breaches.records = []breach.Record{
		{Name: "LinkedIn", Title: "LinkedIn 2021", Domain: "linkedin.com", BreachDate: time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), DataClasses: []string{"Email addresses"}},
		{Name: "Elsewhere", Domain: "elsewhere.example"},
	}

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)

	require.Len(t, f.store.breachRecords, 2)
	assert.Equal(t, "LinkedIn 2021", f.store.breachRecords[0].BreachName)
	assert.Equal(t, "Elsewhere", f.store.breachRecords[1].BreachName)
	assert.Equal(t, []string{"linkedin.com"}, f.store.breachedDomains)
	assert.Equal(t, 2, f.store.completedBreaches)
}

func TestNoBreachesSkipsPersistence(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.engine.candidates = candidateRange(1)

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, f.store.breachRecords)
	assert.Empty(t, f.store.breachedDomains)
}

func TestCompletedSweepSupersedesPriorJobs(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.engine.candidates = candidateRange(1)

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.staleCalls)
	assert.Equal(t, f.store.job.UserID, f.store.staleUser)
	// The freshly completed job itself stays non-stale.
	assert.Equal(t, f.store.job.ID, f.store.staleSuperseded)
}

func TestFailedSweepLeavesPriorJobsAlone(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.lister.err = &faults.FetchError{Status: 502, Detail: "upstream"}

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.store.staleCalls)
}

func TestLinkTimestampsFallBackToNow(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.engine.candidates = []models.ScoredCandidate{
		{Service: models.CanonicalService{ID: uuid.New(), Domain: "example.com"}, Aggregate: models.DomainAggregate{Domain: "example.com", EmailCount: 1}, Score: 10},
	}

	_, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	require.Len(t, f.store.replaced, 1)
	assert.Equal(t, f.now, f.store.replaced[0].FirstSeen)
	assert.Equal(t, f.now, f.store.replaced[0].LastSeen)
}
