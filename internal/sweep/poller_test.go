package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/clearslate/sweeper/internal/models"
)

func TestPollerDrainsPendingJobsOnStartup(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.store.maxClaims = 3
	f.engine.candidates = candidateRange(1)

	p := NewPoller(f.orch, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		processed, _ := f.orch.Stats()
		return processed == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop on context cancellation")
	}
}

func TestPollerStopsDrainingOnClaimError(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	f.store.claimErr = assert.AnError

	p := NewPoller(f.orch, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	p.Run(ctx)

	processed, failed := f.orch.Stats()
	assert.Zero(t, processed)
	assert.Zero(t, failed)
}

func TestPollerStopsWhenContextAlreadyCancelled(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPoller(f.orch, time.Second, zerolog.Nop())
	p.Run(ctx)

	assert.Zero(t, f.store.claims)
}
