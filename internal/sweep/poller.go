package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const metricsInterval = time.Minute

// Poller periodically looks for claimable jobs and hands them to the
// orchestrator. It holds no state beyond the context it runs under:
// cancelling the context stops it.
type Poller struct {
	orch     *Orchestrator
	interval time.Duration
	log      zerolog.Logger
}

// NewPoller builds a job poller.
func NewPoller(orch *Orchestrator, interval time.Duration, log zerolog.Logger) *Poller {
	return &Poller{
		orch:     orch,
		interval: interval,
		log:      log.With().Str("component", "poller").Logger(),
	}
}

// Run polls until ctx is cancelled. Each tick drains all claimable jobs;
// only one job runs at a time within this process.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info().Dur("interval", p.interval).Msg("job poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	metrics := time.NewTicker(metricsInterval)
	defer metrics.Stop()

	// Drain once at startup rather than waiting a full interval.
	p.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("job poller stopped")
			return
		case <-ticker.C:
			p.drain(ctx)
		case <-metrics.C:
			processed, failed := p.orch.Stats()
			if processed > 0 || failed > 0 {
				p.log.Info().Int64("processed", processed).Int64("failed", failed).Msg("sweep totals")
			}
		}
	}
}

func (p *Poller) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := p.orch.ProcessNext(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("job claim error")
			return
		}
		if !claimed {
			return
		}
	}
}
