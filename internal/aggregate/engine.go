// Package aggregate turns raw message metadata into ranked, scored service
// candidates grouped by canonical domain.
package aggregate

import (
	"context"
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"github.com/clearslate/sweeper/internal/faults"
	"github.com/clearslate/sweeper/internal/models"
)

// ServiceStore resolves and creates canonical service records.
type ServiceStore interface {
	GetServiceByDomain(ctx context.Context, domain string) (models.CanonicalService, bool, error)
	CreateService(ctx context.Context, svc models.CanonicalService) (models.CanonicalService, error)
}

// resolutionTTL bounds the per-sweep cache; a sweep is far shorter than this.
const resolutionTTL = 15 * time.Minute

// Engine groups metadata by canonical domain, resolves services and scores
// candidates.
type Engine struct {
	store ServiceStore
	log   zerolog.Logger
}

// NewEngine builds a domain aggregation engine.
func NewEngine(store ServiceStore, log zerolog.Logger) *Engine {
	return &Engine{
		store: store,
		log:   log.With().Str("component", "aggregate").Logger(),
	}
}

type group struct {
	agg             models.DomainAggregate
	firstSenderName string
	seenSenders     map[string]struct{}
}

// Aggregate produces scored candidates sorted by descending confidence,
// ties keeping arrival order. Spam candidates are discarded. Service
// resolution failures are fatal.
func (e *Engine) Aggregate(ctx context.Context, metas []models.MessageMeta) ([]models.ScoredCandidate, error) {
	groups := make(map[string]*group)
	var order []string

	for _, meta := range metas {
		domain, addr, ok := CanonicalFromSender(meta.From)
		if !ok {
			continue
		}
		g, exists := groups[domain]
		if !exists {
			g = &group{
				agg:             models.DomainAggregate{Domain: domain},
				firstSenderName: SenderName(meta.From),
				seenSenders:     make(map[string]struct{}),
			}
			groups[domain] = g
			order = append(order, domain)
		}

		g.agg.EmailCount++
		if meta.Subject != "" {
			g.agg.Subjects = append(g.agg.Subjects, meta.Subject)
		}
		if _, dup := g.seenSenders[addr]; !dup {
			g.seenSenders[addr] = struct{}{}
			g.agg.Senders = append(g.agg.Senders, addr)
		}
		if !meta.ReceivedAt.IsZero() {
			if g.agg.FirstSeen.IsZero() || meta.ReceivedAt.Before(g.agg.FirstSeen) {
				g.agg.FirstSeen = meta.ReceivedAt
			}
			if meta.ReceivedAt.After(g.agg.LastSeen) {
				g.agg.LastSeen = meta.ReceivedAt
			}
		}
	}

	// One resolution cache per sweep, so each domain hits the store once.
	cache := ttlcache.New[string, models.CanonicalService](
		ttlcache.WithTTL[string, models.CanonicalService](resolutionTTL),
	)

	var candidates []models.ScoredCandidate
	for _, domain := range order {
		g := groups[domain]
		if IsSpam(g.agg) {
			e.log.Debug().Str("domain", domain).Msg("discarding bulk-mail candidate")
			continue
		}

		g.agg.ContactEmail, g.agg.ContactConfidence = contactFor(g.agg)

		svc, err := e.resolveService(ctx, cache, g)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, models.ScoredCandidate{
			Aggregate: g.agg,
			Service:   svc,
			Score:     Score(g.agg),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	e.log.Info().Int("domains", len(order)).Int("candidates", len(candidates)).Msg("aggregation complete")
	return candidates, nil
}

func (e *Engine) resolveService(ctx context.Context, cache *ttlcache.Cache[string, models.CanonicalService], g *group) (models.CanonicalService, error) {
	domain := g.agg.Domain
	if item := cache.Get(domain); item != nil {
		return item.Value(), nil
	}

	svc, found, err := e.store.GetServiceByDomain(ctx, domain)
	if err != nil {
		return models.CanonicalService{}, &faults.ServiceResolutionError{Domain: domain, Err: err}
	}
	if !found {
		svc, err = e.store.CreateService(ctx, models.CanonicalService{
			Domain:       domain,
			DisplayName:  displayNameFor(g.agg, g.firstSenderName),
			Category:     categorize(domain),
			LogoURL:      logoURLFor(domain),
			ContactEmail: g.agg.ContactEmail,
		})
		if err != nil {
			return models.CanonicalService{}, &faults.ServiceResolutionError{Domain: domain, Err: err}
		}
		e.log.Debug().Str("domain", domain).Str("name", svc.DisplayName).Msg("created service record")
	}

	cache.Set(domain, svc, ttlcache.DefaultTTL)
	return svc, nil
}
