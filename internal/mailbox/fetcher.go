package mailbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/clearslate/sweeper/internal/faults"
	"github.com/clearslate/sweeper/internal/models"
)

const (
	batchSize     = 200
	batchPause    = 500 * time.Millisecond
	workerCount   = 5
	workerPacing  = 50 * time.Millisecond
	retryAttempts = 5
	backoffBase   = 1000 * time.Millisecond
)

// Progress reports fetch completion after each batch.
type Progress struct {
	Processed int
	Total     int
	Percent   int
}

// FetchResult is the unordered metadata plus the count of identifiers that
// ultimately failed and were omitted.
type FetchResult struct {
	Metadata []models.MessageMeta
	Skipped  int
}

// MetadataGetter is the slice of the provider client the fetcher needs.
type MetadataGetter interface {
	GetMessageMetadata(ctx context.Context, accessToken string, id models.MessageID) (models.MessageMeta, error)
}

// Fetcher resolves message identifiers to header metadata under a bounded
// worker pool with rate-limit backoff.
type Fetcher struct {
	tokens TokenRunner
	client MetadataGetter
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a concurrent metadata fetcher.
func NewFetcher(tokens TokenRunner, client MetadataGetter, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		tokens: tokens,
		client: client,
		log:    log.With().Str("component", "fetcher").Logger(),
		sleep:  sleepCtx,
	}
}

// Fetch resolves ids to metadata, best effort. Output order is not the input
// order: batches run in sequence but workers within a batch complete
// unordered. Per-id failures other than auth are logged, counted and
// skipped. An AuthError from any worker aborts the whole fetch so the token
// manager can refresh and re-run it.
func (f *Fetcher) Fetch(ctx context.Context, cred *models.CredentialRecord, ids []models.MessageID, onProgress func(Progress)) (FetchResult, error) {
	var result FetchResult
	err := f.tokens.WithValidCredential(ctx, cred, func(ctx context.Context, accessToken string) error {
		var opErr error
		result, opErr = f.fetch(ctx, accessToken, ids, onProgress)
		return opErr
	})
	if err != nil {
		return FetchResult{}, err
	}
	return result, nil
}

func (f *Fetcher) fetch(ctx context.Context, accessToken string, ids []models.MessageID, onProgress func(Progress)) (FetchResult, error) {
	result := FetchResult{}
	total := len(ids)
	processed := 0

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batch := ids[start:end]

		metas, skipped, err := f.fetchBatch(ctx, accessToken, batch)
		if err != nil {
			return FetchResult{}, err
		}
		result.Metadata = append(result.Metadata, metas...)
		result.Skipped += skipped
		processed += len(batch)

		if onProgress != nil {
			onProgress(Progress{
				Processed: processed,
				Total:     total,
				Percent:   processed * 100 / total,
			})
		}

		if end < total {
			if err := f.sleep(ctx, batchPause); err != nil {
				return FetchResult{}, err
			}
		}
	}

	if result.Skipped > 0 {
		f.log.Warn().Int("skipped", result.Skipped).Int("total", total).Msg("some messages could not be fetched")
	}
	return result, nil
}

// fetchBatch runs the bounded worker pool over one batch. Workers pull the
// next index from a shared cursor; the first AuthError wins as the terminal
// signal once all workers have drained.
func (f *Fetcher) fetchBatch(ctx context.Context, accessToken string, batch []models.MessageID) ([]models.MessageMeta, int, error) {
	var (
		cursor  atomic.Int64
		mu      sync.Mutex
		metas   []models.MessageMeta
		skipped int
		authErr error
		wg      sync.WaitGroup
	)

	workers := workerCount
	if len(batch) < workers {
		workers = len(batch)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				stop := authErr != nil
				mu.Unlock()
				if stop || ctx.Err() != nil {
					return
				}

				i := int(cursor.Add(1)) - 1
				if i >= len(batch) {
					return
				}

				meta, err := f.fetchOne(ctx, accessToken, batch[i])
				mu.Lock()
				switch {
				case err == nil:
					metas = append(metas, meta)
				case faults.IsAuth(err):
					if authErr == nil {
						authErr = err
					}
				default:
					skipped++
					f.log.Debug().Str("message_id", string(batch[i])).Err(err).Msg("skipping message")
				}
				mu.Unlock()

				if err := f.sleep(ctx, workerPacing); err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	if authErr != nil {
		return nil, 0, authErr
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return metas, skipped, nil
}

// fetchOne fetches a single message with exponential backoff on rate-limit
// signals only. Delays follow backoffBase×2^attempt; the attempt cap is
// hard, and auth errors surface immediately without consuming retries.
func (f *Fetcher) fetchOne(ctx context.Context, accessToken string, id models.MessageID) (models.MessageMeta, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		meta, err := f.client.GetMessageMetadata(ctx, accessToken, id)
		if err == nil {
			return meta, nil
		}
		if !faults.IsRateLimit(err) {
			return models.MessageMeta{}, err
		}
		lastErr = err
		if attempt == retryAttempts-1 {
			break
		}
		delay := backoffBase * (1 << attempt)
		f.log.Debug().Str("message_id", string(id)).Dur("delay", delay).Int("attempt", attempt+1).Msg("rate limited, backing off")
		if err := f.sleep(ctx, delay); err != nil {
			return models.MessageMeta{}, err
		}
	}
	return models.MessageMeta{}, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
