package scraper

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"
	"rentwatch/httputil"
	"rentwatch/models"
	"rentwatch/services"
)

// AdapterFactory builds the adapter for a resolved source config. Tests
// substitute stubs here.
type AdapterFactory func(cfg *models.SourceConfig, clients *httputil.Clients) (Adapter, error)

// Orchestrator drives a crawl for one source end to end: adapter fetch,
// normalize, upsert-with-dedup, delisting, health recording.
type Orchestrator struct {
	registry   *services.SourceRegistry
	listings   *services.ListingService
	health     *services.HealthService
	media      *services.MediaService // optional
	clients    *httputil.Clients
	newAdapter AdapterFactory
}

func NewOrchestrator(
	registry *services.SourceRegistry,
	listings *services.ListingService,
	health *services.HealthService,
	clients *httputil.Clients,
) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		listings:   listings,
		health:     health,
		clients:    clients,
		newAdapter: NewAdapter,
	}
}

// SetMediaService enables photo mirroring for upserted listings.
func (o *Orchestrator) SetMediaService(media *services.MediaService) {
	o.media = media
}

// SetAdapterFactory overrides adapter construction (tests).
func (o *Orchestrator) SetAdapterFactory(f AdapterFactory) {
	o.newAdapter = f
}

// crawlState accumulates fetch accounting across a run.
type crawlState struct {
	attempts  int
	successes int
	failures  int
	lastError string
	lastErrAt *time.Time
}

func (cs *crawlState) fail(err error) {
	cs.failures++
	cs.lastError = err.Error()
	now := time.Now()
	cs.lastErrAt = &now
}

// RunCrawl performs a synchronous single-pass crawl of one source.
//
// Fatal failures (unknown source, bad config, missing credentials) abort
// before any store mutation and propagate to the caller. Transient fetch
// failures truncate pagination but keep the items already collected. A run
// that produced zero items never delists: an empty result usually means the
// fetch broke, not that the market cleared.
func (o *Orchestrator) RunCrawl(ctx context.Context, sourceID string, opts models.CrawlOptions) (*models.CrawlResult, error) {
	cfg, err := o.registry.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, &SourceNotFoundError{SourceID: sourceID}
	}

	adapter, err := o.newAdapter(cfg, o.clients)
	if err != nil {
		return nil, err
	}
	if closer, ok := adapter.(interface{ Close() }); ok {
		defer closer.Close()
	}

	result := &models.CrawlResult{Errors: []string{}}
	state := &crawlState{}

	collected, err := o.collect(ctx, cfg, adapter, opts, result, state)
	if err != nil {
		return nil, err
	}
	result.ListingsFound = len(collected)

	if opts.DryRun {
		// Preview only: no upserts, no delisting, no health metric. The
		// delisting count is still estimated so operators can see what a
		// real run would do.
		if len(collected) == 0 {
			result.DelistingSkipped = true
			return result, nil
		}
		activeKeys, err := o.listings.ActiveKeys(ctx, cfg.ID)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return result, nil
		}
		seen := make(map[string]bool, len(collected))
		for _, rec := range collected {
			seen[rec.Key()] = true
		}
		for _, key := range activeKeys {
			if !seen[key] {
				result.DelistedListings++
			}
		}
		return result, nil
	}

	seenKeys := make([]string, 0, len(collected))
	for _, rec := range collected {
		up, err := o.listings.Upsert(ctx, rec)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		seenKeys = append(seenKeys, rec.Key())

		switch {
		case up.Created && up.IsDuplicate:
			result.Duplicates++
		case up.Created:
			result.NewListings++
		default:
			result.UpdatedListings++
		}

		if o.media != nil && up.Created && len(rec.ImageURLs) > 0 {
			o.media.EnqueueListingPhotos(ctx, up.ListingID, rec.ImageURLs)
		}
	}

	// Delisting is evaluated only after every item of this run is upserted,
	// so a listing seen in this run can never be transiently delisted.
	if len(collected) == 0 {
		result.DelistingSkipped = true
		log.Printf("[%s] zero-item run, skipping delisting", cfg.ID)
	} else {
		delisted, err := o.listings.MarkDelisted(ctx, cfg.ID, seenKeys)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.DelistedListings = delisted
		}
	}

	metric := &models.SourceHealthMetric{
		SourceID:         cfg.ID,
		RecordedAt:       time.Now(),
		FetchAttempts:    state.attempts,
		FetchSuccesses:   state.successes,
		FetchFailures:    state.failures,
		ListingsFound:    result.ListingsFound,
		NewListings:      result.NewListings,
		DelistedListings: result.DelistedListings,
		LastError:        state.lastError,
		LastErrorAt:      state.lastErrAt,
	}
	if err := o.health.Record(ctx, metric); err != nil {
		log.Printf("Warning: failed to record health metric for %s: %v", cfg.ID, err)
	}

	log.Printf("[%s] crawl complete: %d found, %d new, %d updated, %d duplicates, %d delisted, %d errors",
		cfg.ID, result.ListingsFound, result.NewListings, result.UpdatedListings,
		result.Duplicates, result.DelistedListings, len(result.Errors))

	return result, nil
}

// collect drives the adapter until exhaustion or the first of maxPages /
// maxListings. A transient fetch failure stops pagination but keeps what was
// already gathered; fatal errors propagate.
func (o *Orchestrator) collect(
	ctx context.Context,
	cfg *models.SourceConfig,
	adapter Adapter,
	opts models.CrawlOptions,
	result *models.CrawlResult,
	state *crawlState,
) ([]*models.ListingRecord, error) {
	if da, ok := adapter.(DatasetAdapter); ok {
		return o.collectDataset(ctx, cfg, da, opts, result, state)
	}

	limiter := pageLimiter(cfg)

	var collected []*models.ListingRecord
	pageToken := ""
	pages := 0

	for {
		if opts.MaxPages > 0 && pages >= opts.MaxPages {
			break
		}
		if opts.MaxListings > 0 && len(collected) >= opts.MaxListings {
			break
		}

		if err := limiter.Wait(ctx); err != nil {
			state.fail(err)
			result.Errors = append(result.Errors, err.Error())
			break
		}

		state.attempts++
		items, next, err := adapter.FetchPage(ctx, pageToken)
		if err != nil {
			if IsFatal(err) {
				return nil, err
			}
			if IsRateLimited(err) {
				result.RateLimited = true
			}
			state.fail(err)
			result.Errors = append(result.Errors, err.Error())
			break
		}
		state.successes++
		pages++

		for _, raw := range items {
			if opts.MaxListings > 0 && len(collected) >= opts.MaxListings {
				break
			}
			rec, err := adapter.Normalize(raw)
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			rec.SourceID = cfg.ID
			rec.SourcePriority = cfg.Priority
			collected = append(collected, rec)
		}

		if next == "" {
			break
		}
		pageToken = next
	}

	return collected, nil
}

func (o *Orchestrator) collectDataset(
	ctx context.Context,
	cfg *models.SourceConfig,
	adapter DatasetAdapter,
	opts models.CrawlOptions,
	result *models.CrawlResult,
	state *crawlState,
) ([]*models.ListingRecord, error) {
	state.attempts++
	records, parseErrs, err := adapter.FetchAndNormalize(ctx, opts)
	if err != nil {
		if IsFatal(err) {
			return nil, err
		}
		if IsRateLimited(err) {
			result.RateLimited = true
		}
		state.fail(err)
		result.Errors = append(result.Errors, err.Error())
		return nil, nil
	}
	state.successes++

	for _, perr := range parseErrs {
		result.Errors = append(result.Errors, perr.Error())
	}
	for _, rec := range records {
		rec.SourceID = cfg.ID
		rec.SourcePriority = cfg.Priority
	}
	return records, nil
}

// pageLimiter derives the inter-request delay from the source's scrape
// policy. The first Wait never blocks.
func pageLimiter(cfg *models.SourceConfig) *rate.Limiter {
	delay := time.Duration(cfg.Policy.DelayMS) * time.Millisecond
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
