package scraper

import (
	"context"
	"encoding/json"
	"os"

	"rentwatch/httputil"
	"rentwatch/models"
)

// RunState is the terminal/polling state of a run-based service execution.
type RunState string

const (
	RunPending   RunState = "pending"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// Adapter is the fetch+normalize unit for one source. FetchPage drives
// pagination: an empty nextToken means the source is exhausted. Normalize is
// pure and returns a ParseError on malformed input.
type Adapter interface {
	SourceID() string
	FetchPage(ctx context.Context, pageToken string) (items []json.RawMessage, nextToken string, err error)
	Normalize(raw json.RawMessage) (*models.ListingRecord, error)
}

// DatasetAdapter is implemented by run-based service adapters, which produce
// one complete dataset per triggered run instead of paginating live.
type DatasetAdapter interface {
	Adapter
	TriggerRun(ctx context.Context, opts models.CrawlOptions) (string, error)
	RunStatus(ctx context.Context, runID string) (RunState, error)
	FetchAndNormalize(ctx context.Context, opts models.CrawlOptions) ([]*models.ListingRecord, []error, error)
}

// NewAdapter builds the adapter for a source config. Missing kind-specific
// params are a ConfigurationError; a run-based source without its API token
// is an AuthenticationError. Both are fatal before any fetch happens.
func NewAdapter(cfg *models.SourceConfig, clients *httputil.Clients) (Adapter, error) {
	switch cfg.Kind {
	case models.KindAPI:
		if cfg.API == nil || cfg.API.Endpoint == "" {
			return nil, &ConfigurationError{SourceID: cfg.ID, Reason: "api params missing"}
		}
		return NewAPIAdapter(cfg, clients.API), nil
	case models.KindDirectHTML:
		if cfg.Direct == nil || cfg.Direct.SearchURL == "" || cfg.Direct.ItemSelector == "" {
			return nil, &ConfigurationError{SourceID: cfg.ID, Reason: "direct-html params missing"}
		}
		if cfg.Policy.RequiresJS {
			return NewHTMLAdapter(cfg, NewBrowserFetcher()), nil
		}
		return NewHTMLAdapter(cfg, NewHTTPFetcher(clients.Scraping)), nil
	case models.KindRunService:
		if cfg.Run == nil || cfg.Run.Endpoint == "" || cfg.Run.ActorID == "" {
			return nil, &ConfigurationError{SourceID: cfg.ID, Reason: "run-service params missing"}
		}
		tokenEnv := cfg.Run.TokenEnv
		if tokenEnv == "" {
			tokenEnv = "RUN_SERVICE_TOKEN"
		}
		token := os.Getenv(tokenEnv)
		if token == "" {
			return nil, &AuthenticationError{SourceID: cfg.ID, Reason: tokenEnv + " not set"}
		}
		return NewRunAdapter(cfg, clients.API, token), nil
	default:
		return nil, &ConfigurationError{SourceID: cfg.ID, Reason: "unknown kind: " + string(cfg.Kind)}
	}
}
