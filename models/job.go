package models

import "time"

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// CrawlOptions bound a single crawl. Zero values mean "no limit".
type CrawlOptions struct {
	MaxPages    int  `json:"max_pages"`
	MaxListings int  `json:"max_listings"`
	DryRun      bool `json:"dry_run"`
}

// CrawlResult summarizes one run of a source.
type CrawlResult struct {
	ListingsFound    int      `json:"listings_found"`
	NewListings      int      `json:"new_listings"`
	UpdatedListings  int      `json:"updated_listings"`
	Duplicates       int      `json:"duplicates"`
	DelistedListings int      `json:"delisted_listings"`
	DelistingSkipped bool     `json:"delisting_skipped"` // zero-item run, delisting not evaluated
	RateLimited      bool     `json:"rate_limited"`
	Errors           []string `json:"errors"`
}

// CrawlJob is an asynchronous crawl request. At most one job per source may
// be queued or running at a time.
type CrawlJob struct {
	ID          string       `json:"id" db:"id"`
	SourceID    string       `json:"source_id" db:"source_id"`
	Priority    int          `json:"priority" db:"priority"`
	State       JobState     `json:"state" db:"state"`
	Options     CrawlOptions `json:"options" db:"options"`
	ScheduledAt time.Time    `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time   `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time   `json:"finished_at" db:"finished_at"`
	Result      *CrawlResult `json:"result,omitempty" db:"result"`
	Error       string       `json:"error,omitempty" db:"error"`
}
