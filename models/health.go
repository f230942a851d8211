package models

import "time"

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthFailing  HealthStatus = "failing"
)

// SourceHealthMetric is one append-only row per crawl attempt. Rows are
// immutable once written.
type SourceHealthMetric struct {
	ID               int64      `json:"id" db:"id"`
	SourceID         string     `json:"source_id" db:"source_id"`
	RecordedAt       time.Time  `json:"recorded_at" db:"recorded_at"`
	FetchAttempts    int        `json:"fetch_attempts" db:"fetch_attempts"`
	FetchSuccesses   int        `json:"fetch_successes" db:"fetch_successes"`
	FetchFailures    int        `json:"fetch_failures" db:"fetch_failures"`
	ListingsFound    int        `json:"listings_found" db:"listings_found"`
	NewListings      int        `json:"new_listings" db:"new_listings"`
	DelistedListings int        `json:"delisted_listings" db:"delisted_listings"`
	LastError        string     `json:"last_error" db:"last_error"`
	LastErrorAt      *time.Time `json:"last_error_at" db:"last_error_at"`
}

// FailureRate is failures over attempts, with attempts floored at 1 so an
// untried source reads as 0.
func (m *SourceHealthMetric) FailureRate() float64 {
	attempts := m.FetchAttempts
	if attempts < 1 {
		attempts = 1
	}
	return float64(m.FetchFailures) / float64(attempts)
}
