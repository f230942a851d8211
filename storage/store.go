package storage

import (
	"context"

	"rentwatch/models"
)

// Store is the persistence surface the orchestrator and services depend on.
// PostgresStore implements it for production; MemoryStore for tests.
type Store interface {
	// Listings
	FindListing(ctx context.Context, sourceID, key string) (*models.ListingRecord, error)
	InsertListing(ctx context.Context, rec *models.ListingRecord) error
	UpdateListing(ctx context.Context, rec *models.ListingRecord) error
	FindCanonicalByKey(ctx context.Context, canonicalKey, excludeSourceID string) (*models.ListingRecord, error)
	QueryActiveKeys(ctx context.Context, sourceID string) ([]string, error)
	MarkListingsDelisted(ctx context.Context, sourceID string, activeKeys []string) (int, error)

	// Health metrics (append-only)
	AppendHealthMetric(ctx context.Context, m *models.SourceHealthMetric) error
	ReadHealthMetrics(ctx context.Context, sourceID string, limit int) ([]models.SourceHealthMetric, error)
	LatestHealthMetric(ctx context.Context, sourceID string) (*models.SourceHealthMetric, error)

	// Source configuration
	GetSource(ctx context.Context, id string) (*models.SourceConfig, error)
	ListSources(ctx context.Context, enabledOnly bool) ([]models.SourceConfig, error)
	UpsertSource(ctx context.Context, cfg *models.SourceConfig) error

	// Media mirroring
	EnqueueMedia(ctx context.Context, m *models.MediaAsset) error
	PendingMedia(ctx context.Context, limit int) ([]models.MediaAsset, error)
	UpdateMediaStatus(ctx context.Context, m *models.MediaAsset) error
}
