package services

import (
	"context"
	"fmt"

	"rentwatch/models"
	"rentwatch/storage"
)

// HealthService owns the append-only per-crawl metric history.
type HealthService struct {
	store storage.Store
}

func NewHealthService(store storage.Store) *HealthService {
	return &HealthService{store: store}
}

// Record appends one metric. Metrics are never edited in place.
func (s *HealthService) Record(ctx context.Context, m *models.SourceHealthMetric) error {
	if err := s.store.AppendHealthMetric(ctx, m); err != nil {
		return fmt.Errorf("append health metric: %w", err)
	}
	return nil
}

// Latest returns the most recent metric for a source, or nil if the source
// has never been crawled.
func (s *HealthService) Latest(ctx context.Context, sourceID string) (*models.SourceHealthMetric, error) {
	return s.store.LatestHealthMetric(ctx, sourceID)
}

// History returns metrics latest-first. An empty sourceID returns all
// sources interleaved.
func (s *HealthService) History(ctx context.Context, sourceID string, limit int) ([]models.SourceHealthMetric, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ReadHealthMetrics(ctx, sourceID, limit)
}
