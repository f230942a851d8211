package services

import (
	"context"
	"fmt"

	"rentwatch/models"
	"rentwatch/storage"
)

// SourceRegistry reads source configuration and classifies source health.
type SourceRegistry struct {
	store  storage.Store
	health *HealthService
}

func NewSourceRegistry(store storage.Store, health *HealthService) *SourceRegistry {
	return &SourceRegistry{store: store, health: health}
}

// Get resolves one source config; (nil, nil) when absent.
func (r *SourceRegistry) Get(ctx context.Context, id string) (*models.SourceConfig, error) {
	return r.store.GetSource(ctx, id)
}

// ListSources returns configs ordered by priority ascending.
func (r *SourceRegistry) ListSources(ctx context.Context, enabledOnly bool) ([]models.SourceConfig, error) {
	return r.store.ListSources(ctx, enabledOnly)
}

// Upsert writes a source config (used to seed from YAML at startup).
func (r *SourceRegistry) Upsert(ctx context.Context, cfg *models.SourceConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("source config missing id")
	}
	return r.store.UpsertSource(ctx, cfg)
}

// HealthStatus classifies a source from its most recent metric only. A
// source with no history is healthy: untested sources are not penalized.
func (r *SourceRegistry) HealthStatus(ctx context.Context, sourceID string) (models.HealthStatus, error) {
	metric, err := r.health.Latest(ctx, sourceID)
	if err != nil {
		return "", err
	}
	return Classify(metric), nil
}

// LatestMetric returns the most recent health metric for a source, nil when
// none has been recorded.
func (r *SourceRegistry) LatestMetric(ctx context.Context, sourceID string) (*models.SourceHealthMetric, error) {
	return r.health.Latest(ctx, sourceID)
}

// MetricHistory returns a source's recent metrics, latest first.
func (r *SourceRegistry) MetricHistory(ctx context.Context, sourceID string, limit int) ([]models.SourceHealthMetric, error) {
	return r.health.History(ctx, sourceID, limit)
}

// Classify maps one metric onto a health status.
func Classify(m *models.SourceHealthMetric) models.HealthStatus {
	if m == nil {
		return models.HealthHealthy
	}
	rate := m.FailureRate()
	switch {
	case rate > 0.5:
		return models.HealthFailing
	case rate > 0.2:
		return models.HealthDegraded
	default:
		return models.HealthHealthy
	}
}
