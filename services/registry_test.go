package services

import (
	"context"
	"testing"
	"time"

	"rentwatch/models"
	"rentwatch/storage"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		attempts int
		failures int
		want     models.HealthStatus
	}{
		{"mostly failing", 10, 6, models.HealthFailing},
		{"some failures", 10, 3, models.HealthDegraded},
		{"rare failure", 10, 1, models.HealthHealthy},
		{"clean", 10, 0, models.HealthHealthy},
		{"boundary fifty percent", 10, 5, models.HealthDegraded},
		{"boundary twenty percent", 10, 2, models.HealthHealthy},
		{"untried", 0, 0, models.HealthHealthy},
	}

	for _, c := range cases {
		m := &models.SourceHealthMetric{
			FetchAttempts: c.attempts,
			FetchFailures: c.failures,
		}
		if got := Classify(m); got != c.want {
			t.Fatalf("%s: Classify = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestClassifyNilMetric(t *testing.T) {
	if got := Classify(nil); got != models.HealthHealthy {
		t.Fatalf("source with no history should read healthy, got %s", got)
	}
}

func TestHealthStatusUsesLatestMetric(t *testing.T) {
	store := storage.NewMemoryStore()
	health := NewHealthService(store)
	registry := NewSourceRegistry(store, health)
	ctx := context.Background()

	// An old bad run followed by a recent clean run reads healthy.
	old := &models.SourceHealthMetric{
		SourceID:      "src-a",
		RecordedAt:    time.Now().Add(-2 * time.Hour),
		FetchAttempts: 10,
		FetchFailures: 8,
	}
	recent := &models.SourceHealthMetric{
		SourceID:       "src-a",
		RecordedAt:     time.Now(),
		FetchAttempts:  10,
		FetchSuccesses: 10,
	}
	if err := health.Record(ctx, old); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := health.Record(ctx, recent); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	status, err := registry.HealthStatus(ctx, "src-a")
	if err != nil {
		t.Fatalf("health status failed: %v", err)
	}
	if status != models.HealthHealthy {
		t.Fatalf("latest clean run should win, got %s", status)
	}
}

func TestRegistryUpsertAndList(t *testing.T) {
	store := storage.NewMemoryStore()
	registry := NewSourceRegistry(store, NewHealthService(store))
	ctx := context.Background()

	configs := []*models.SourceConfig{
		{ID: "low", Name: "Low Priority", Kind: models.KindAPI, Enabled: true, Priority: 5},
		{ID: "high", Name: "High Priority", Kind: models.KindDirectHTML, Enabled: true, Priority: 1},
		{ID: "off", Name: "Disabled", Kind: models.KindAPI, Enabled: false, Priority: 2},
	}
	for _, cfg := range configs {
		if err := registry.Upsert(ctx, cfg); err != nil {
			t.Fatalf("upsert %s failed: %v", cfg.ID, err)
		}
	}

	got, err := registry.Get(ctx, "high")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.Name != "High Priority" {
		t.Fatalf("unexpected config: %+v", got)
	}

	missing, err := registry.Get(ctx, "nope")
	if err != nil {
		t.Fatalf("get missing failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing source should be (nil, nil)")
	}

	enabled, err := registry.ListSources(ctx, true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled sources, got %d", len(enabled))
	}
	if enabled[0].ID != "high" || enabled[1].ID != "low" {
		t.Fatalf("sources should order by priority, got %s, %s", enabled[0].ID, enabled[1].ID)
	}
}

func TestRegistryUpsertRejectsMissingID(t *testing.T) {
	store := storage.NewMemoryStore()
	registry := NewSourceRegistry(store, NewHealthService(store))

	if err := registry.Upsert(context.Background(), &models.SourceConfig{Name: "anon"}); err == nil {
		t.Fatalf("expected error for config without id")
	}
}
