package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rentwatch/models"
)

// MemoryStore is an in-memory Store used in tests and dry-run tooling. It
// mirrors PostgresStore semantics, including the not-found -> (nil, nil)
// convention.
type MemoryStore struct {
	mu       sync.Mutex
	listings []*models.ListingRecord
	metrics  []models.SourceHealthMetric
	sources  map[string]models.SourceConfig
	media    []*models.MediaAsset
	metricID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources: make(map[string]models.SourceConfig),
	}
}

func clone(r *models.ListingRecord) *models.ListingRecord {
	cp := *r
	cp.ImageURLs = append([]string(nil), r.ImageURLs...)
	if r.CanonicalID != nil {
		id := *r.CanonicalID
		cp.CanonicalID = &id
	}
	if r.DelistedAt != nil {
		t := *r.DelistedAt
		cp.DelistedAt = &t
	}
	return &cp
}

// =============================================================================
// Listings
// =============================================================================

func (s *MemoryStore) FindListing(ctx context.Context, sourceID, key string) (*models.ListingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.listings {
		if r.SourceID == sourceID && r.Key() == key {
			return clone(r), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) InsertListing(ctx context.Context, rec *models.ListingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.listings {
		if r.SourceID == rec.SourceID && r.Key() == rec.Key() {
			return fmt.Errorf("listing already exists: %s/%s", rec.SourceID, rec.Key())
		}
	}
	s.listings = append(s.listings, clone(rec))
	return nil
}

func (s *MemoryStore) UpdateListing(ctx context.Context, rec *models.ListingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.listings {
		if r.ID == rec.ID {
			cp := clone(rec)
			cp.UpdatedAt = time.Now()
			s.listings[i] = cp
			return nil
		}
	}
	return fmt.Errorf("listing not found: %s", rec.ID)
}

func (s *MemoryStore) FindCanonicalByKey(ctx context.Context, canonicalKey, excludeSourceID string) (*models.ListingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*models.ListingRecord
	for _, r := range s.listings {
		if r.CanonicalKey == canonicalKey && !r.IsDuplicate && r.SourceID != excludeSourceID {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].FirstSeenAt.Equal(candidates[j].FirstSeenAt) {
			return candidates[i].FirstSeenAt.Before(candidates[j].FirstSeenAt)
		}
		return candidates[i].SourcePriority < candidates[j].SourcePriority
	})
	return clone(candidates[0]), nil
}

func (s *MemoryStore) QueryActiveKeys(ctx context.Context, sourceID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for _, r := range s.listings {
		if r.SourceID == sourceID && r.Status == models.ListingStatusActive && !r.IsDuplicate {
			keys = append(keys, r.Key())
		}
	}
	return keys, nil
}

func (s *MemoryStore) MarkListingsDelisted(ctx context.Context, sourceID string, activeKeys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]bool, len(activeKeys))
	for _, k := range activeKeys {
		active[k] = true
	}

	now := time.Now()
	count := 0
	for _, r := range s.listings {
		if r.SourceID != sourceID || r.Status != models.ListingStatusActive || r.IsDuplicate {
			continue
		}
		if !active[r.Key()] {
			r.Status = models.ListingStatusDelisted
			r.DelistedAt = &now
			r.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

// =============================================================================
// Health metrics
// =============================================================================

func (s *MemoryStore) AppendHealthMetric(ctx context.Context, m *models.SourceHealthMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metricID++
	m.ID = s.metricID
	s.metrics = append(s.metrics, *m)
	return nil
}

func (s *MemoryStore) ReadHealthMetrics(ctx context.Context, sourceID string, limit int) ([]models.SourceHealthMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.SourceHealthMetric
	for i := len(s.metrics) - 1; i >= 0 && len(out) < limit; i-- {
		if sourceID == "" || s.metrics[i].SourceID == sourceID {
			out = append(out, s.metrics[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestHealthMetric(ctx context.Context, sourceID string) (*models.SourceHealthMetric, error) {
	metrics, err := s.ReadHealthMetrics(ctx, sourceID, 1)
	if err != nil || len(metrics) == 0 {
		return nil, err
	}
	return &metrics[0], nil
}

// =============================================================================
// Source configuration
// =============================================================================

func (s *MemoryStore) GetSource(ctx context.Context, id string) (*models.SourceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.sources[id]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (s *MemoryStore) ListSources(ctx context.Context, enabledOnly bool) ([]models.SourceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.SourceConfig
	for _, cfg := range s.sources {
		if enabledOnly && !cfg.Enabled {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpsertSource(ctx context.Context, cfg *models.SourceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sources[cfg.ID] = *cfg
	return nil
}

// =============================================================================
// Media
// =============================================================================

func (s *MemoryStore) EnqueueMedia(ctx context.Context, m *models.MediaAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.media {
		if existing.ListingID == m.ListingID && existing.OriginalURL == m.OriginalURL {
			existing.Position = m.Position
			m.ID = existing.ID
			return nil
		}
	}
	cp := *m
	s.media = append(s.media, &cp)
	return nil
}

func (s *MemoryStore) PendingMedia(ctx context.Context, limit int) ([]models.MediaAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.MediaAsset
	for _, m := range s.media {
		if m.Status == models.MediaStatusPending && m.Attempts < 3 && len(out) < limit {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateMediaStatus(ctx context.Context, m *models.MediaAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.media {
		if existing.ID == m.ID {
			existing.Status = m.Status
			if m.StorageKey != nil {
				existing.StorageKey = m.StorageKey
			}
			if m.ContentHash != "" {
				existing.ContentHash = m.ContentHash
			}
			existing.Attempts = m.Attempts
			return nil
		}
	}
	return fmt.Errorf("media not found: %s", m.ID)
}

// ListingCount reports the number of stored records; used by tests to assert
// dry runs leave the store untouched.
func (s *MemoryStore) ListingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listings)
}

// AllListings returns a snapshot of every stored record.
func (s *MemoryStore) AllListings() []models.ListingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ListingRecord, 0, len(s.listings))
	for _, r := range s.listings {
		out = append(out, *clone(r))
	}
	return out
}
