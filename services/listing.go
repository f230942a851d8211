package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"rentwatch/identity"
	"rentwatch/models"
	"rentwatch/storage"
)

// ListingService owns the ListingRecord lifecycle: upsert-with-dedup and
// delisting. The orchestrator never mutates records directly.
type ListingService struct {
	store storage.Store
}

func NewListingService(store storage.Store) *ListingService {
	return &ListingService{store: store}
}

// UpsertResult contains the outcome of upserting one normalized record.
type UpsertResult struct {
	ListingID   uuid.UUID
	Created     bool
	IsDuplicate bool
	Relisted    bool
}

// Upsert applies the dedup algorithm:
//
//  1. A record already stored under (source, key) is a same-source
//     re-sighting: mutable fields are refreshed, firstSeenAt is preserved,
//     and a delisted record transitions back to active.
//  2. A record new to its source is checked against canonical records from
//     other sources via the cross-source canonical key. A match makes this
//     record a duplicate referencing the match; earliest-seen canonical wins
//     and is never displaced.
func (s *ListingService) Upsert(ctx context.Context, rec *models.ListingRecord) (*UpsertResult, error) {
	now := time.Now()

	existing, err := s.store.FindListing(ctx, rec.SourceID, rec.Key())
	if err != nil {
		return nil, fmt.Errorf("find listing: %w", err)
	}

	if existing != nil {
		result := &UpsertResult{
			ListingID:   existing.ID,
			IsDuplicate: existing.IsDuplicate,
			Relisted:    existing.Status == models.ListingStatusDelisted,
		}

		existing.Price = rec.Price
		if len(rec.ImageURLs) > 0 {
			existing.ImageURLs = rec.ImageURLs
		}
		if rec.Description != "" {
			existing.Description = rec.Description
		}
		if rec.SourceURL != "" {
			existing.SourceURL = rec.SourceURL
		}
		if rec.RawData != nil {
			existing.RawData = rec.RawData
		}
		existing.Status = models.ListingStatusActive
		existing.DelistedAt = nil
		existing.LastSeenAt = now

		if err := s.store.UpdateListing(ctx, existing); err != nil {
			return nil, fmt.Errorf("update listing: %w", err)
		}
		return result, nil
	}

	rec.ID = uuid.New()
	rec.CanonicalKey = identity.CanonicalKey(rec.Address, rec.Beds, rec.Price)
	rec.Status = models.ListingStatusActive
	rec.FirstSeenAt = now
	rec.LastSeenAt = now
	rec.CreatedAt = now
	rec.UpdatedAt = now

	canonical, err := s.store.FindCanonicalByKey(ctx, rec.CanonicalKey, rec.SourceID)
	if err != nil {
		return nil, fmt.Errorf("find canonical: %w", err)
	}
	if canonical != nil {
		id := canonical.ID
		rec.IsDuplicate = true
		rec.CanonicalID = &id
	}

	if err := s.store.InsertListing(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}

	return &UpsertResult{
		ListingID:   rec.ID,
		Created:     true,
		IsDuplicate: rec.IsDuplicate,
	}, nil
}

// ActiveKeys lists the keys of a source's active canonical records.
func (s *ListingService) ActiveKeys(ctx context.Context, sourceID string) ([]string, error) {
	keys, err := s.store.QueryActiveKeys(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query active keys: %w", err)
	}
	return keys, nil
}

// MarkDelisted transitions every active canonical record of sourceID whose
// key is absent from activeKeys to delisted. Idempotent: a second call with
// the same keys changes nothing.
func (s *ListingService) MarkDelisted(ctx context.Context, sourceID string, activeKeys []string) (int, error) {
	count, err := s.store.MarkListingsDelisted(ctx, sourceID, activeKeys)
	if err != nil {
		return 0, fmt.Errorf("mark delisted: %w", err)
	}
	return count, nil
}
