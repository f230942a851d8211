package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusDelisted ListingStatus = "delisted"
)

// ListingRecord is the canonical shape every adapter normalizes into.
// Records are never deleted; delisting is a status transition.
type ListingRecord struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	SourceID        string          `json:"source_id" db:"source_id"`
	SourceListingID string          `json:"source_listing_id" db:"source_listing_id"` // source-native ID, may be empty
	SourceURL       string          `json:"source_url" db:"source_url"`
	SourcePriority  int             `json:"source_priority" db:"source_priority"`
	Address         string          `json:"address" db:"address"`
	Unit            string          `json:"unit" db:"unit"`
	Neighborhood    string          `json:"neighborhood" db:"neighborhood"`
	Borough         string          `json:"borough" db:"borough"`
	Price           int             `json:"price" db:"price"`
	Beds            int             `json:"beds" db:"beds"`
	Baths           int             `json:"baths" db:"baths"`
	SqFt            int             `json:"sqft" db:"sqft"`
	ImageURLs       []string        `json:"image_urls" db:"image_urls"`
	Description     string          `json:"description" db:"description"`
	CanonicalKey    string          `json:"canonical_key" db:"canonical_key"`
	IsDuplicate     bool            `json:"is_duplicate" db:"is_duplicate"`
	CanonicalID     *uuid.UUID      `json:"canonical_id" db:"canonical_id"` // nil when this record is itself canonical
	Status          ListingStatus   `json:"status" db:"status"`
	FirstSeenAt     time.Time       `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt      time.Time       `json:"last_seen_at" db:"last_seen_at"`
	DelistedAt      *time.Time      `json:"delisted_at" db:"delisted_at"`
	RawData         json.RawMessage `json:"raw_data" db:"raw_data"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Key returns the stable external key for this record within its source:
// the source-native listing ID when present, otherwise the listing URL.
func (r *ListingRecord) Key() string {
	if r.SourceListingID != "" {
		return r.SourceListingID
	}
	return r.SourceURL
}
