package models

import (
	"time"

	"github.com/google/uuid"
)

// Media status
const (
	MediaStatusPending  = "pending"
	MediaStatusMirrored = "mirrored"
	MediaStatusFailed   = "failed"
)

// MediaAsset tracks one listing photo queued for mirroring to object storage.
type MediaAsset struct {
	ID          uuid.UUID `json:"id" db:"id"`
	ListingID   uuid.UUID `json:"listing_id" db:"listing_id"`
	OriginalURL string    `json:"original_url" db:"original_url"`
	Position    int       `json:"position" db:"position"`
	StorageKey  *string   `json:"storage_key" db:"storage_key"` // nil until uploaded
	ContentHash string    `json:"content_hash" db:"content_hash"`
	Status      string    `json:"status" db:"status"`
	Attempts    int       `json:"attempts" db:"attempts"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
