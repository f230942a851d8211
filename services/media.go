package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"rentwatch/models"
	"rentwatch/storage"
)

// MediaService queues listing photos for the mirror worker.
type MediaService struct {
	store storage.Store
}

func NewMediaService(store storage.Store) *MediaService {
	return &MediaService{store: store}
}

// EnqueueListingPhotos registers each photo URL of a listing. Re-enqueueing
// an already-known URL only refreshes its position.
func (s *MediaService) EnqueueListingPhotos(ctx context.Context, listingID uuid.UUID, urls []string) int {
	queued := 0
	now := time.Now()
	for i, u := range urls {
		if u == "" {
			continue
		}
		asset := &models.MediaAsset{
			ID:          uuid.New(),
			ListingID:   listingID,
			OriginalURL: u,
			Position:    i,
			Status:      models.MediaStatusPending,
			CreatedAt:   now,
		}
		if err := s.store.EnqueueMedia(ctx, asset); err != nil {
			log.Printf("Warning: failed to queue media %s: %v", u, err)
			continue
		}
		queued++
	}
	return queued
}
