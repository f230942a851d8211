package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"rentwatch/models"
	"rentwatch/storage"
)

const (
	maxPhotoBytes    = 50 * 1024 * 1024
	maxMirrorRetries = 3
)

// Uploader pushes a mirrored photo to object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// MediaWorker drains the pending photo queue: download, hash, upload,
// record the storage key.
type MediaWorker struct {
	store      storage.Store
	httpClient *http.Client
	uploader   Uploader
	trigger    chan struct{}
}

func NewMediaWorker(store storage.Store, uploader Uploader) *MediaWorker {
	return &MediaWorker{
		store: store,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		uploader: uploader,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate batch outside the regular interval.
func (w *MediaWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run processes pending photos every interval until ctx is cancelled.
func (w *MediaWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Media worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		case <-w.trigger:
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *MediaWorker) processBatch(ctx context.Context, batchSize int) {
	pending, err := w.store.PendingMedia(ctx, batchSize)
	if err != nil {
		log.Printf("Media worker: query error: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	log.Printf("Media worker: processing %d photo(s)", len(pending))

	var mirrored, failed int
	for i := range pending {
		asset := &pending[i]

		key, hash, err := w.mirror(ctx, asset.OriginalURL)
		if err != nil {
			log.Printf("Media worker: failed %s: %v", asset.OriginalURL, err)
			failed++
			asset.Attempts++
			asset.Status = models.MediaStatusPending
			if asset.Attempts >= maxMirrorRetries {
				asset.Status = models.MediaStatusFailed
			}
			if uerr := w.store.UpdateMediaStatus(ctx, asset); uerr != nil {
				log.Printf("Media worker: update error for %s: %v", asset.ID, uerr)
			}
			continue
		}

		asset.Status = models.MediaStatusMirrored
		asset.StorageKey = &key
		asset.ContentHash = hash
		if err := w.store.UpdateMediaStatus(ctx, asset); err != nil {
			log.Printf("Media worker: update error for %s: %v", asset.ID, err)
			failed++
			continue
		}
		mirrored++

		// Be polite to the photo CDN.
		time.Sleep(200 * time.Millisecond)
	}

	log.Printf("Media worker: mirrored %d, failed %d", mirrored, failed)
}

// mirror downloads one photo and uploads it under a content-addressed key.
func (w *MediaWorker) mirror(ctx context.Context, originalURL string) (key, hash string, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", originalURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return "", "", fmt.Errorf("read body: %w", err)
	}

	sum := sha256.Sum256(data)
	hash = hex.EncodeToString(sum[:])

	contentType := resp.Header.Get("Content-Type")
	ext := guessExtension(originalURL, contentType)
	key = fmt.Sprintf("photos/%s/%s%s", hash[:2], hash, ext)

	if w.uploader != nil {
		if contentType == "" {
			contentType = "image/jpeg"
		}
		if err := w.uploader.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
			return "", "", fmt.Errorf("upload: %w", err)
		}
	}

	return key, hash, nil
}

func guessExtension(url, contentType string) string {
	ext := strings.ToLower(path.Ext(url))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if isImageExt(ext) {
		return ext
	}

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff":
		return true
	}
	return false
}

// NoOpUploader drains uploads without storing them. Used when S3 is not
// configured.
type NoOpUploader struct{}

func (u *NoOpUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	io.Copy(io.Discard, data)
	return nil
}
