package workers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"rentwatch/models"
	"rentwatch/storage"
)

// captureUploader records uploaded keys and payload sizes.
type captureUploader struct {
	mu      sync.Mutex
	uploads map[string]int
}

func newCaptureUploader() *captureUploader {
	return &captureUploader{uploads: make(map[string]int)}
}

func (u *captureUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads[key] = len(body)
	return nil
}

func enqueuePhoto(t *testing.T, store *storage.MemoryStore, url string) uuid.UUID {
	t.Helper()
	asset := &models.MediaAsset{
		ID:          uuid.New(),
		ListingID:   uuid.New(),
		OriginalURL: url,
		Status:      models.MediaStatusPending,
	}
	if err := store.EnqueueMedia(context.Background(), asset); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return asset.ID
}

func TestMediaWorkerMirrorsPhoto(t *testing.T) {
	payload := []byte("fake jpeg bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	}))
	defer server.Close()

	store := storage.NewMemoryStore()
	enqueuePhoto(t, store, server.URL+"/photo.jpg")

	uploader := newCaptureUploader()
	worker := NewMediaWorker(store, uploader)
	worker.processBatch(context.Background(), 10)

	pending, err := store.PendingMedia(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("queue should drain, %d left", len(pending))
	}

	if len(uploader.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(uploader.uploads))
	}
	for key, size := range uploader.uploads {
		if size != len(payload) {
			t.Fatalf("uploaded %d bytes, want %d", size, len(payload))
		}
		if key[:7] != "photos/" {
			t.Fatalf("unexpected key %s", key)
		}
	}
}

func TestMediaWorkerRetriesThenFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store := storage.NewMemoryStore()
	enqueuePhoto(t, store, server.URL+"/gone.jpg")

	worker := NewMediaWorker(store, &NoOpUploader{})

	// First two batches leave the asset pending with bumped attempts.
	for i := 0; i < 2; i++ {
		worker.processBatch(context.Background(), 10)
		pending, err := store.PendingMedia(context.Background(), 10)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("attempt %d: asset should stay pending", i+1)
		}
		if pending[0].Attempts != i+1 {
			t.Fatalf("attempt %d: attempts = %d", i+1, pending[0].Attempts)
		}
	}

	// Third failure marks it failed and it leaves the queue.
	worker.processBatch(context.Background(), 10)
	pending, err := store.PendingMedia(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("asset should drop out after %d attempts", maxMirrorRetries)
	}
}

func TestGuessExtension(t *testing.T) {
	cases := []struct {
		url         string
		contentType string
		want        string
	}{
		{"https://cdn.example.com/a.png", "", ".png"},
		{"https://cdn.example.com/a.webp?w=640", "image/webp", ".webp"},
		{"https://cdn.example.com/photo", "image/png", ".png"},
		{"https://cdn.example.com/photo", "", ".jpg"},
		{"https://cdn.example.com/doc.pdf", "image/gif", ".gif"},
	}
	for _, c := range cases {
		if got := guessExtension(c.url, c.contentType); got != c.want {
			t.Fatalf("guessExtension(%q, %q) = %q, want %q", c.url, c.contentType, got, c.want)
		}
	}
}
