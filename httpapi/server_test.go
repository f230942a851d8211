package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"rentwatch/config"
	"rentwatch/httputil"
	"rentwatch/models"
	"rentwatch/scheduler"
	"rentwatch/scraper"
	"rentwatch/services"
	"rentwatch/storage"
)

// fixedAdapter serves one in-memory page of listings.
type fixedAdapter struct {
	sourceID string
	items    []json.RawMessage
}

func (a *fixedAdapter) SourceID() string { return a.sourceID }

func (a *fixedAdapter) FetchPage(ctx context.Context, pageToken string) ([]json.RawMessage, string, error) {
	if pageToken != "" {
		return nil, "", nil
	}
	return a.items, "", nil
}

func (a *fixedAdapter) Normalize(raw json.RawMessage) (*models.ListingRecord, error) {
	var item struct {
		ID      string `json:"id"`
		Address string `json:"address"`
		Beds    int    `json:"beds"`
		Price   int    `json:"price"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, &scraper.ParseError{SourceID: a.sourceID, Reason: "bad item", Err: err}
	}
	return &models.ListingRecord{
		SourceListingID: item.ID,
		SourceURL:       "https://example.com/" + item.ID,
		Address:         item.Address,
		Beds:            item.Beds,
		Price:           item.Price,
	}, nil
}

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStore()
	health := services.NewHealthService(store)
	registry := services.NewSourceRegistry(store, health)
	listings := services.NewListingService(store)

	cfg := &models.SourceConfig{
		ID:      "src-a",
		Name:    "Source A",
		Kind:    models.KindAPI,
		Enabled: true,
		API:     &models.APIParams{Endpoint: "https://example.com/api"},
	}
	if err := registry.Upsert(ctx, cfg); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	adapter := &fixedAdapter{
		sourceID: "src-a",
		items: []json.RawMessage{
			json.RawMessage(`{"id":"1","address":"1 First St","beds":1,"price":1500}`),
			json.RawMessage(`{"id":"2","address":"2 Second St","beds":2,"price":2400}`),
		},
	}
	orchestrator := scraper.NewOrchestrator(registry, listings, health, httputil.NewClients(""))
	orchestrator.SetAdapterFactory(func(cfg *models.SourceConfig, clients *httputil.Clients) (scraper.Adapter, error) {
		return adapter, nil
	})

	jobs, err := storage.NewJobStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { jobs.Close() })

	queue := scheduler.NewQueue(orchestrator, jobs, 1, 8)
	queueCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	queue.Start(queueCtx)

	sched := scheduler.New(&config.Config{}, registry, queue, jobs)

	return NewServer(":0", registry, orchestrator, queue, sched, jobs), store
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCrawlEndpointSync(t *testing.T) {
	server, store := newTestServer(t)

	rec := doRequest(t, server, "POST", "/api/crawl/src-a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result models.CrawlResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.ListingsFound != 2 || result.NewListings != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if store.ListingCount() != 2 {
		t.Fatalf("store has %d listings, want 2", store.ListingCount())
	}
}

func TestCrawlEndpointDryRun(t *testing.T) {
	server, store := newTestServer(t)

	rec := doRequest(t, server, "POST", "/api/crawl/src-a", `{"dry_run": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if store.ListingCount() != 0 {
		t.Fatalf("dry run wrote %d listings", store.ListingCount())
	}
}

func TestCrawlEndpointUnknownSource(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, "POST", "/api/crawl/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCrawlEndpointAsync(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, "POST", "/api/crawl/src-a", `{"async": true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["job_id"] == "" {
		t.Fatalf("missing job_id in %v", resp)
	}
	if resp["status"] != "scheduled" && resp["status"] != "already_scheduled" {
		t.Fatalf("unexpected status %q", resp["status"])
	}

	// The job is queryable right away.
	jobRec := doRequest(t, server, "GET", "/api/jobs/"+resp["job_id"], "")
	if jobRec.Code != http.StatusOK {
		t.Fatalf("job lookup status = %d", jobRec.Code)
	}
}

func TestCrawlEndpointAsyncUnknownSource(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, "POST", "/api/crawl/nope", `{"async": true}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestJobNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, "GET", "/api/jobs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListSources(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, "GET", "/api/sources", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var sources []models.SourceConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &sources); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sources) != 1 || sources[0].ID != "src-a" {
		t.Fatalf("unexpected sources: %+v", sources)
	}
}

func TestSourcesHealth(t *testing.T) {
	server, _ := newTestServer(t)

	// Before any crawl: healthy by default.
	rec := doRequest(t, server, "GET", "/api/sources/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var out []sourceHealth
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("entries = %d, want 1", len(out))
	}
	if out[0].Status != models.HealthHealthy {
		t.Fatalf("untried source should be healthy, got %s", out[0].Status)
	}
	if out[0].Latest != nil {
		t.Fatalf("untried source should have no metric")
	}

	// After a crawl the latest metric appears.
	doRequest(t, server, "POST", "/api/crawl/src-a", "")
	rec = doRequest(t, server, "GET", "/api/sources/health", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out[0].Latest == nil || out[0].Latest.ListingsFound != 2 {
		t.Fatalf("expected metric after crawl: %+v", out[0].Latest)
	}
}

func TestSourceHistory(t *testing.T) {
	server, _ := newTestServer(t)

	doRequest(t, server, "POST", "/api/crawl/src-a", "")
	doRequest(t, server, "POST", "/api/crawl/src-a", "")

	rec := doRequest(t, server, "GET", "/api/sources/src-a/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var metrics []models.SourceHealthMetric
	if err := json.Unmarshal(rec.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("metrics = %d, want 2", len(metrics))
	}

	rec = doRequest(t, server, "GET", "/api/sources/nope/history", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown source status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
