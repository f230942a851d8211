package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"rentwatch/models"
)

// runServiceStub mimics the trigger/poll/dataset HTTP surface of a run-based
// scraping service.
type runServiceStub struct {
	polls       atomic.Int32
	pollsNeeded int32 // polls that report RUNNING before SUCCEEDED
	finalStatus string
	dataset     string
	rejectToken bool
}

func (s *runServiceStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/acts/", func(w http.ResponseWriter, r *http.Request) {
		if s.rejectToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"id":"run-1"}}`)
	})
	mux.HandleFunc("/actor-runs/", func(w http.ResponseWriter, r *http.Request) {
		n := s.polls.Add(1)
		status := s.finalStatus
		if n <= s.pollsNeeded {
			status = "RUNNING"
		}
		fmt.Fprintf(w, `{"data":{"status":%q,"defaultDatasetId":"ds-1"}}`, status)
	})
	mux.HandleFunc("/datasets/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, s.dataset)
	})
	return mux
}

func runTestAdapter(t *testing.T, stub *runServiceStub) (*RunAdapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(stub.handler())
	cfg := &models.SourceConfig{
		ID:   "run-src",
		Kind: models.KindRunService,
		Run: &models.RunParams{
			Endpoint: server.URL,
			ActorID:  "test-actor",
		},
	}
	adapter := NewRunAdapter(cfg, server.Client(), "test-token")
	adapter.pollDelay = time.Millisecond
	return adapter, server
}

func TestRunAdapterFetchAndNormalize(t *testing.T) {
	stub := &runServiceStub{
		pollsNeeded: 2,
		finalStatus: "SUCCEEDED",
		dataset: `[
			{"id":"r-1","url":"https://example.com/r-1","address":"9 Bond St","beds":2,"price":3100,"photos":["https://cdn.example.com/r-1.jpg"]},
			{"id":"r-2","address":""},
			{"id":"r-3","url":"https://example.com/r-3","address":"14 Spring St","beds":1,"price":2700}
		]`,
	}
	adapter, server := runTestAdapter(t, stub)
	defer server.Close()

	records, parseErrs, err := adapter.FetchAndNormalize(context.Background(), models.CrawlOptions{})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if len(parseErrs) != 1 {
		t.Fatalf("parse errors = %d, want 1 (item without address)", len(parseErrs))
	}
	if stub.polls.Load() < 3 {
		t.Fatalf("expected polling until success, got %d polls", stub.polls.Load())
	}

	rec := records[0]
	if rec.SourceListingID != "r-1" || rec.Address != "9 Bond St" || rec.Price != 3100 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.ImageURLs) != 1 {
		t.Fatalf("photos = %v", rec.ImageURLs)
	}
}

func TestRunAdapterMaxListings(t *testing.T) {
	stub := &runServiceStub{
		finalStatus: "SUCCEEDED",
		dataset: `[
			{"id":"r-1","address":"1 A St"},
			{"id":"r-2","address":"2 B St"},
			{"id":"r-3","address":"3 C St"}
		]`,
	}
	adapter, server := runTestAdapter(t, stub)
	defer server.Close()

	records, _, err := adapter.FetchAndNormalize(context.Background(), models.CrawlOptions{MaxListings: 2})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
}

func TestRunAdapterFailedRun(t *testing.T) {
	stub := &runServiceStub{finalStatus: "FAILED"}
	adapter, server := runTestAdapter(t, stub)
	defer server.Close()

	_, _, err := adapter.FetchAndNormalize(context.Background(), models.CrawlOptions{})
	if err == nil {
		t.Fatalf("expected error for failed run")
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %T", err)
	}
	if !fetchErr.Transient {
		t.Fatalf("failed run should be transient (retried next cycle)")
	}
}

func TestRunAdapterRejectedToken(t *testing.T) {
	stub := &runServiceStub{rejectToken: true}
	adapter, server := runTestAdapter(t, stub)
	defer server.Close()

	_, err := adapter.TriggerRun(context.Background(), models.CrawlOptions{})
	if err == nil {
		t.Fatalf("expected error for rejected token")
	}
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %T: %v", err, err)
	}
	if !IsFatal(err) {
		t.Fatalf("auth failure must be fatal")
	}
}

func TestRunAdapterRunStatus(t *testing.T) {
	stub := &runServiceStub{pollsNeeded: 1, finalStatus: "SUCCEEDED"}
	adapter, server := runTestAdapter(t, stub)
	defer server.Close()

	state, err := adapter.RunStatus(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if state != RunPending {
		t.Fatalf("first poll should be pending, got %s", state)
	}

	state, err = adapter.RunStatus(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if state != RunSucceeded {
		t.Fatalf("second poll should be succeeded, got %s", state)
	}
}

func TestRunAdapterNormalizeRaw(t *testing.T) {
	adapter, server := runTestAdapter(t, &runServiceStub{})
	defer server.Close()

	raw := json.RawMessage(`{"id":"r-9","url":"https://example.com/r-9","address":"88 Pine St","unit":"12A","beds":3,"baths":2,"sqft":1400,"price":6500}`)
	rec, err := adapter.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if rec.Unit != "12A" || rec.SqFt != 1400 || rec.Baths != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if string(rec.RawData) != string(raw) {
		t.Fatalf("raw payload should be preserved")
	}
}
