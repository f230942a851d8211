package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"rentwatch/models"
)

func apiTestConfig(endpoint string) *models.SourceConfig {
	return &models.SourceConfig{
		ID:   "api-src",
		Kind: models.KindAPI,
		API: &models.APIParams{
			Endpoint: endpoint,
			PageSize: 2,
		},
	}
}

func TestAPIAdapterFetchPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") != "2" {
			t.Errorf("missing per_page param, got %s", r.URL.RawQuery)
		}
		token := r.URL.Query().Get("page_token")
		w.Header().Set("Content-Type", "application/json")
		if token == "" {
			fmt.Fprint(w, `{"items":[{"id":"1"},{"id":"2"}],"next_page_token":"p2"}`)
		} else {
			fmt.Fprint(w, `{"items":[{"id":"3"}],"next_page_token":""}`)
		}
	}))
	defer server.Close()

	adapter := NewAPIAdapter(apiTestConfig(server.URL), server.Client())

	items, next, err := adapter.FetchPage(context.Background(), "")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if next != "p2" {
		t.Fatalf("next = %q, want p2", next)
	}

	items, next, err = adapter.FetchPage(context.Background(), "p2")
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if len(items) != 1 || next != "" {
		t.Fatalf("items = %d, next = %q, want 1 and empty", len(items), next)
	}
}

func TestAPIAdapterStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		rateLimit bool
		transient bool
	}{
		{429, true, false},
		{500, false, true},
		{503, false, true},
		{403, false, false},
		{401, false, false},
	}

	for _, c := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		}))
		adapter := NewAPIAdapter(apiTestConfig(server.URL), server.Client())

		_, _, err := adapter.FetchPage(context.Background(), "")
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", c.status)
		}
		if IsRateLimited(err) != c.rateLimit {
			t.Fatalf("status %d: IsRateLimited = %v, want %v", c.status, IsRateLimited(err), c.rateLimit)
		}
		if c.rateLimit {
			continue
		}
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("status %d: expected FetchError, got %T", c.status, err)
		}
		if fetchErr.Transient != c.transient {
			t.Fatalf("status %d: Transient = %v, want %v", c.status, fetchErr.Transient, c.transient)
		}
	}
}

func TestAPIAdapterNormalize(t *testing.T) {
	adapter := NewAPIAdapter(apiTestConfig("http://unused"), nil)

	raw := json.RawMessage(`{
		"id": "lst-42",
		"url": "https://example.com/lst-42",
		"address": "500 Grand Concourse",
		"unit": "4F",
		"borough": "Bronx",
		"price": "$2,350",
		"beds": 2,
		"baths": "1.5 ba",
		"sqft": 850,
		"images": ["https://cdn.example.com/a.jpg"]
	}`)

	rec, err := adapter.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if rec.SourceListingID != "lst-42" {
		t.Fatalf("id = %s", rec.SourceListingID)
	}
	if rec.Price != 2350 {
		t.Fatalf("price = %d, want 2350 (formatted string parsed)", rec.Price)
	}
	if rec.Baths != 1 {
		t.Fatalf("baths = %d, want 1 (decimal truncated)", rec.Baths)
	}
	if rec.Beds != 2 || rec.SqFt != 850 {
		t.Fatalf("beds/sqft = %d/%d", rec.Beds, rec.SqFt)
	}
	if len(rec.ImageURLs) != 1 {
		t.Fatalf("images = %d, want 1", len(rec.ImageURLs))
	}
}

func TestAPIAdapterNormalizeFieldMap(t *testing.T) {
	cfg := apiTestConfig("http://unused")
	cfg.API.FieldMap = map[string]string{
		"id":      "listingId",
		"address": "streetAddress",
		"price":   "rentAmount",
	}
	adapter := NewAPIAdapter(cfg, nil)

	raw := json.RawMessage(`{"listingId": 9001, "streetAddress": "12 Elm St", "rentAmount": 1800, "beds": 1}`)
	rec, err := adapter.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if rec.SourceListingID != "9001" {
		t.Fatalf("id = %s, want 9001 (numeric id stringified)", rec.SourceListingID)
	}
	if rec.Address != "12 Elm St" {
		t.Fatalf("address = %s", rec.Address)
	}
	if rec.Price != 1800 {
		t.Fatalf("price = %d", rec.Price)
	}
}

func TestAPIAdapterNormalizeRejectsBadItems(t *testing.T) {
	adapter := NewAPIAdapter(apiTestConfig("http://unused"), nil)

	cases := []json.RawMessage{
		json.RawMessage(`"not an object"`),
		json.RawMessage(`{"id": "x", "price": 100}`),                // no address
		json.RawMessage(`{"address": "1 Main St", "price": 1200}`), // no id or url
	}
	for i, raw := range cases {
		_, err := adapter.Normalize(raw)
		if err == nil {
			t.Fatalf("case %d: expected parse error", i)
		}
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("case %d: expected ParseError, got %T", i, err)
		}
	}
}
