package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"rentwatch/models"
)

// APIAdapter pages through a JSON search API. The endpoint is expected to
// return {"items": [...], "next_page_token": "..."}; FieldMap in the source
// params renames item keys when the source's vocabulary differs.
type APIAdapter struct {
	cfg    *models.SourceConfig
	client *http.Client
}

func NewAPIAdapter(cfg *models.SourceConfig, client *http.Client) *APIAdapter {
	return &APIAdapter{cfg: cfg, client: client}
}

func (a *APIAdapter) SourceID() string {
	return a.cfg.ID
}

type apiPageResponse struct {
	Items         []json.RawMessage `json:"items"`
	NextPageToken string            `json:"next_page_token"`
}

func (a *APIAdapter) FetchPage(ctx context.Context, pageToken string) ([]json.RawMessage, string, error) {
	url := a.cfg.API.Endpoint
	sep := "?"
	if containsQuery(url) {
		sep = "&"
	}
	if a.cfg.API.PageSize > 0 {
		url += sep + "per_page=" + strconv.Itoa(a.cfg.API.PageSize)
		sep = "&"
	}
	if pageToken != "" {
		url += sep + "page_token=" + pageToken
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, "", &FetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range a.cfg.API.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", &FetchError{URL: url, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(url, resp); err != nil {
		return nil, "", err
	}

	var page apiPageResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", &FetchError{URL: url, Transient: true, Err: fmt.Errorf("decode: %w", err)}
	}
	return page.Items, page.NextPageToken, nil
}

func (a *APIAdapter) Normalize(raw json.RawMessage) (*models.ListingRecord, error) {
	var item map[string]json.RawMessage
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, &ParseError{SourceID: a.cfg.ID, Reason: "item is not an object", Err: err}
	}

	get := func(field string) json.RawMessage {
		key := field
		if mapped, ok := a.cfg.API.FieldMap[field]; ok {
			key = mapped
		}
		return item[key]
	}

	rec := &models.ListingRecord{
		SourceID:        a.cfg.ID,
		SourceListingID: jsonString(get("id")),
		SourceURL:       jsonString(get("url")),
		Address:         jsonString(get("address")),
		Unit:            jsonString(get("unit")),
		Neighborhood:    jsonString(get("neighborhood")),
		Borough:         jsonString(get("borough")),
		Price:           jsonInt(get("price")),
		Beds:            jsonInt(get("beds")),
		Baths:           jsonInt(get("baths")),
		SqFt:            jsonInt(get("sqft")),
		Description:     jsonString(get("description")),
		RawData:         raw,
	}
	if imgs := get("images"); imgs != nil {
		var urls []string
		if err := json.Unmarshal(imgs, &urls); err == nil {
			rec.ImageURLs = urls
		}
	}

	if rec.Address == "" {
		return nil, &ParseError{SourceID: a.cfg.ID, Reason: "missing address"}
	}
	if rec.SourceListingID == "" && rec.SourceURL == "" {
		return nil, &ParseError{SourceID: a.cfg.ID, Reason: "no listing id or url"}
	}
	return rec, nil
}

// classifyStatus maps HTTP status codes onto the crawl error taxonomy.
func classifyStatus(url string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{URL: url, RetryAfter: 0}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return &FetchError{URL: url, StatusCode: resp.StatusCode, Transient: false}
	case resp.StatusCode >= 500:
		return &FetchError{URL: url, StatusCode: resp.StatusCode, Transient: true}
	default:
		return &FetchError{URL: url, StatusCode: resp.StatusCode, Transient: true}
	}
}

func containsQuery(url string) bool {
	for _, c := range url {
		if c == '?' {
			return true
		}
	}
	return false
}

// jsonString reads a raw JSON value as a string, tolerating numbers.
func jsonString(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

// jsonInt reads a raw JSON value as an int, tolerating quoted and formatted
// numbers ("$2,350").
func jsonInt(raw json.RawMessage) int {
	if raw == nil {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseDigits(s)
	}
	return 0
}

// parseDigits extracts the integer formed by all digit runes in s.
func parseDigits(s string) int {
	result := 0
	seen := false
	for _, c := range s {
		if c >= '0' && c <= '9' {
			result = result*10 + int(c-'0')
			seen = true
		} else if c == '.' && seen {
			// stop at decimals so "1.5 ba" parses as 1
			break
		}
	}
	return result
}
