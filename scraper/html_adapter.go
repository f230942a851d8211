package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"rentwatch/models"
)

// Fetcher returns the HTML body for a URL. HTTPFetcher does a plain GET;
// BrowserFetcher renders the page first for sources that require JS.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Close()
}

// HTMLAdapter scrapes a paginated HTML search result. Page tokens are page
// numbers ("1", "2", ...); an empty result page ends pagination.
type HTMLAdapter struct {
	cfg     *models.SourceConfig
	fetcher Fetcher
}

func NewHTMLAdapter(cfg *models.SourceConfig, fetcher Fetcher) *HTMLAdapter {
	return &HTMLAdapter{cfg: cfg, fetcher: fetcher}
}

func (a *HTMLAdapter) SourceID() string {
	return a.cfg.ID
}

func (a *HTMLAdapter) Close() {
	a.fetcher.Close()
}

// htmlItem is the intermediate shape extracted from one listing card.
type htmlItem struct {
	Fields map[string]string `json:"fields"`
}

func (a *HTMLAdapter) FetchPage(ctx context.Context, pageToken string) ([]json.RawMessage, string, error) {
	page := 1
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", &ConfigurationError{SourceID: a.cfg.ID, Reason: "bad page token: " + pageToken}
		}
		page = n
	}

	url := strings.ReplaceAll(a.cfg.Direct.SearchURL, "{page}", strconv.Itoa(page))
	body, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, "", &FetchError{URL: url, Transient: true, Err: fmt.Errorf("parse html: %w", err)}
	}

	var items []json.RawMessage
	doc.Find(a.cfg.Direct.ItemSelector).Each(func(_ int, sel *goquery.Selection) {
		item := htmlItem{Fields: make(map[string]string)}
		for field, cssSel := range a.cfg.Direct.Selectors {
			node := sel.Find(cssSel).First()
			switch field {
			case "url":
				if href, ok := node.Attr("href"); ok {
					item.Fields[field] = resolveURL(a.cfg.Direct.BaseURL, href)
				}
			case "image":
				if src, ok := node.Attr("src"); ok {
					item.Fields[field] = resolveURL(a.cfg.Direct.BaseURL, src)
				}
			case "id":
				if id, ok := node.Attr("data-listing-id"); ok {
					item.Fields[field] = id
				} else {
					item.Fields[field] = strings.TrimSpace(node.Text())
				}
			default:
				item.Fields[field] = strings.TrimSpace(node.Text())
			}
		}
		data, err := json.Marshal(item)
		if err != nil {
			return
		}
		items = append(items, data)
	})

	next := ""
	if len(items) > 0 {
		next = strconv.Itoa(page + 1)
	}
	return items, next, nil
}

func (a *HTMLAdapter) Normalize(raw json.RawMessage) (*models.ListingRecord, error) {
	var item htmlItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, &ParseError{SourceID: a.cfg.ID, Reason: "bad item payload", Err: err}
	}

	f := item.Fields
	rec := &models.ListingRecord{
		SourceID:        a.cfg.ID,
		SourceListingID: f["id"],
		SourceURL:       f["url"],
		Address:         f["address"],
		Unit:            f["unit"],
		Neighborhood:    f["neighborhood"],
		Borough:         f["borough"],
		Price:           parseDigits(f["price"]),
		Beds:            parseDigits(f["beds"]),
		Baths:           parseDigits(f["baths"]),
		SqFt:            parseDigits(f["sqft"]),
		Description:     f["description"],
		RawData:         raw,
	}
	if img := f["image"]; img != "" {
		rec.ImageURLs = []string{img}
	}

	if rec.Address == "" {
		return nil, &ParseError{SourceID: a.cfg.ID, Reason: "missing address"}
	}
	if rec.SourceListingID == "" && rec.SourceURL == "" {
		return nil, &ParseError{SourceID: a.cfg.ID, Reason: "no listing id or url"}
	}
	return rec, nil
}

func resolveURL(base, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(ref, "/")
}

// HTTPFetcher fetches pages with a plain (optionally proxied) HTTP client.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(url, resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, &FetchError{URL: url, Transient: true, Err: err}
	}
	return body, nil
}

func (f *HTTPFetcher) Close() {}
