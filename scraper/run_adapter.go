package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"rentwatch/models"
)

const (
	runPollTimeout = 15 * time.Minute
	runPollDelay   = 10 * time.Second
)

// RunAdapter drives an Apify-style run-based scraping service: trigger an
// actor run, poll until it reaches a terminal state, then read the run's
// dataset in one shot. It does not paginate live; FetchPage returns the whole
// dataset as a single page.
type RunAdapter struct {
	cfg    *models.SourceConfig
	client *http.Client
	token  string

	pollDelay time.Duration // overridable in tests
}

func NewRunAdapter(cfg *models.SourceConfig, client *http.Client, token string) *RunAdapter {
	return &RunAdapter{cfg: cfg, client: client, token: token, pollDelay: runPollDelay}
}

func (a *RunAdapter) SourceID() string {
	return a.cfg.ID
}

// TriggerRun starts a service run and returns its id.
func (a *RunAdapter) TriggerRun(ctx context.Context, opts models.CrawlOptions) (string, error) {
	input := map[string]interface{}{
		"source": a.cfg.ID,
	}
	maxListings := a.cfg.Run.MaxListings
	if opts.MaxListings > 0 && (maxListings == 0 || opts.MaxListings < maxListings) {
		maxListings = opts.MaxListings
	}
	if maxListings > 0 {
		input["maxItems"] = maxListings
	}
	body, _ := json.Marshal(input)

	url := fmt.Sprintf("%s/acts/%s/runs?token=%s", a.cfg.Run.Endpoint, a.cfg.Run.ActorID, a.token)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &AuthenticationError{SourceID: a.cfg.ID, Reason: fmt.Sprintf("run service rejected token (%d)", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &FetchError{URL: url, StatusCode: resp.StatusCode, Transient: true, Err: fmt.Errorf("start run: %s", respBody)}
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &FetchError{URL: url, Transient: true, Err: err}
	}
	return result.Data.ID, nil
}

// RunStatus polls one run.
func (a *RunAdapter) RunStatus(ctx context.Context, runID string) (RunState, error) {
	_, state, err := a.runInfo(ctx, runID)
	return state, err
}

func (a *RunAdapter) runInfo(ctx context.Context, runID string) (datasetID string, state RunState, err error) {
	url := fmt.Sprintf("%s/actor-runs/%s?token=%s", a.cfg.Run.Endpoint, runID, a.token)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", RunFailed, &FetchError{URL: url, Err: err}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", RunPending, &FetchError{URL: url, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	var result struct {
		Data struct {
			Status           string `json:"status"`
			DefaultDatasetID string `json:"defaultDatasetId"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", RunPending, &FetchError{URL: url, Transient: true, Err: err}
	}

	switch result.Data.Status {
	case "SUCCEEDED":
		return result.Data.DefaultDatasetID, RunSucceeded, nil
	case "FAILED", "ABORTED", "TIMED-OUT":
		return "", RunFailed, nil
	default:
		return "", RunPending, nil
	}
}

// FetchAndNormalize runs the service end to end: trigger, poll, read the
// dataset, normalize every item. Per-item parse failures come back in the
// second return value and do not fail the fetch.
func (a *RunAdapter) FetchAndNormalize(ctx context.Context, opts models.CrawlOptions) ([]*models.ListingRecord, []error, error) {
	runID, err := a.TriggerRun(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	datasetID, err := a.waitForRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}

	items, err := a.fetchDataset(ctx, datasetID)
	if err != nil {
		return nil, nil, err
	}

	var records []*models.ListingRecord
	var parseErrs []error
	for _, item := range items {
		if opts.MaxListings > 0 && len(records) >= opts.MaxListings {
			break
		}
		rec, err := a.Normalize(item)
		if err != nil {
			parseErrs = append(parseErrs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, parseErrs, nil
}

func (a *RunAdapter) waitForRun(ctx context.Context, runID string) (string, error) {
	deadline := time.Now().Add(runPollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", &FetchError{URL: a.cfg.Run.Endpoint, Transient: true, Err: ctx.Err()}
		default:
		}

		datasetID, state, err := a.runInfo(ctx, runID)
		if err == nil {
			switch state {
			case RunSucceeded:
				return datasetID, nil
			case RunFailed:
				return "", &FetchError{URL: a.cfg.Run.Endpoint, Transient: true, Err: fmt.Errorf("run %s failed", runID)}
			}
		}

		select {
		case <-ctx.Done():
			return "", &FetchError{URL: a.cfg.Run.Endpoint, Transient: true, Err: ctx.Err()}
		case <-time.After(a.pollDelay):
		}
	}
	return "", &FetchError{URL: a.cfg.Run.Endpoint, Transient: true, Err: fmt.Errorf("timeout waiting for run %s", runID)}
}

func (a *RunAdapter) fetchDataset(ctx context.Context, datasetID string) ([]json.RawMessage, error) {
	url := fmt.Sprintf("%s/datasets/%s/items?token=%s&format=json", a.cfg.Run.Endpoint, datasetID, a.token)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(url, resp); err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, &FetchError{URL: url, Transient: true, Err: err}
	}
	return items, nil
}

// FetchPage satisfies Adapter: the dataset arrives as one page.
func (a *RunAdapter) FetchPage(ctx context.Context, pageToken string) ([]json.RawMessage, string, error) {
	if pageToken != "" {
		return nil, "", nil
	}
	runID, err := a.TriggerRun(ctx, models.CrawlOptions{})
	if err != nil {
		return nil, "", err
	}
	datasetID, err := a.waitForRun(ctx, runID)
	if err != nil {
		return nil, "", err
	}
	items, err := a.fetchDataset(ctx, datasetID)
	return items, "", err
}

// runItem is the dataset item shape the service is configured to emit.
type runItem struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	Address      string   `json:"address"`
	Unit         string   `json:"unit"`
	Neighborhood string   `json:"neighborhood"`
	Borough      string   `json:"borough"`
	Price        int      `json:"price"`
	Beds         int      `json:"beds"`
	Baths        int      `json:"baths"`
	SqFt         int      `json:"sqft"`
	Photos       []string `json:"photos"`
	Description  string   `json:"description"`
}

func (a *RunAdapter) Normalize(raw json.RawMessage) (*models.ListingRecord, error) {
	var item runItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, &ParseError{SourceID: a.cfg.ID, Reason: "bad dataset item", Err: err}
	}
	if item.Address == "" {
		return nil, &ParseError{SourceID: a.cfg.ID, Reason: "missing address"}
	}
	if item.ID == "" && item.URL == "" {
		return nil, &ParseError{SourceID: a.cfg.ID, Reason: "no listing id or url"}
	}

	return &models.ListingRecord{
		SourceID:        a.cfg.ID,
		SourceListingID: item.ID,
		SourceURL:       item.URL,
		Address:         item.Address,
		Unit:            item.Unit,
		Neighborhood:    item.Neighborhood,
		Borough:         item.Borough,
		Price:           item.Price,
		Beds:            item.Beds,
		Baths:           item.Baths,
		SqFt:            item.SqFt,
		ImageURLs:       item.Photos,
		Description:     item.Description,
		RawData:         raw,
	}, nil
}
