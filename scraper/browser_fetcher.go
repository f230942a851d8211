package scraper

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// BrowserFetcher renders pages in headless Chromium before handing the HTML
// to the same goquery parsing path. Used for direct-html sources whose
// listings only appear after client-side rendering.
type BrowserFetcher struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
}

func NewBrowserFetcher() *BrowserFetcher {
	return &BrowserFetcher{}
}

func (f *BrowserFetcher) ensureBrowser() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	var err error
	f.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	f.browser, err = f.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		f.pw.Stop()
		f.pw = nil
		return fmt.Errorf("launch browser: %w", err)
	}

	f.initialized = true
	return nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.ensureBrowser(); err != nil {
		return nil, &FetchError{URL: url, Transient: true, Err: err}
	}

	page, err := f.browser.NewPage()
	if err != nil {
		return nil, &FetchError{URL: url, Transient: true, Err: err}
	}
	defer page.Close()

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(60000),
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	if err != nil {
		return nil, &FetchError{URL: url, Transient: true, Err: err}
	}
	if resp != nil && resp.Status() == 429 {
		return nil, &RateLimitError{URL: url}
	}
	if resp != nil && resp.Status() >= 500 {
		return nil, &FetchError{URL: url, StatusCode: resp.Status(), Transient: true}
	}

	content, err := page.Content()
	if err != nil {
		return nil, &FetchError{URL: url, Transient: true, Err: err}
	}
	return []byte(content), nil
}

func (f *BrowserFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		f.browser.Close()
		f.browser = nil
	}
	if f.pw != nil {
		f.pw.Stop()
		f.pw = nil
	}
	f.initialized = false
}
