package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Playwright defaults.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultActionTimeout  = 30 * time.Second
	defaultMaxTextLength  = 20000
)

// PlaywrightOptions configures the Playwright backend.
type PlaywrightOptions struct {
	Headless bool
	// WSEndpoint connects to a running Playwright browser server instead of
	// launching a local Chromium.
	WSEndpoint string
	// Install downloads the driver and browsers before starting.
	Install bool
	Timeout time.Duration
	Logger  *slog.Logger
}

type pwPage struct {
	context playwright.BrowserContext
	page    playwright.Page
}

// Playwright is a Backend driving Chromium through playwright-go. Each key
// gets its own browser context and page.
type Playwright struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	pages   map[string]*pwPage
	timeout time.Duration
	logger  *slog.Logger
}

// NewPlaywright starts the Playwright driver and launches or connects to a browser.
func NewPlaywright(opts PlaywrightOptions) (*Playwright, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultActionTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	var browser playwright.Browser
	if opts.WSEndpoint != "" {
		browser, err = pw.Chromium.Connect(opts.WSEndpoint)
	} else {
		browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
		})
	}
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	opts.Logger.Info("Playwright backend started", "remote", opts.WSEndpoint != "", "headless", opts.Headless)
	return &Playwright{
		pw:      pw,
		browser: browser,
		pages:   make(map[string]*pwPage),
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}, nil
}

func (b *Playwright) lookup(key string) (*pwPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pages[key]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoPage, key)
	}
	return p, nil
}

func (b *Playwright) openPage(key string) (*pwPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pages[key]; ok {
		return p, nil
	}

	bctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.timeout.Milliseconds()))

	p := &pwPage{context: bctx, page: page}
	b.pages[key] = p
	return p, nil
}

// timeoutFor narrows the action timeout to the context deadline.
func (b *Playwright) timeoutFor(ctx context.Context) *float64 {
	timeout := b.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	return playwright.Float(float64(timeout.Milliseconds()))
}

func info(page playwright.Page) PageInfo {
	title, _ := page.Title()
	return PageInfo{URL: page.URL(), Title: title}
}

// Navigate loads rawURL in the page for key, opening it on first use.
func (b *Playwright) Navigate(ctx context.Context, key, rawURL string) (PageInfo, error) {
	if _, err := ValidateURL(rawURL); err != nil {
		return PageInfo{}, err
	}
	p, err := b.openPage(key)
	if err != nil {
		return PageInfo{}, err
	}
	waitUntil := playwright.WaitUntilStateLoad
	if _, err := p.page.Goto(rawURL, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
		Timeout:   b.timeoutFor(ctx),
	}); err != nil {
		return PageInfo{}, fmt.Errorf("navigation failed: %w", err)
	}
	return info(p.page), nil
}

// Click clicks the first element matching selector.
func (b *Playwright) Click(ctx context.Context, key, selector string) (PageInfo, error) {
	p, err := b.lookup(key)
	if err != nil {
		return PageInfo{}, err
	}
	if err := p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: b.timeoutFor(ctx),
	}); err != nil {
		return PageInfo{}, fmt.Errorf("click failed: %w", err)
	}
	return info(p.page), nil
}

// Fill fills the input matching selector.
func (b *Playwright) Fill(ctx context.Context, key, selector, value string) error {
	p, err := b.lookup(key)
	if err != nil {
		return err
	}
	if err := p.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: b.timeoutFor(ctx),
	}); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

// Screenshot captures the page as PNG.
func (b *Playwright) Screenshot(ctx context.Context, key string, fullPage bool) ([]byte, error) {
	p, err := b.lookup(key)
	if err != nil {
		return nil, err
	}
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Type:     playwright.ScreenshotTypePng,
		Timeout:  b.timeoutFor(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

// ExtractText returns the inner text of selector, or of the body.
func (b *Playwright) ExtractText(ctx context.Context, key, selector string) (string, error) {
	p, err := b.lookup(key)
	if err != nil {
		return "", err
	}
	if selector == "" {
		selector = "body"
	}
	text, err := p.page.Locator(selector).First().InnerText(playwright.LocatorInnerTextOptions{
		Timeout: b.timeoutFor(ctx),
	})
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return truncateText(text, defaultMaxTextLength), nil
}

// truncateText keeps the first limit runes of text and notes the cut.
func truncateText(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + fmt.Sprintf("\n\n[Content truncated: %d of %d characters shown]", limit, len(runes))
}

// WaitFor waits until selector is visible.
func (b *Playwright) WaitFor(ctx context.Context, key, selector string, timeout time.Duration) error {
	p, err := b.lookup(key)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: b.timeoutFor(waitCtx),
	}); err != nil {
		return fmt.Errorf("wait failed: %w", err)
	}
	return nil
}

// Close closes the page and its browser context.
func (b *Playwright) Close(_ context.Context, key string) error {
	b.mu.Lock()
	p, ok := b.pages[key]
	delete(b.pages, key)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	_ = p.page.Close()
	if err := p.context.Close(); err != nil {
		return fmt.Errorf("close context: %w", err)
	}
	return nil
}

// Shutdown closes every page, the browser and the driver.
func (b *Playwright) Shutdown() error {
	b.mu.Lock()
	pages := b.pages
	b.pages = make(map[string]*pwPage)
	b.mu.Unlock()

	for _, p := range pages {
		_ = p.page.Close()    // Ignore errors, continue cleanup
		_ = p.context.Close() // Ignore errors, continue cleanup
	}
	if err := b.browser.Close(); err != nil {
		b.logger.Warn("Failed to close browser", "error", err)
	}
	if err := b.pw.Stop(); err != nil {
		return fmt.Errorf("stop playwright: %w", err)
	}
	return nil
}
