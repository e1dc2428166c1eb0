package tool

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserTool renders a page in headless Chrome and returns its visible
// text. Unlike web_fetch it executes JavaScript, so it works on pages that
// build their content client-side.
type BrowserTool struct {
	timeout time.Duration
}

func NewBrowserTool(timeoutSeconds int) *BrowserTool {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &BrowserTool{timeout: time.Duration(timeoutSeconds) * time.Second}
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Description() string {
	return "Open a URL in a headless browser and return the rendered page text. Slower than web_fetch; use for JavaScript-heavy pages."
}

func (t *BrowserTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"url":      {Type: "string", Description: "Full URL to open (http:// or https://)"},
			"selector": {Type: "string", Description: "Optional CSS selector to extract; defaults to body"},
		},
		[]string{"url"},
	)
}

func (t *BrowserTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL := ArgsString(args, "url")
	if rawURL == "" {
		return "", fmt.Errorf("missing argument: url")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme: %s", parsed.Scheme)
	}

	selector := ArgsString(args, "selector")
	if selector == "" {
		selector = "body"
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Headless)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, t.timeout)
	defer cancelRun()

	var text string
	err = chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.Text(selector, &text, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}

	text = strings.TrimSpace(text)
	if len(text) > fetchMaxOutput {
		text = text[:fetchMaxOutput] + "\n... (truncated)"
	}
	if text == "" {
		return fmt.Sprintf("Page %s rendered but selector %q matched no text.", rawURL, selector), nil
	}
	return text, nil
}
