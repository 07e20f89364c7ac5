// Package browser captures the forecast graph through a headless Chrome.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/dustin/go-humanize"

	"github.com/vietddude/riverwatch/internal/infra/source"
)

const (
	DefaultTimeout = 60 * time.Second

	containerSelector = "#container3"
	menuSelector      = `button.highcharts-a11y-proxy-element[aria-label*="Détail des prochains jours"]`
	downloadXPath     = `//*[text()="Télécharger l'image PNG"]`
	settle            = time.Second
)

// ErrNoDownload is returned when the page never delivered the PNG.
var ErrNoDownload = errors.New("graph download did not complete")

// Capture opens the graph page, triggers the Highcharts PNG export and
// returns the downloaded bytes.
type Capture struct {
	url     string
	timeout time.Duration
	opts    []chromedp.ExecAllocatorOption
	log     *slog.Logger
}

// NewCapture creates a capture of url. A zero timeout means DefaultTimeout.
func NewCapture(url string, timeout time.Duration) *Capture {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Capture{
		url:     url,
		timeout: timeout,
		opts: append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(source.DefaultUserAgent),
		),
		log: slog.Default().With("component", "browser"),
	}
}

// Fetch implements the fetch source.
func (c *Capture) Fetch(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "riverwatch-graph-*")
	if err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	defer os.RemoveAll(dir)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, c.opts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, c.timeout)
	defer cancel()

	done := make(chan string, 1)
	chromedp.ListenTarget(browserCtx, func(ev any) {
		progress, ok := ev.(*browser.EventDownloadProgress)
		if !ok || progress.State != browser.DownloadProgressStateCompleted {
			return
		}
		select {
		case done <- progress.GUID:
		default:
		}
	})

	c.log.Info("Navigating to graph page", "url", c.url)
	err = chromedp.Run(browserCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(dir).
			WithEventsEnabled(true),
		chromedp.Navigate(c.url),
		chromedp.WaitVisible(containerSelector, chromedp.ByQuery),
		chromedp.WaitVisible(menuSelector, chromedp.ByQuery),
		chromedp.Sleep(settle),
		chromedp.Click(menuSelector, chromedp.ByQuery),
		chromedp.WaitVisible(downloadXPath, chromedp.BySearch),
		chromedp.Sleep(settle),
		chromedp.Click(downloadXPath, chromedp.BySearch),
	)
	if err != nil {
		return nil, fmt.Errorf("browser capture: %w", err)
	}

	select {
	case guid := <-done:
		data, err := os.ReadFile(filepath.Join(dir, guid))
		if err != nil {
			return nil, fmt.Errorf("read download: %w", err)
		}
		c.log.Info("Graph downloaded", "size", humanize.Bytes(uint64(len(data))))
		return data, nil
	case <-browserCtx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNoDownload, browserCtx.Err())
	}
}
