package source

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"aide/internal/security"
)

const webpageRenderTimeout = 45 * time.Second

// Webpage renders a URL in headless Chrome and snapshots its visible
// text. Useful for pages that only materialize content via JavaScript.
type Webpage struct {
	name      string
	url       string
	sanitizer *security.Sanitizer
}

func NewWebpage(name, url string, sanitizer *security.Sanitizer) *Webpage {
	return &Webpage{name: name, url: url, sanitizer: sanitizer}
}

func (w *Webpage) Name() string { return w.name }

func (w *Webpage) Snapshot(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, webpageRenderTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var bodyHTML string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(w.url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(time.Second),
		chromedp.OuterHTML("body", &bodyHTML, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", w.url, err)
	}

	return w.sanitizer.SanitizeHTMLBody(bodyHTML, security.MaxSnapshotLength), nil
}
