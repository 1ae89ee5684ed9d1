package browser

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/temoto/robotstxt"

	"yomu/internal/config"
	"yomu/internal/metrics"
	"yomu/internal/model"
)

// ScrapeOptions tunes a single scrape stream.
type ScrapeOptions struct {
	Mode            model.Mode
	WaitForSelector string
	TargetSelector  string
	RemoveSelector  string
	ProxyURL        string
	UserAgent       string
	Locale          string
	Timeout         time.Duration
}

// Browser renders pages through a real browser (via rod) and yields
// progressively better snapshots per page: one as soon as the document
// loads and a final one after the page settles.
type Browser struct {
	controlURL    string
	timeout       time.Duration
	settle        time.Duration
	respectRobots bool
	logger        *slog.Logger

	mu      sync.Mutex
	blocked map[string]struct{}

	robotsClient *http.Client
}

func New(cfg config.BrowserConfig, robots config.RobotsConfig, logger *slog.Logger) *Browser {
	return &Browser{
		controlURL:    cfg.ControlURL,
		timeout:       time.Duration(cfg.TimeoutMs) * time.Millisecond,
		settle:        time.Duration(cfg.SettleMs) * time.Millisecond,
		respectRobots: robots.Respect,
		logger:        logger,
		blocked:       make(map[string]struct{}),
		robotsClient:  &http.Client{Timeout: 5 * time.Second},
	}
}

// BlockHost adds a hostname to the circuit-breaker set. The set is
// add-only; a false positive only costs an extra refusal.
func (b *Browser) BlockHost(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return
	}
	b.mu.Lock()
	b.blocked[host] = struct{}{}
	b.mu.Unlock()
}

func (b *Browser) hostBlocked(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blocked[strings.ToLower(host)]
	return ok
}

// Scrape renders one URL and streams snapshots into the returned
// channel. The channel closes when the stream is done or the context is
// canceled; errors terminate only this stream.
func (b *Browser) Scrape(ctx context.Context, target string, opts *ScrapeOptions) <-chan *model.PageSnapshot {
	out := make(chan *model.PageSnapshot, 2)
	if opts == nil {
		opts = &ScrapeOptions{}
	}

	go func() {
		defer close(out)
		b.scrape(ctx, target, opts, out)
	}()

	return out
}

func (b *Browser) scrape(ctx context.Context, target string, opts *ScrapeOptions, out chan<- *model.PageSnapshot) {
	u, err := url.Parse(target)
	if err != nil {
		b.logger.Warn("scrape skipped, unparseable url", "url", target)
		return
	}

	if b.hostBlocked(u.Hostname()) {
		b.logger.Warn("scrape refused by circuit breaker", "host", u.Hostname())
		return
	}

	if b.respectRobots && !b.robotsAllowed(ctx, u, opts.UserAgent) {
		b.logger.Info("scrape refused by robots.txt", "url", target)
		return
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.timeout
	}

	browser := rod.New().Context(ctx).Timeout(timeout)
	switch {
	case b.controlURL != "":
		browser = browser.ControlURL(b.controlURL)
	case opts.ProxyURL != "":
		ctl, err := launcher.New().Proxy(opts.ProxyURL).Launch()
		if err != nil {
			b.fail(target, "launch browser with proxy", err, out)
			return
		}
		browser = browser.ControlURL(ctl)
	}

	if err := browser.Connect(); err != nil {
		b.fail(target, "connect browser", err, out)
		return
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.fail(target, "open page", err, out)
		return
	}
	defer page.Close()

	if opts.UserAgent != "" || opts.Locale != "" {
		override := &proto.NetworkSetUserAgentOverride{
			UserAgent:      opts.UserAgent,
			AcceptLanguage: opts.Locale,
		}
		if err := page.SetUserAgent(override); err != nil {
			b.logger.Warn("user agent override failed", "error", err)
		}
	}

	if err := page.Navigate(target); err != nil {
		b.fail(target, "navigate", err, out)
		return
	}
	if err := page.WaitLoad(); err != nil {
		b.fail(target, "wait load", err, out)
		return
	}

	version := 0
	emit := func(final bool) bool {
		html, err := page.HTML()
		if err != nil {
			b.logger.Warn("snapshot html failed", "url", target, "error", err)
			return true
		}
		version++
		snap := BuildSnapshot(target, html, version, opts)
		if final {
			b.captureShots(page, opts.Mode, snap)
		}
		metrics.RecordSnapshot()
		select {
		case out <- snap:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if opts.WaitForSelector != "" {
		// Hold all emissions until the selector shows up (or the page
		// deadline kills the wait).
		if _, err := page.Element(opts.WaitForSelector); err != nil {
			b.logger.Warn("wait-for-selector not satisfied", "url", target, "selector", opts.WaitForSelector, "error", err)
		}
	} else if !emit(false) {
		return
	}

	select {
	case <-time.After(b.settle):
	case <-ctx.Done():
		return
	}

	emit(true)
}

// fail logs the stream error; DNS-class failures additionally yield a
// synthesized error snapshot so the crawl pipeline can format them.
func (b *Browser) fail(target, op string, err error, out chan<- *model.PageSnapshot) {
	metrics.RecordScrapeError()
	b.logger.Warn("scrape stream failed", "url", target, "op", op, "error", err)

	msg := err.Error()
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "ERR_NAME_NOT_RESOLVED") {
		out <- &model.PageSnapshot{
			Href:    target,
			Title:   "Error " + op,
			Text:    msg,
			Version: 1,
		}
	}
}

func (b *Browser) captureShots(page *rod.Page, mode model.Mode, snap *model.PageSnapshot) {
	switch mode {
	case model.ModeScreenshot:
		if data, err := page.Screenshot(false, nil); err == nil {
			snap.Screenshot = data
		} else {
			b.logger.Warn("screenshot capture failed", "url", snap.Href, "error", err)
		}
	case model.ModePageshot:
		if data, err := page.Screenshot(true, nil); err == nil {
			snap.Pageshot = data
		} else {
			b.logger.Warn("pageshot capture failed", "url", snap.Href, "error", err)
		}
	}
}

func (b *Browser) robotsAllowed(ctx context.Context, u *url.URL, userAgent string) bool {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return true
	}
	resp, err := b.robotsClient.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()

	robots, err := robotstxt.FromResponse(resp)
	if err != nil {
		return true
	}
	agent := userAgent
	if agent == "" {
		agent = "yomu"
	}
	return robots.FindGroup(agent).Test(u.Path)
}
