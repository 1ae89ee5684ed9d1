package pipeline

import (
	"context"
	"log/slog"

	"yomu/internal/aggregator"
	"yomu/internal/browser"
	"yomu/internal/errs"
	"yomu/internal/formatter"
	"yomu/internal/model"
	"yomu/internal/urlutil"
)

// HostBreaker is the circuit-breaker surface shared with the browser.
type HostBreaker interface {
	BlockHost(host string)
}

// CrawlInput is one request into the crawl pipeline.
type CrawlInput struct {
	URL        string
	Scrape     browser.ScrapeOptions
	RequestCtx *model.RequestContext
}

// CrawlPipeline fetches and formats a single URL: it streams snapshots
// from the browser and returns the first one that is good enough,
// falling back to the last snapshot seen.
type CrawlPipeline struct {
	scraper   aggregator.Scraper
	formatter *formatter.Formatter
	breaker   HostBreaker
	logger    *slog.Logger
}

func NewCrawlPipeline(scraper aggregator.Scraper, fm *formatter.Formatter, breaker HostBreaker, logger *slog.Logger) *CrawlPipeline {
	return &CrawlPipeline{
		scraper:   scraper,
		formatter: fm,
		breaker:   breaker,
		logger:    logger,
	}
}

func (p *CrawlPipeline) Run(ctx context.Context, in *CrawlInput) (*model.FormattedPage, error) {
	target, err := urlutil.ParseTarget(in.URL)
	if err != nil {
		return nil, err
	}

	rc := in.RequestCtx
	if rc == nil {
		rc = &model.RequestContext{Mode: model.ModeMarkdown}
	}

	// Never crawl ourselves: screenshot URLs in responses point back at
	// this host, and agents will happily follow them.
	if p.breaker != nil && rc.Host != "" {
		p.breaker.BlockHost(hostnameOf(rc.Host))
	}

	var last *model.PageSnapshot
	for snap := range p.scraper.Scrape(ctx, target.String(), &in.Scrape) {
		last = snap
		if !snapshotReady(snap, in.Scrape.WaitForSelector) {
			continue
		}
		return p.formatter.Format(snap, target.String(), rc)
	}

	if last != nil {
		return p.formatter.Format(last, target.String(), rc)
	}
	return nil, errs.NoContent("no content available for %s", target.String())
}

// snapshotReady reports whether a snapshot is worth returning before
// the stream finishes. While a selector wait is pending, nothing is.
func snapshotReady(snap *model.PageSnapshot, waitForSelector string) bool {
	if waitForSelector != "" {
		return false
	}
	if snap.IsPDF {
		return true
	}
	if snap.Parsed != nil && snap.Parsed.Content != "" {
		return true
	}
	return snap.Title != ""
}

func hostnameOf(hostport string) string {
	for i := 0; i < len(hostport); i++ {
		if hostport[i] == ':' {
			return hostport[:i]
		}
	}
	return hostport
}
