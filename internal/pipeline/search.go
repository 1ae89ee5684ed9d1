package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"yomu/internal/aggregator"
	"yomu/internal/browser"
	"yomu/internal/errs"
	"yomu/internal/formatter"
	"yomu/internal/metrics"
	"yomu/internal/model"
)

// defaultEarlyReturn caps how long the pipeline waits for slow slots
// once at least one slot is usable.
const defaultEarlyReturn = 15 * time.Second

// Searcher is the slice of the search cache the pipeline depends on.
type Searcher interface {
	CachedSearch(ctx context.Context, q *model.SearchQuery, noCache bool, userAgent string) (*model.UpstreamSearchResponse, error)
}

// Batch is an ordered set of formatted pages produced for one search.
type Batch struct {
	Pages []*model.FormattedPage
}

// String renders the batch as numbered entries.
func (b *Batch) String() string {
	parts := make([]string, len(b.Pages))
	for i, p := range b.Pages {
		parts[i] = p.Numbered(i + 1)
	}
	return strings.TrimRight(strings.Join(parts, "\n\n"), "\n") + "\n"
}

// Qualified reports whether every page in the batch is qualified.
func (b *Batch) Qualified() bool {
	for _, p := range b.Pages {
		if !p.Qualified() {
			return false
		}
	}
	return true
}

// SearchInput is one request into the search pipeline.
type SearchInput struct {
	Query      model.SearchQuery
	NoCache    bool
	TimeoutMs  int
	Scrape     browser.ScrapeOptions
	RequestCtx *model.RequestContext
}

// SearchPipeline orchestrates the cached search, the scrape fan-out,
// per-slot formatting, and the race between the qualification gate and
// the early-return timer.
type SearchPipeline struct {
	searcher    Searcher
	scraper     aggregator.Scraper
	formatter   *formatter.Formatter
	logger      *slog.Logger
	earlyReturn time.Duration
}

func NewSearchPipeline(searcher Searcher, scraper aggregator.Scraper, fm *formatter.Formatter, earlyReturn time.Duration, logger *slog.Logger) *SearchPipeline {
	if earlyReturn <= 0 {
		earlyReturn = defaultEarlyReturn
	}
	return &SearchPipeline{
		searcher:    searcher,
		scraper:     scraper,
		formatter:   fm,
		logger:      logger,
		earlyReturn: earlyReturn,
	}
}

type formatKey struct {
	slot    int
	version int
}

// Run executes one search and returns the best batch available under
// the pipeline's quality-of-service contract: return immediately once
// every slot is qualified, otherwise return whatever is ready when the
// early-return timer fires.
func (p *SearchPipeline) Run(ctx context.Context, in *SearchInput) (*Batch, error) {
	rc := in.RequestCtx
	if rc == nil {
		rc = &model.RequestContext{Mode: model.ModeMarkdown}
	}

	resp, err := p.searcher.CachedSearch(ctx, &in.Query, in.NoCache, rc.UserAgent)
	if err != nil {
		return nil, err
	}

	count := in.Query.Count
	results := resp.Results
	if count >= 0 && len(results) > count {
		results = results[:count]
	}

	if count == 0 {
		// No scraping requested; answer with snippet stubs straight
		// from the upstream response, capped at the default page size.
		stubs := resp.Results
		if len(stubs) > 5 {
			stubs = stubs[:5]
		}
		batch := &Batch{}
		for i := range stubs {
			batch.Pages = append(batch.Pages, stubPage(&stubs[i], ""))
		}
		metrics.RecordSearchBatch("stub")
		return batch, nil
	}
	if len(results) == 0 {
		return nil, errs.NoContent("upstream search returned no results")
	}

	urls := make([]string, len(results))
	for i := range results {
		urls[i] = results[i].URL
	}

	aggCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	emissions := aggregator.ScrapeMany(aggCtx, p.scraper, urls, &in.Scrape, p.logger)

	earlyReturn := p.earlyReturn
	if in.TimeoutMs > 0 {
		earlyReturn = time.Duration(in.TimeoutMs) * time.Millisecond
	}

	formatted := make(map[formatKey]*model.FormattedPage)
	var lastBatch *Batch
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	handleEmission := func(snaps []*model.PageSnapshot, ok bool) (*Batch, bool, error) {
		if !ok {
			if lastBatch != nil {
				metrics.RecordSearchBatch("exhausted")
				return lastBatch, true, nil
			}
			return nil, true, errs.NoContent("no content available for query %q", in.Query.Text)
		}

		pages := p.formatSlots(results, snaps, rc, formatted)
		batch := reorganize(pages, count)
		lastBatch = batch

		// Priority: a batch meeting the gate beats the timer.
		if batch.Qualified() && len(batch.Pages) >= count {
			if timer != nil {
				timer.Stop()
			}
			metrics.RecordSearchBatch("gate")
			return batch, true, nil
		}

		if timerC == nil && anyQualified(pages) {
			timer = time.NewTimer(earlyReturn)
			timerC = timer.C
		}
		return nil, false, nil
	}

	for {
		// Give pending emissions priority over a concurrently expired
		// timer: if both are ready, the gate check runs first.
		select {
		case snaps, ok := <-emissions:
			batch, done, err := handleEmission(snaps, ok)
			if done {
				return batch, err
			}
			continue
		default:
		}

		select {
		case snaps, ok := <-emissions:
			batch, done, err := handleEmission(snaps, ok)
			if done {
				return batch, err
			}
		case <-timerC:
			if lastBatch != nil {
				metrics.RecordSearchBatch("timer")
				return lastBatch, nil
			}
			timerC = nil
		case <-ctx.Done():
			if lastBatch != nil {
				return lastBatch, nil
			}
			return nil, ctx.Err()
		}
	}
}

// formatSlots maps every slot to a formatted page, in parallel across
// slots. Repeated emissions of the same snapshot reuse the cached
// formatting; a formatter failure degrades the slot to a snippet stub.
func (p *SearchPipeline) formatSlots(results []model.UpstreamResult, snaps []*model.PageSnapshot, rc *model.RequestContext, cache map[formatKey]*model.FormattedPage) []*model.FormattedPage {
	pages := make([]*model.FormattedPage, len(results))

	var wg sync.WaitGroup
	for i := range results {
		if i < len(snaps) && snaps[i] != nil {
			key := formatKey{slot: i, version: snaps[i].Version}
			if page, ok := cache[key]; ok {
				pages[i] = page
				continue
			}
			wg.Add(1)
			go func(i int, snap *model.PageSnapshot) {
				defer wg.Done()
				page, err := p.formatter.Format(snap, results[i].URL, rc)
				if err != nil {
					p.logger.Warn("slot formatting failed", "url", results[i].URL, "error", err)
					page = stubPage(&results[i], snap.Text)
				}
				pages[i] = page
			}(i, snaps[i])
			continue
		}
		pages[i] = stubPage(&results[i], "")
	}
	wg.Wait()

	for i := range results {
		if i < len(snaps) && snaps[i] != nil {
			cache[formatKey{slot: i, version: snaps[i].Version}] = pages[i]
		}
	}
	return pages
}

// reorganize partitions slots into qualified and unqualified, keeps the
// qualified set, tops up from unqualified slots in original order, and
// restores original slot order before truncating to count.
func reorganize(pages []*model.FormattedPage, count int) *Batch {
	var selected []int
	var leftover []int
	for i, p := range pages {
		if p.Qualified() {
			selected = append(selected, i)
		} else {
			leftover = append(leftover, i)
		}
	}
	for _, i := range leftover {
		if len(selected) >= count {
			break
		}
		selected = append(selected, i)
	}

	// Selection may have interleaved; restore slot order.
	ordered := make([]int, 0, len(selected))
	for i := range pages {
		for _, s := range selected {
			if s == i {
				ordered = append(ordered, i)
				break
			}
		}
	}
	if len(ordered) > count {
		ordered = ordered[:count]
	}

	batch := &Batch{Pages: make([]*model.FormattedPage, len(ordered))}
	for i, idx := range ordered {
		batch.Pages[i] = pages[idx]
	}
	return batch
}

func anyQualified(pages []*model.FormattedPage) bool {
	for _, p := range pages {
		if p.Qualified() {
			return true
		}
	}
	return false
}

func stubPage(r *model.UpstreamResult, text string) *model.FormattedPage {
	return &model.FormattedPage{
		Title:       r.Title,
		URL:         r.URL,
		Description: r.Content,
		Content:     text,
	}
}
