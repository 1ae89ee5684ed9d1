package aggregator

import (
	"context"
	"log/slog"
	"sync"

	"yomu/internal/browser"
	"yomu/internal/model"
)

// Scraper produces a stream of snapshots for one URL. The stream closes
// when the scrape finishes or the context is canceled.
type Scraper interface {
	Scrape(ctx context.Context, target string, opts *browser.ScrapeOptions) <-chan *model.PageSnapshot
}

type update struct {
	slot int
	snap *model.PageSnapshot
}

// ScrapeMany fans N concurrent scrape streams into a single channel of
// slot arrays. Every emission is a fresh copy of the current best
// snapshot per slot, so consumers never observe in-place mutation.
//
// The first emission is the initial all-nil array; the last is the
// final state after every stream has terminated. Near-simultaneous
// updates may coalesce into a single emission. Canceling the context
// terminates every stream.
func ScrapeMany(ctx context.Context, sc Scraper, urls []string, opts *browser.ScrapeOptions, logger *slog.Logger) <-chan []*model.PageSnapshot {
	out := make(chan []*model.PageSnapshot, 1)

	go func() {
		defer close(out)

		results := make([]*model.PageSnapshot, len(urls))
		updates := make(chan update, len(urls))

		var wg sync.WaitGroup
		for i, target := range urls {
			wg.Add(1)
			go func(slot int, target string) {
				defer wg.Done()
				for snap := range sc.Scrape(ctx, target, opts) {
					if snap == nil {
						continue
					}
					select {
					case updates <- update{slot: slot, snap: snap}:
					case <-ctx.Done():
						return
					}
				}
			}(i, target)
		}
		go func() {
			wg.Wait()
			close(updates)
		}()

		emit := func() bool {
			copied := make([]*model.PageSnapshot, len(results))
			copy(copied, results)
			select {
			case out <- copied:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// Initial all-nil state, so consumers can size their batch
		// before the first snapshot lands.
		if !emit() {
			return
		}

		for u := range updates {
			results[u.slot] = u.snap

			// Drain whatever else is already pending; bursts coalesce
			// into one emission.
			for drained := true; drained; {
				select {
				case more, ok := <-updates:
					if !ok {
						drained = false
						break
					}
					results[more.slot] = more.snap
				default:
					drained = false
				}
			}

			if !emit() {
				return
			}
		}

		// Final state after all streams ended.
		if ctx.Err() == nil {
			emit()
		} else if logger != nil {
			logger.Debug("scrape aggregation canceled", "urls", len(urls))
		}
	}()

	return out
}
