package aggregator

import (
	"context"
	"testing"
	"time"

	"yomu/internal/browser"
	"yomu/internal/model"
)

// scriptedScraper replays a fixed snapshot sequence per URL.
type scriptedScraper struct {
	scripts map[string][]*model.PageSnapshot
	gate    chan struct{}
}

func (s *scriptedScraper) Scrape(ctx context.Context, target string, opts *browser.ScrapeOptions) <-chan *model.PageSnapshot {
	out := make(chan *model.PageSnapshot, len(s.scripts[target]))
	go func() {
		defer close(out)
		if s.gate != nil {
			select {
			case <-s.gate:
			case <-ctx.Done():
				return
			}
		}
		for _, snap := range s.scripts[target] {
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func snap(href string, version int) *model.PageSnapshot {
	return &model.PageSnapshot{Href: href, Title: "t", Version: version}
}

func collect(t *testing.T, ch <-chan []*model.PageSnapshot, timeout time.Duration) [][]*model.PageSnapshot {
	t.Helper()
	var all [][]*model.PageSnapshot
	deadline := time.After(timeout)
	for {
		select {
		case snaps, ok := <-ch:
			if !ok {
				return all
			}
			all = append(all, snaps)
		case <-deadline:
			t.Fatalf("aggregator did not finish in %v; got %d emissions", timeout, len(all))
		}
	}
}

func TestScrapeManyFirstEmissionIsAllNil(t *testing.T) {
	sc := &scriptedScraper{
		scripts: map[string][]*model.PageSnapshot{
			"u1": {snap("u1", 1)},
		},
		gate: make(chan struct{}),
	}
	ch := ScrapeMany(context.Background(), sc, []string{"u1", "u2"}, nil, nil)

	first := <-ch
	if len(first) != 2 || first[0] != nil || first[1] != nil {
		t.Fatalf("first emission must be the all-nil slot array, got %+v", first)
	}
	close(sc.gate)
	collect(t, ch, 2*time.Second)
}

func TestScrapeManySlotsTrackURLOrder(t *testing.T) {
	sc := &scriptedScraper{
		scripts: map[string][]*model.PageSnapshot{
			"u1": {snap("u1", 1)},
			"u2": {snap("u2", 1), snap("u2", 2)},
		},
	}
	ch := ScrapeMany(context.Background(), sc, []string{"u1", "u2"}, nil, nil)
	all := collect(t, ch, 2*time.Second)

	final := all[len(all)-1]
	if final[0] == nil || final[0].Href != "u1" {
		t.Fatalf("slot 0 should hold u1's snapshot, got %+v", final[0])
	}
	if final[1] == nil || final[1].Href != "u2" || final[1].Version != 2 {
		t.Fatalf("slot 1 should hold u2's last snapshot, got %+v", final[1])
	}
}

func TestScrapeManyEmissionsAreCopies(t *testing.T) {
	sc := &scriptedScraper{
		scripts: map[string][]*model.PageSnapshot{
			"u1": {snap("u1", 1), snap("u1", 2)},
		},
	}
	ch := ScrapeMany(context.Background(), sc, []string{"u1"}, nil, nil)
	all := collect(t, ch, 2*time.Second)

	if len(all) < 2 {
		t.Fatalf("expected at least initial and final emissions, got %d", len(all))
	}
	first := all[0]
	final := all[len(all)-1]
	if final[0] == nil {
		t.Fatalf("final emission lost the snapshot")
	}
	if first[0] != nil {
		t.Fatalf("earlier emission mutated in place: %+v", first[0])
	}
}

func TestScrapeManyFinalEmissionAfterStreamsEnd(t *testing.T) {
	sc := &scriptedScraper{
		scripts: map[string][]*model.PageSnapshot{
			"u1": {snap("u1", 1)},
			"u2": nil, // stream ends without producing anything
		},
	}
	ch := ScrapeMany(context.Background(), sc, []string{"u1", "u2"}, nil, nil)
	all := collect(t, ch, 2*time.Second)

	final := all[len(all)-1]
	if final[0] == nil || final[1] != nil {
		t.Fatalf("final state wrong: %+v", final)
	}
}

func TestScrapeManyCancellation(t *testing.T) {
	sc := &scriptedScraper{
		scripts: map[string][]*model.PageSnapshot{"u1": {snap("u1", 1)}},
		gate:    make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := ScrapeMany(ctx, sc, []string{"u1"}, nil, nil)

	<-ch // initial emission
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// One in-flight emission may race the cancel; the channel
			// must still close right after.
			if _, ok := <-ch; ok {
				t.Fatalf("channel did not close after cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel did not close after cancel")
	}
}
