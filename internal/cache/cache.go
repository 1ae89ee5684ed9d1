package cache

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"yomu/internal/config"
	"yomu/internal/errs"
	"yomu/internal/metrics"
	"yomu/internal/model"
	"yomu/internal/store"
)

// Upstream is the slice of the search client the cache depends on.
type Upstream interface {
	Search(ctx context.Context, q *model.SearchQuery, userAgent string) (*model.UpstreamSearchResponse, error)
}

// Entries is the slice of the store the cache depends on.
type Entries interface {
	InsertCacheEntry(ctx context.Context, e *store.CacheEntry) error
	LatestCacheEntry(ctx context.Context, digest string) (*store.CacheEntry, error)
}

// SearchCache fronts the upstream search client with a digest-keyed
// durable cache. Fresh entries short-circuit the upstream call; stale
// entries are kept as a fallback for upstream failures.
type SearchCache struct {
	upstream  Upstream
	entries   Entries
	validFor  time.Duration
	retention time.Duration
	logger    *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// New constructs a SearchCache. A nil Entries disables persistence and
// every lookup goes upstream.
func New(upstream Upstream, entries Entries, cfg config.CacheConfig, logger *slog.Logger) *SearchCache {
	return &SearchCache{
		upstream:  upstream,
		entries:   entries,
		validFor:  time.Duration(cfg.ValidForMinutes) * time.Minute,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:    logger,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Digest returns the MD5-base64 digest of the canonical, key-sorted
// serialization of the query. Two queries digest equal exactly when
// every field matches.
func Digest(q *model.SearchQuery) string {
	fields := map[string]any{
		"text":  q.Text,
		"count": q.Count,
	}
	if len(q.Categories) > 0 {
		fields["categories"] = q.Categories
	}
	if len(q.Engines) > 0 {
		fields["engines"] = q.Engines
	}
	if len(q.EnabledEngines) > 0 {
		fields["enabledEngines"] = q.EnabledEngines
	}
	if len(q.DisabledEngines) > 0 {
		fields["disabledEngines"] = q.DisabledEngines
	}
	if q.Language != "" {
		fields["language"] = q.Language
	}
	if q.TimeRange != "" {
		fields["timeRange"] = q.TimeRange
	}
	if q.PageNumber > 0 {
		fields["pageNumber"] = q.PageNumber
	}

	// encoding/json serializes map keys in sorted order, which makes
	// this a canonical form.
	payload, _ := json.Marshal(fields)
	sum := md5.Sum(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// CachedSearch resolves a query through the cache, going upstream on a
// miss. When the upstream fails and a stale entry exists, the stale
// response is returned instead of the failure.
func (c *SearchCache) CachedSearch(ctx context.Context, q *model.SearchQuery, noCache bool, userAgent string) (*model.UpstreamSearchResponse, error) {
	digest := Digest(q)

	var stale *model.UpstreamSearchResponse
	if !noCache && c.entries != nil {
		entry, err := c.entries.LatestCacheEntry(ctx, digest)
		if err != nil {
			c.logger.Warn("cache lookup failed", "digest", digest, "error", err)
		} else if entry != nil {
			age := c.now().Sub(entry.CreatedAt)
			switch {
			case age < c.validFor:
				if resp := decodeEntry(entry); resp != nil {
					metrics.RecordCacheOutcome("hit")
					return resp, nil
				}
			case age < c.retention:
				stale = decodeEntry(entry)
			}
		}
	}

	resp, err := c.searchPaginated(ctx, q, userAgent)
	if err != nil {
		if stale != nil && errs.IsKind(err, errs.KindDownstream) {
			c.logger.Warn("upstream search failed, serving stale cache entry",
				"digest", digest, "error", err)
			metrics.RecordCacheOutcome("stale")
			return stale, nil
		}
		return nil, err
	}

	if noCache {
		metrics.RecordCacheOutcome("bypass")
	} else {
		metrics.RecordCacheOutcome("miss")
	}

	c.persist(digest, q, resp)
	return resp, nil
}

// searchPaginated fetches page 1 and tops up from page 2 when the first
// page came back short, then truncates to the requested count.
func (c *SearchCache) searchPaginated(ctx context.Context, q *model.SearchQuery, userAgent string) (*model.UpstreamSearchResponse, error) {
	page1 := *q
	page1.PageNumber = 1
	resp, err := c.upstream.Search(ctx, &page1, userAgent)
	if err != nil {
		return nil, err
	}

	if q.Count > 0 && len(resp.Results) < q.Count {
		c.sleep(time.Duration(1000+rand.Intn(1000)) * time.Millisecond)

		page2 := *q
		page2.PageNumber = 2
		next, err := c.upstream.Search(ctx, &page2, userAgent)
		if err == nil {
			resp.Results = append(resp.Results, next.Results...)
		} else {
			c.logger.Warn("second page fetch failed, keeping first page", "error", err)
		}
	}

	if q.Count > 0 && len(resp.Results) > q.Count {
		resp.Results = resp.Results[:q.Count]
	}
	return resp, nil
}

// persist writes the entry in the background; a write failure is logged
// and never blocks or fails the response.
func (c *SearchCache) persist(digest string, q *model.SearchQuery, resp *model.UpstreamSearchResponse) {
	if c.entries == nil {
		return
	}

	queryJSON, err := json.Marshal(q)
	if err != nil {
		c.logger.Error("marshal query for cache", "error", err)
		return
	}
	respJSON, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("marshal response for cache", "error", err)
		return
	}

	now := c.now()
	entry := &store.CacheEntry{
		QueryDigest: digest,
		Query:       queryJSON,
		Response:    respJSON,
		CreatedAt:   now,
		ExpireAt:    now.Add(c.retention),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.entries.InsertCacheEntry(ctx, entry); err != nil {
			c.logger.Error("cache write failed", "digest", digest, "error", err)
		}
	}()
}

func decodeEntry(entry *store.CacheEntry) *model.UpstreamSearchResponse {
	if entry == nil || len(entry.Response) == 0 {
		return nil
	}
	var resp model.UpstreamSearchResponse
	if err := json.Unmarshal(entry.Response, &resp); err != nil {
		return nil
	}
	return &resp
}
