package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for HTTP requests and the search and
// scrape pipelines. This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	searchBatchesTotal  = make(map[string]int64)
	cacheOutcomesTotal  = make(map[string]int64)
	snapshotsTotal      int64
	scrapeErrorsTotal   int64
	cacheRowsDeleted    int64
	screenshotsDeleted  int64
	screenshotsWritten  int64
	formattedPagesTotal = make(map[string]int64)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordSearchBatch records how a search batch was concluded:
// "gate", "timer", or "exhausted".
func RecordSearchBatch(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	searchBatchesTotal[outcome]++
}

// RecordCacheOutcome records a search-cache resolution:
// "hit", "stale", "miss", or "bypass".
func RecordCacheOutcome(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	cacheOutcomesTotal[outcome]++
}

// RecordSnapshot counts one snapshot yielded by a scrape stream.
func RecordSnapshot() {
	mu.Lock()
	defer mu.Unlock()
	snapshotsTotal++
}

// RecordScrapeError counts one failed scrape stream.
func RecordScrapeError() {
	mu.Lock()
	defer mu.Unlock()
	scrapeErrorsTotal++
}

// RecordFormattedPage counts one page formatted in the given mode.
func RecordFormattedPage(mode string) {
	mu.Lock()
	defer mu.Unlock()
	formattedPagesTotal[mode]++
}

// RecordCacheRowsDeleted counts cache rows removed by TTL cleanup.
func RecordCacheRowsDeleted(n int64) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	cacheRowsDeleted += n
}

// RecordScreenshotsDeleted counts screenshot files removed by TTL cleanup.
func RecordScreenshotsDeleted(n int64) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	screenshotsDeleted += n
}

// RecordScreenshotWritten counts one screenshot persisted to disk.
func RecordScreenshotWritten() {
	mu.Lock()
	defer mu.Unlock()
	screenshotsWritten++
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP yomu_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE yomu_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "yomu_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP yomu_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE yomu_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP yomu_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE yomu_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "yomu_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "yomu_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP yomu_search_batches_total Search batches returned by conclusion\n")
	b.WriteString("# TYPE yomu_search_batches_total counter\n")
	for _, k := range sortedKeys(searchBatchesTotal) {
		fmt.Fprintf(&b, "yomu_search_batches_total{outcome=\"%s\"} %d\n", k, searchBatchesTotal[k])
	}

	b.WriteString("# HELP yomu_search_cache_total Search cache resolutions by outcome\n")
	b.WriteString("# TYPE yomu_search_cache_total counter\n")
	for _, k := range sortedKeys(cacheOutcomesTotal) {
		fmt.Fprintf(&b, "yomu_search_cache_total{outcome=\"%s\"} %d\n", k, cacheOutcomesTotal[k])
	}

	b.WriteString("# HELP yomu_formatted_pages_total Pages formatted by mode\n")
	b.WriteString("# TYPE yomu_formatted_pages_total counter\n")
	for _, k := range sortedKeys(formattedPagesTotal) {
		fmt.Fprintf(&b, "yomu_formatted_pages_total{mode=\"%s\"} %d\n", k, formattedPagesTotal[k])
	}

	b.WriteString("# HELP yomu_scrape_snapshots_total Snapshots yielded by scrape streams\n")
	b.WriteString("# TYPE yomu_scrape_snapshots_total counter\n")
	fmt.Fprintf(&b, "yomu_scrape_snapshots_total %d\n", snapshotsTotal)

	b.WriteString("# HELP yomu_scrape_errors_total Scrape streams that ended in error\n")
	b.WriteString("# TYPE yomu_scrape_errors_total counter\n")
	fmt.Fprintf(&b, "yomu_scrape_errors_total %d\n", scrapeErrorsTotal)

	b.WriteString("# HELP yomu_screenshots_written_total Screenshot files persisted\n")
	b.WriteString("# TYPE yomu_screenshots_written_total counter\n")
	fmt.Fprintf(&b, "yomu_screenshots_written_total %d\n", screenshotsWritten)

	b.WriteString("# HELP yomu_cache_rows_deleted_total Cache rows deleted by TTL\n")
	b.WriteString("# TYPE yomu_cache_rows_deleted_total counter\n")
	fmt.Fprintf(&b, "yomu_cache_rows_deleted_total %d\n", cacheRowsDeleted)

	b.WriteString("# HELP yomu_screenshots_deleted_total Screenshot files deleted by TTL\n")
	b.WriteString("# TYPE yomu_screenshots_deleted_total counter\n")
	fmt.Fprintf(&b, "yomu_screenshots_deleted_total %d\n", screenshotsDeleted)

	return b.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
