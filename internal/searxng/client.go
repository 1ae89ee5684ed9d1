package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"yomu/internal/config"
	"yomu/internal/errs"
	"yomu/internal/model"
)

// defaultUserAgent is sent upstream when the request did not carry one.
const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

const maxAttempts = 5

// Client performs one-shot searches against a SearxNG instance with the
// JSON API enabled.
type Client struct {
	baseURL   string
	client    *http.Client
	userAgent string

	// sleep is swappable so tests do not wait out 429 backoffs.
	sleep func(time.Duration)
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.SearxngConfig) *Client {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		userAgent: cfg.UserAgent,
		sleep:     time.Sleep,
	}
}

// Search executes one search for the given page. It retries HTTP 429
// with jittered backoff up to the attempt budget and fails fast on
// everything else.
func (c *Client) Search(ctx context.Context, q *model.SearchQuery, userAgent string) (*model.UpstreamSearchResponse, error) {
	if q == nil || strings.TrimSpace(q.Text) == "" {
		return nil, errs.ParamValidation("empty search query")
	}

	endpoint := c.baseURL + "/search?" + c.queryValues(q).Encode()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, errs.Downstream("build search request", err)
		}
		req.Header.Set("Accept", "application/json")
		ua := userAgent
		if ua == "" {
			ua = c.userAgent
		}
		if ua == "" {
			ua = defaultUserAgent
		}
		req.Header.Set("User-Agent", ua)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, errs.Downstream("search request failed", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("upstream returned 429")
			c.sleep(time.Duration(500+rand.Intn(1000)) * time.Millisecond)
			continue
		}

		payload, err := decodeResponse(resp)
		if err != nil {
			return nil, err
		}
		return payload, nil
	}

	return nil, errs.Downstream("search retries exhausted", lastErr)
}

func decodeResponse(resp *http.Response) (*model.UpstreamSearchResponse, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.Downstream(fmt.Sprintf("upstream search status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Downstream("read search response", err)
	}

	// The upstream contract is a JSON object; anything else (HTML error
	// pages, bare arrays) is a downstream failure.
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, errs.Downstream("upstream search returned a non-object body", nil)
	}

	var payload model.UpstreamSearchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errs.Downstream("decode search response", err)
	}
	return &payload, nil
}

func (c *Client) queryValues(q *model.SearchQuery) url.Values {
	values := url.Values{}
	values.Set("q", q.Text)
	values.Set("format", "json")
	if q.Language != "" {
		values.Set("language", q.Language)
	}
	if q.PageNumber > 0 {
		values.Set("pageno", strconv.Itoa(q.PageNumber))
	}
	if q.TimeRange != "" {
		values.Set("time_range", q.TimeRange)
	}
	if len(q.Categories) > 0 {
		values.Set("categories", strings.Join(q.Categories, ","))
	}
	if len(q.Engines) > 0 {
		values.Set("engines", strings.Join(q.Engines, ","))
	}
	if len(q.EnabledEngines) > 0 {
		values.Set("enabled_engines", strings.Join(q.EnabledEngines, ","))
	}
	if len(q.DisabledEngines) > 0 {
		values.Set("disabled_engines", strings.Join(q.DisabledEngines, ","))
	}
	return values
}
