package server

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"yomu/internal/browser"
	"yomu/internal/errs"
	"yomu/internal/model"
	"yomu/internal/pipeline"
)

// maxScrapeTimeout caps the per-request timeout a caller may set via
// X-Timeout.
const maxScrapeTimeout = 180 * time.Second

func (s *Server) searchHandler(c *fiber.Ctx) error {
	text := pathParam(c, "/s/")
	if strings.TrimSpace(text) == "" {
		return respondError(c, errs.ParamValidation("missing search query"))
	}

	count := s.config.Search.DefaultCount
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return respondError(c, errs.ParamValidation("invalid count %q", raw))
		}
		count = n
	}
	if count < 0 {
		count = 0
	}
	if count > s.config.Search.MaxCount {
		count = s.config.Search.MaxCount
	}

	// X-Locale forwards as the search language; the operator header
	// overrides it when both are present.
	language := c.Get("X-Locale")
	if v := c.Get("x-language"); v != "" {
		language = v
	}

	q := model.SearchQuery{
		Text:            text,
		Count:           count,
		Categories:      append(commaList(c.Query("categories")), headerList(c, "x-categories")...),
		Engines:         append(commaList(c.Query("engines")), headerList(c, "x-engines")...),
		EnabledEngines:  headerList(c, "x-enabled-engines"),
		DisabledEngines: headerList(c, "x-disabled-engines"),
		Language:        language,
		TimeRange:       c.Get("x-time_range"),
	}

	rc := requestContext(c)
	scrape, timeoutMs, err := scrapeOptions(c, rc)
	if err != nil {
		return respondError(c, err)
	}

	in := &pipeline.SearchInput{
		Query:      q,
		NoCache:    boolHeader(c, "X-No-Cache"),
		TimeoutMs:  timeoutMs,
		Scrape:     *scrape,
		RequestCtx: rc,
	}

	batch, err := s.search.Run(c.Context(), in)
	if err != nil {
		return respondError(c, err)
	}

	c.Type("txt", "utf-8")
	return c.SendString(batch.String())
}

func (s *Server) crawlHandler(c *fiber.Ctx) error {
	// The target URL is everything after "/r/", query string included,
	// so URLs with their own query survive.
	target := wildcardParam(c, "/r/")

	rc := requestContext(c)
	scrape, _, err := scrapeOptions(c, rc)
	if err != nil {
		return respondError(c, err)
	}

	in := &pipeline.CrawlInput{
		URL:        target,
		Scrape:     *scrape,
		RequestCtx: rc,
	}

	page, err := s.crawl.Run(c.Context(), in)
	if err != nil {
		return respondError(c, err)
	}

	return s.respondPage(c, page, rc)
}

type crawlBody struct {
	URL         string `json:"url"`
	HTML        string `json:"html"`
	RespondWith string `json:"respondWith"`
	Timeout     int    `json:"timeout"`
}

// crawlPostHandler mirrors the GET route for clients that cannot encode
// the target into the path, and additionally accepts caller-supplied
// HTML to format without fetching.
func (s *Server) crawlPostHandler(c *fiber.Ctx) error {
	var body crawlBody
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, errs.ParamValidation("invalid request body"))
	}
	if body.URL == "" && body.HTML == "" {
		return respondError(c, errs.ParamValidation("either url or html is required"))
	}

	rc := requestContext(c)
	if body.RespondWith != "" {
		rc.Mode = model.ParseMode(body.RespondWith)
	}

	if body.HTML != "" {
		href := body.URL
		if href == "" {
			href = "about:blank"
		}
		snap := browser.BuildSnapshot(href, body.HTML, 1, &browser.ScrapeOptions{Mode: rc.Mode})
		page, err := s.formatter.Format(snap, href, rc)
		if err != nil {
			return respondError(c, err)
		}
		return s.respondPage(c, page, rc)
	}

	scrape, _, err := scrapeOptions(c, rc)
	if err != nil {
		return respondError(c, err)
	}
	if body.Timeout > 0 {
		scrape.Timeout = time.Duration(body.Timeout) * time.Second
	}

	in := &pipeline.CrawlInput{
		URL:        body.URL,
		Scrape:     *scrape,
		RequestCtx: rc,
	}
	page, err := s.crawl.Run(c.Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return s.respondPage(c, page, rc)
}

// respondPage writes a single formatted page. Screenshot modes redirect
// to the stored asset instead of inlining it.
func (s *Server) respondPage(c *fiber.Ctx, page *model.FormattedPage, rc *model.RequestContext) error {
	switch rc.Mode {
	case model.ModeScreenshot:
		if page.ScreenshotURL != "" {
			return c.Redirect(page.ScreenshotURL, fiber.StatusFound)
		}
	case model.ModePageshot:
		if page.PageshotURL != "" {
			return c.Redirect(page.PageshotURL, fiber.StatusFound)
		}
	}
	c.Type("txt", "utf-8")
	return c.SendString(page.String())
}

// requestContext collects the rendering options carried in headers.
func requestContext(c *fiber.Ctx) *model.RequestContext {
	return &model.RequestContext{
		Mode:              model.ParseMode(c.Get("X-Respond-With")),
		Host:              c.Hostname(),
		UserAgent:         c.Get("User-Agent"),
		WithGeneratedAlt:  boolHeader(c, "X-With-Generated-Alt"),
		WithImagesSummary: boolHeader(c, "X-With-Images-Summary"),
		WithLinksSummary:  boolHeader(c, "X-With-Links-Summary"),
	}
}

// scrapeOptions collects browser tuning headers. Returns the options,
// the caller's timeout in milliseconds, and a validation error.
func scrapeOptions(c *fiber.Ctx, rc *model.RequestContext) (*browser.ScrapeOptions, int, error) {
	opts := &browser.ScrapeOptions{
		Mode:            rc.Mode,
		WaitForSelector: c.Get("X-Wait-For-Selector"),
		TargetSelector:  c.Get("X-Target-Selector"),
		RemoveSelector:  c.Get("X-Remove-Selector"),
		ProxyURL:        c.Get("X-Proxy-Url"),
		UserAgent:       c.Get("X-User-Agent"),
		Locale:          c.Get("X-Locale"),
	}

	timeoutMs := 0
	if raw := c.Get("X-Timeout"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, 0, errs.ParamValidation("invalid X-Timeout %q", raw)
		}
		timeout := time.Duration(secs) * time.Second
		if timeout > maxScrapeTimeout {
			timeout = maxScrapeTimeout
		}
		opts.Timeout = timeout
		timeoutMs = int(timeout / time.Millisecond)
	}

	return opts, timeoutMs, nil
}

// wildcardParam returns the raw request path after the route prefix,
// percent-decoded, with the original query string reattached. Crawl
// targets need the query string: it belongs to the target URL.
func wildcardParam(c *fiber.Ctx, prefix string) string {
	full := c.OriginalURL()
	if len(full) < len(prefix) {
		return ""
	}
	raw := full[len(prefix):]
	// PathUnescape, not QueryUnescape: a literal + in a target URL must
	// survive.
	if dec, err := url.PathUnescape(raw); err == nil {
		return dec
	}
	return raw
}

// pathParam returns the decoded path after the route prefix, without
// the query string. Search terms live in the path; query parameters
// like count are ours.
func pathParam(c *fiber.Ctx, prefix string) string {
	p := c.Path()
	if len(p) < len(prefix) {
		return ""
	}
	raw := p[len(prefix):]
	if dec, err := url.PathUnescape(raw); err == nil {
		return dec
	}
	return raw
}

// headerList splits a comma-separated operator header into values.
func headerList(c *fiber.Ctx, name string) []string {
	return commaList(c.Get(name))
}

func commaList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func boolHeader(c *fiber.Ctx, name string) bool {
	v := strings.ToLower(c.Get(name))
	return v == "true" || v == "1" || v == "yes"
}

// respondError maps pipeline errors onto plain-text status responses.
func respondError(c *fiber.Ctx, err error) error {
	status := errs.HTTPStatus(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "internal server error"
	}
	c.Type("txt", "utf-8")
	return c.Status(status).SendString(msg)
}
