package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Mode selects the output format for a formatted page or batch.
type Mode string

const (
	ModeMarkdown   Mode = "markdown"
	ModeHTML       Mode = "html"
	ModeText       Mode = "text"
	ModeScreenshot Mode = "screenshot"
	ModePageshot   Mode = "pageshot"
)

// ParseMode normalizes a mode string, falling back to markdown for
// empty or unknown values.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeHTML:
		return ModeHTML
	case ModeText:
		return ModeText
	case ModeScreenshot:
		return ModeScreenshot
	case ModePageshot:
		return ModePageshot
	default:
		return ModeMarkdown
	}
}

// RequestContext carries per-request rendering options into the
// formatter and pipelines. It is passed explicitly; per-request state
// never lives in package globals.
type RequestContext struct {
	Mode              Mode
	Host              string
	UserAgent         string
	WithGeneratedAlt  bool
	WithImagesSummary bool
	WithLinksSummary  bool
}

// SearchQuery is the immutable description of one upstream search.
type SearchQuery struct {
	Text            string   `json:"text"`
	Count           int      `json:"count"`
	Categories      []string `json:"categories,omitempty"`
	Engines         []string `json:"engines,omitempty"`
	EnabledEngines  []string `json:"enabledEngines,omitempty"`
	DisabledEngines []string `json:"disabledEngines,omitempty"`
	Language        string   `json:"language,omitempty"`
	TimeRange       string   `json:"timeRange,omitempty"`
	PageNumber      int      `json:"pageNumber,omitempty"`
}

// UpstreamResult is a single hit from the meta-search engine. Its
// position in the response is authoritative for the slot index used by
// the scrape aggregator and the output batch.
type UpstreamResult struct {
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	Engine   string  `json:"engine"`
	Score    float64 `json:"score"`
	Category string  `json:"category"`
}

// UpstreamSearchResponse models the subset of the SearxNG JSON response
// the pipelines consume. The auxiliary blocks are kept as raw JSON so
// cached responses round-trip without loss.
type UpstreamSearchResponse struct {
	Query               string           `json:"query"`
	NumberOfResults     float64          `json:"number_of_results"`
	Results             []UpstreamResult `json:"results"`
	Answers             json.RawMessage  `json:"answers,omitempty"`
	Corrections         json.RawMessage  `json:"corrections,omitempty"`
	Infoboxes           json.RawMessage  `json:"infoboxes,omitempty"`
	Suggestions         json.RawMessage  `json:"suggestions,omitempty"`
	UnresponsiveEngines json.RawMessage  `json:"unresponsive_engines,omitempty"`
}

// ParsedContent is the readability-style extraction a snapshot producer
// may attach to a snapshot.
type ParsedContent struct {
	Title         string
	Content       string
	PublishedTime string
}

// PageSnapshot is the producer-defined view of one rendered page.
// Within a scrape stream, later snapshots supersede earlier ones;
// Version increases monotonically per stream and keys the formatter's
// result cache.
type PageSnapshot struct {
	Href         string
	Title        string
	HTML         string
	Text         string
	Parsed       *ParsedContent
	Screenshot   []byte
	Pageshot     []byte
	Rebase       string
	MaxElemDepth int
	ElemCount    int
	IsPDF        bool
	Version      int
}

// FormattedPage is the unified per-page output record.
// TextRepresentation is the canonical string form selected by the
// formatter's mode dispatch.
type FormattedPage struct {
	Title              string
	Description        string
	URL                string
	Content            string
	PublishedTime      string
	HTML               string
	Text               string
	ScreenshotURL      string
	PageshotURL        string
	Links              map[string]string
	Images             map[string]string
	TextRepresentation string
}

// Qualified reports whether the page carries enough content to count
// toward the search pipeline's qualification gate.
func (p *FormattedPage) Qualified() bool {
	if p == nil {
		return false
	}
	if p.Title != "" && p.Content != "" {
		return true
	}
	return p.ScreenshotURL != "" || p.PageshotURL != "" || p.Text != "" || p.HTML != ""
}

// String renders the page for a single-URL response. When the
// formatter selected a text representation, that wins; otherwise the
// full template is used. Summary blocks are appended when present.
func (p *FormattedPage) String() string {
	var b strings.Builder
	if p.TextRepresentation != "" {
		b.WriteString(p.TextRepresentation)
	} else {
		fmt.Fprintf(&b, "Title: %s\n\n", p.Title)
		fmt.Fprintf(&b, "URL Source: %s\n", p.URL)
		if p.PublishedTime != "" {
			fmt.Fprintf(&b, "Published Time: %s\n", p.PublishedTime)
		}
		b.WriteString("Markdown Content:\n")
		b.WriteString(p.Content)
	}

	if block := summaryBlock("Images", p.Images, func(k, v string) string {
		return fmt.Sprintf("- ![%s](%s)", k, v)
	}); block != "" {
		b.WriteString("\n")
		b.WriteString(block)
	}
	if block := summaryBlock("Links/Buttons", p.Links, func(k, v string) string {
		return fmt.Sprintf("- [%s](%s)", k, v)
	}); block != "" {
		b.WriteString("\n")
		b.WriteString(block)
	}

	return b.String()
}

// Numbered renders the page as entry i of a search batch. Entries with
// markdown content use the full template; entries with only a snippet
// use the short one; empty slots report the URL that produced nothing.
func (p *FormattedPage) Numbered(i int) string {
	prefix := fmt.Sprintf("[%d]", i)
	if p.Content == "" && p.Description == "" {
		return fmt.Sprintf("%s No content available for %s", prefix, p.URL)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Title: %s\n", prefix, p.Title)
	fmt.Fprintf(&b, "%s URL Source: %s\n", prefix, p.URL)
	if p.PublishedTime != "" {
		fmt.Fprintf(&b, "%s Published Time: %s\n", prefix, p.PublishedTime)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "%s Description: %s\n", prefix, p.Description)
	}
	if p.Content != "" {
		fmt.Fprintf(&b, "%s Markdown Content:\n%s", prefix, p.Content)
	} else if p.TextRepresentation != "" {
		fmt.Fprintf(&b, "%s Content:\n%s", prefix, p.TextRepresentation)
	}
	return strings.TrimRight(b.String(), "\n")
}

// summaryBlock renders a titled list from a map with stable key order.
func summaryBlock(title string, entries map[string]string, line func(k, v string) string) string {
	if len(entries) == 0 {
		return ""
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(title)
	b.WriteString(":\n")
	for _, k := range keys {
		b.WriteString(line(k, entries[k]))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
