package formatter

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"yomu/internal/markdown"
	"yomu/internal/metrics"
	"yomu/internal/model"
	"yomu/internal/screenshots"
)

// Degrade thresholds: documents bigger than this are converted from
// extracted text instead of the DOM.
const (
	maxElemDepth = 256
	maxElemCount = 70000
)

// readabilityRatio is the minimum size of the extracted-content
// conversion relative to the full-document conversion for the
// extraction to be trusted.
const readabilityRatio = 0.3

// Formatter turns page snapshots into formatted page records according
// to the requested mode.
type Formatter struct {
	shots  *screenshots.Store
	logger *slog.Logger
}

func New(shots *screenshots.Store, logger *slog.Logger) *Formatter {
	return &Formatter{shots: shots, logger: logger}
}

// Format dispatches on the request mode and produces the unified page
// record. Non-markdown modes carry an explicit text representation;
// markdown renders through the page's template string form.
func (f *Formatter) Format(snap *model.PageSnapshot, nominalURL string, rc *model.RequestContext) (*model.FormattedPage, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}

	page := &model.FormattedPage{
		Title: snap.Title,
		URL:   nominalURL,
	}
	if page.URL == "" {
		page.URL = snap.Href
	}
	if snap.Parsed != nil {
		if snap.Parsed.Title != "" {
			page.Title = snap.Parsed.Title
		}
		page.PublishedTime = snap.Parsed.PublishedTime
	}

	mode := model.ModeMarkdown
	if rc != nil {
		mode = rc.Mode
	}
	metrics.RecordFormattedPage(string(mode))

	switch mode {
	case model.ModeScreenshot:
		if err := f.attachScreenshot(snap.Screenshot, "screenshot", rc, &page.ScreenshotURL); err != nil {
			return nil, err
		}
		page.TextRepresentation = page.ScreenshotURL + "\n"
		return page, nil

	case model.ModePageshot:
		if err := f.attachScreenshot(snap.Pageshot, "pageshot", rc, &page.PageshotURL); err != nil {
			return nil, err
		}
		page.HTML = snap.HTML
		page.TextRepresentation = page.PageshotURL + "\n"
		return page, nil

	case model.ModeHTML:
		page.HTML = snap.HTML
		page.TextRepresentation = snap.HTML
		return page, nil

	case model.ModeText:
		page.Text = snap.Text
		page.TextRepresentation = snap.Text
		return page, nil
	}

	// Markdown mode leaves TextRepresentation empty: its string form is
	// the full Title / URL Source / Markdown Content template.
	f.formatMarkdown(snap, page, rc)
	return page, nil
}

func (f *Formatter) attachScreenshot(data []byte, kind string, rc *model.RequestContext, target *string) error {
	if len(data) == 0 || *target != "" {
		return nil
	}
	name, err := f.shots.Save(kind, data)
	if err != nil {
		return fmt.Errorf("persist %s: %w", kind, err)
	}
	host := ""
	if rc != nil {
		host = rc.Host
	}
	*target = f.shots.URLFor(host, name)
	return nil
}

// formatMarkdown fills page.Content (and the summary mixins) from the
// snapshot's DOM, preferring the producer's readability extraction when
// it looks trustworthy.
func (f *Formatter) formatMarkdown(snap *model.PageSnapshot, page *model.FormattedPage, rc *model.RequestContext) {
	if snap.IsPDF {
		if snap.Parsed != nil && snap.Parsed.Content != "" {
			page.Content = snap.Parsed.Content
		} else {
			page.Content = snap.Text
		}
		return
	}

	if snap.MaxElemDepth > maxElemDepth || snap.ElemCount > maxElemCount {
		page.Content = snap.Text
		return
	}

	base := resolveBase(snap)
	opts := markdown.Options{BaseURL: base, ImgDataURLToObjectURL: true}

	par1 := markdown.Convert(snap.HTML, opts)
	chosen := par1

	if snap.Parsed != nil && snap.Parsed.Content != "" {
		par2 := markdown.Convert(snap.Parsed.Content, opts)
		if float64(len(par2.Markdown)) >= readabilityRatio*float64(len(par1.Markdown)) {
			// Extraction succeeded; the cleanup rules are unnecessary on
			// the already-narrowed subtree.
			noRules := opts
			noRules.NoRules = true
			chosen = markdown.Convert(snap.Parsed.Content, noRules)
		}
	}

	content := strings.TrimSpace(chosen.Markdown)
	if looksLikeRawHTML(content) || content == "" {
		chosen = par1
		content = strings.TrimSpace(par1.Markdown)
	}
	if looksLikeRawHTML(content) || content == "" {
		page.Content = snap.Text
		return
	}

	page.Content = chosen.Markdown
	if rc != nil && rc.WithImagesSummary {
		page.Images = imageSummary(chosen.Images)
	}
	if rc != nil && rc.WithLinksSummary && len(chosen.Links) > 0 {
		page.Links = chosen.Links
	}
}

func looksLikeRawHTML(s string) bool {
	return strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">")
}

func resolveBase(snap *model.PageSnapshot) *url.URL {
	raw := snap.Rebase
	if raw == "" {
		raw = snap.Href
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}

// imageSummary groups rendered images by source: each source maps from
// a label listing every 1-based position it appeared at.
func imageSummary(images []markdown.ImageRef) map[string]string {
	if len(images) == 0 {
		return nil
	}

	type group struct {
		indices []int
		alt     string
	}
	order := make([]string, 0, len(images))
	groups := make(map[string]*group)
	for _, ref := range images {
		g, ok := groups[ref.Src]
		if !ok {
			g = &group{alt: ref.Alt}
			groups[ref.Src] = g
			order = append(order, ref.Src)
		}
		g.indices = append(g.indices, ref.Index)
	}
	sort.Strings(order)

	out := make(map[string]string, len(groups))
	for _, src := range order {
		g := groups[src]
		parts := make([]string, len(g.indices))
		for i, n := range g.indices {
			parts[i] = strconv.Itoa(n)
		}
		label := "Image " + strings.Join(parts, ",")
		if g.alt != "" {
			label += ": " + g.alt
		}
		out[label] = src
	}
	return out
}
