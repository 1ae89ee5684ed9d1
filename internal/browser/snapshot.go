package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"yomu/internal/model"
	"yomu/internal/urlutil"
)

// readabilityCandidates are tried in order when extracting the main
// content subtree of a page.
var readabilityCandidates = []string{"article", "main", "[role=main]", "#content"}

// BuildSnapshot derives a PageSnapshot from rendered HTML. Selector
// pruning and narrowing happen here so every downstream consumer sees
// the same document.
func BuildSnapshot(href, html string, version int, opts *ScrapeOptions) *model.PageSnapshot {
	snap := &model.PageSnapshot{
		Href:    href,
		HTML:    html,
		Version: version,
		IsPDF:   strings.HasSuffix(strings.ToLower(strings.TrimSuffix(href, "/")), ".pdf"),
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		snap.Text = html
		return snap
	}

	if opts != nil && opts.RemoveSelector != "" {
		doc.Find(opts.RemoveSelector).Remove()
	}
	if opts != nil && opts.TargetSelector != "" {
		if sel := doc.Find(opts.TargetSelector).First(); sel.Length() > 0 {
			if narrowed, err := goquery.OuterHtml(sel); err == nil && narrowed != "" {
				snap.HTML = narrowed
			}
		}
	}

	snap.Title = strings.TrimSpace(doc.Find("title").First().Text())
	snap.Text = strings.TrimSpace(doc.Find("body").Text())
	snap.ElemCount = doc.Find("*").Length()
	snap.MaxElemDepth = maxDepth(doc.Selection, 0)

	if base, ok := doc.Find("base[href]").First().Attr("href"); ok && strings.TrimSpace(base) != "" {
		snap.Rebase = strings.TrimSpace(base)
	}

	snap.Parsed = extractParsed(doc, snap.Title)
	return snap
}

// extractParsed pulls the main content subtree and publication
// metadata, mirroring what a readability pass would hand back.
func extractParsed(doc *goquery.Document, fallbackTitle string) *model.ParsedContent {
	published := doc.Find(`meta[property="article:published_time"]`).AttrOr("content", "")
	if published == "" {
		published = doc.Find(`meta[name="date"]`).AttrOr("content", "")
	}

	var content string
	for _, candidate := range readabilityCandidates {
		sel := doc.Find(candidate).First()
		if sel.Length() == 0 {
			continue
		}
		if text := urlutil.CollapseSpaces(sel.Text()); len(text) < 80 {
			continue
		}
		if html, err := goquery.OuterHtml(sel); err == nil {
			content = html
			break
		}
	}

	if content == "" && published == "" {
		return nil
	}

	title := doc.Find(`meta[property="og:title"]`).AttrOr("content", "")
	if title == "" {
		title = fallbackTitle
	}

	return &model.ParsedContent{
		Title:         title,
		Content:       content,
		PublishedTime: published,
	}
}

func maxDepth(sel *goquery.Selection, depth int) int {
	deepest := depth
	sel.Children().Each(func(_ int, child *goquery.Selection) {
		if d := maxDepth(child, depth+1); d > deepest {
			deepest = d
		}
	})
	return deepest
}
