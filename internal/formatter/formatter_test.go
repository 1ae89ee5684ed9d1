package formatter

import (
	"log/slog"
	"strings"
	"testing"

	"yomu/internal/model"
	"yomu/internal/screenshots"
)

func newTestFormatter(t *testing.T) *Formatter {
	t.Helper()
	shots, err := screenshots.New(t.TempDir())
	if err != nil {
		t.Fatalf("screenshot store: %v", err)
	}
	return New(shots, slog.Default())
}

func htmlSnapshot(html string) *model.PageSnapshot {
	return &model.PageSnapshot{
		Href:    "https://example.com/page",
		Title:   "Example",
		HTML:    html,
		Text:    "plain text body",
		Version: 1,
	}
}

func TestFormatMarkdownMode(t *testing.T) {
	f := newTestFormatter(t)
	snap := htmlSnapshot(`<body><h1>Hello</h1><p>World</p></body>`)

	page, err := f.Format(snap, "https://example.com/page", &model.RequestContext{Mode: model.ModeMarkdown})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if !strings.Contains(page.Content, "Hello") || !strings.Contains(page.Content, "World") {
		t.Fatalf("markdown content missing body text: %q", page.Content)
	}
	if page.TextRepresentation != "" {
		t.Fatalf("markdown mode must render through the full template, got text representation %q", page.TextRepresentation)
	}
	out := page.String()
	for _, want := range []string{"Title: Example", "URL Source: https://example.com/page", "Markdown Content:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown string form missing %q:\n%s", want, out)
		}
	}
}

func TestFormatHTMLMode(t *testing.T) {
	f := newTestFormatter(t)
	snap := htmlSnapshot(`<body><p>raw</p></body>`)

	page, err := f.Format(snap, "", &model.RequestContext{Mode: model.ModeHTML})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if page.HTML != snap.HTML || page.TextRepresentation != snap.HTML {
		t.Fatalf("html mode did not pass HTML through")
	}
	if page.URL != snap.Href {
		t.Fatalf("empty nominal URL must fall back to snapshot href, got %q", page.URL)
	}
}

func TestFormatTextMode(t *testing.T) {
	f := newTestFormatter(t)
	snap := htmlSnapshot(`<body><p>x</p></body>`)

	page, err := f.Format(snap, "https://example.com/page", &model.RequestContext{Mode: model.ModeText})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if page.Text != snap.Text || page.TextRepresentation != snap.Text {
		t.Fatalf("text mode did not use snapshot text")
	}
}

func TestFormatScreenshotMode(t *testing.T) {
	f := newTestFormatter(t)
	snap := htmlSnapshot(`<body></body>`)
	snap.Screenshot = []byte("png-bytes")

	rc := &model.RequestContext{Mode: model.ModeScreenshot, Host: "reader.local:3000"}
	page, err := f.Format(snap, "https://example.com/page", rc)
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if !strings.HasPrefix(page.ScreenshotURL, "http://reader.local:3000"+screenshots.RoutePrefix+"/") {
		t.Fatalf("screenshot URL wrong: %q", page.ScreenshotURL)
	}
	if page.TextRepresentation != page.ScreenshotURL+"\n" {
		t.Fatalf("screenshot text representation wrong: %q", page.TextRepresentation)
	}
	if !page.Qualified() {
		t.Fatalf("page with screenshot URL must qualify")
	}
}

func TestFormatPageshotKeepsHTML(t *testing.T) {
	f := newTestFormatter(t)
	snap := htmlSnapshot(`<body>page</body>`)
	snap.Pageshot = []byte("png-bytes")

	page, err := f.Format(snap, "", &model.RequestContext{Mode: model.ModePageshot, Host: "h"})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if page.PageshotURL == "" || page.HTML != snap.HTML {
		t.Fatalf("pageshot mode must set both URL and HTML")
	}
}

func TestFormatParsedTitleOverrides(t *testing.T) {
	f := newTestFormatter(t)
	snap := htmlSnapshot(`<body><p>text</p></body>`)
	snap.Parsed = &model.ParsedContent{Title: "Better Title", PublishedTime: "2024-01-01"}

	page, err := f.Format(snap, "https://example.com/page", &model.RequestContext{Mode: model.ModeMarkdown})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if page.Title != "Better Title" {
		t.Fatalf("parsed title not applied: %q", page.Title)
	}
	if page.PublishedTime != "2024-01-01" {
		t.Fatalf("published time not applied: %q", page.PublishedTime)
	}
}

func TestFormatDegradesOversizedDocuments(t *testing.T) {
	f := newTestFormatter(t)

	deep := htmlSnapshot(`<body><p>dom content</p></body>`)
	deep.MaxElemDepth = maxElemDepth + 1
	page, err := f.Format(deep, "", &model.RequestContext{Mode: model.ModeMarkdown})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if page.Content != deep.Text {
		t.Fatalf("deep document must degrade to extracted text, got %q", page.Content)
	}

	wide := htmlSnapshot(`<body><p>dom content</p></body>`)
	wide.ElemCount = maxElemCount + 1
	page, err = f.Format(wide, "", &model.RequestContext{Mode: model.ModeMarkdown})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if page.Content != wide.Text {
		t.Fatalf("wide document must degrade to extracted text, got %q", page.Content)
	}
}

func TestFormatPDFUsesParsedContent(t *testing.T) {
	f := newTestFormatter(t)
	snap := htmlSnapshot("")
	snap.IsPDF = true
	snap.Parsed = &model.ParsedContent{Content: "pdf extracted"}

	page, err := f.Format(snap, "", &model.RequestContext{Mode: model.ModeMarkdown})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if page.Content != "pdf extracted" {
		t.Fatalf("pdf content wrong: %q", page.Content)
	}
}

func TestFormatPrefersTrustworthyExtraction(t *testing.T) {
	f := newTestFormatter(t)
	snap := htmlSnapshot(`<body><nav>menu menu menu</nav><article><p>the real story</p></article></body>`)
	snap.Parsed = &model.ParsedContent{
		Content: `<article><p>the real story</p></article>`,
	}

	page, err := f.Format(snap, "", &model.RequestContext{Mode: model.ModeMarkdown})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if !strings.Contains(page.Content, "the real story") {
		t.Fatalf("extraction lost: %q", page.Content)
	}
	if strings.Contains(page.Content, "menu menu menu") {
		t.Fatalf("nav chrome leaked into trusted extraction: %q", page.Content)
	}
}

func TestFormatIgnoresTinyExtraction(t *testing.T) {
	f := newTestFormatter(t)
	long := strings.Repeat("<p>full document paragraph with plenty of words in it</p>", 20)
	snap := htmlSnapshot("<body>" + long + "</body>")
	snap.Parsed = &model.ParsedContent{Content: "<p>tiny</p>"}

	page, err := f.Format(snap, "", &model.RequestContext{Mode: model.ModeMarkdown})
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if !strings.Contains(page.Content, "full document paragraph") {
		t.Fatalf("tiny extraction should have been rejected: %q", page.Content)
	}
}

func TestFormatImageAndLinkSummaries(t *testing.T) {
	f := newTestFormatter(t)
	snap := htmlSnapshot(`<body><p><a href="https://a.example/x">anchor</a></p><img src="https://img.example/1.png" alt="one"><img src="https://img.example/1.png"></body>`)

	rc := &model.RequestContext{
		Mode:              model.ModeMarkdown,
		WithImagesSummary: true,
		WithLinksSummary:  true,
	}
	page, err := f.Format(snap, "", rc)
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}

	if got := page.Images["Image 1,2: one"]; got != "https://img.example/1.png" {
		t.Fatalf("image summary grouping wrong: %+v", page.Images)
	}
	if got := page.Links["anchor"]; got != "https://a.example/x" {
		t.Fatalf("link summary wrong: %+v", page.Links)
	}
}

func TestImageSummaryGrouping(t *testing.T) {
	out := imageSummary(nil)
	if out != nil {
		t.Fatalf("empty input must return nil, got %+v", out)
	}
}
