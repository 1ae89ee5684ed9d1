package markdown

import (
	"net/url"
	"strings"
	"testing"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestConvertTitleBecomesSetextHeading(t *testing.T) {
	res := Convert(`<html><head><title>My Page</title></head><body><p>hi</p></body></html>`, Options{})
	if !strings.Contains(res.Markdown, "My Page\n===============") {
		t.Fatalf("title not rendered as setext heading:\n%s", res.Markdown)
	}
}

func TestConvertStripsIrrelevantTags(t *testing.T) {
	html := `<body><style>p{color:red}</style><script>alert(1)</script><noscript>js off</noscript><p>keep</p></body>`
	res := Convert(html, Options{})
	for _, bad := range []string{"color:red", "alert(1)", "js off"} {
		if strings.Contains(res.Markdown, bad) {
			t.Fatalf("stripped tag content leaked: %q in\n%s", bad, res.Markdown)
		}
	}
	if !strings.Contains(res.Markdown, "keep") {
		t.Fatalf("paragraph content lost:\n%s", res.Markdown)
	}
}

func TestConvertNoRulesKeepsDocumentStructure(t *testing.T) {
	html := `<head><title>T</title></head><body><p>body</p></body>`
	res := Convert(html, Options{NoRules: true})
	if strings.Contains(res.Markdown, "===============") {
		t.Fatalf("NoRules still applied the title rule:\n%s", res.Markdown)
	}
}

func TestConvertInlineLink(t *testing.T) {
	base := mustURL(t, "https://example.com/docs/")
	res := Convert(`<p>See <a href="guide">the   guide</a>.</p>`, Options{BaseURL: base})

	if !strings.Contains(res.Markdown, "[the guide](https://example.com/docs/guide)") {
		t.Fatalf("link not inlined and resolved:\n%s", res.Markdown)
	}
	if res.Links["the guide"] != "https://example.com/docs/guide" {
		t.Fatalf("link not recorded: %+v", res.Links)
	}
}

func TestConvertLinkEscapesParens(t *testing.T) {
	res := Convert(`<a href="https://en.wikipedia.org/wiki/Go_(language)">Go</a>`, Options{})
	if !strings.Contains(res.Markdown, `\(language\)`) {
		t.Fatalf("parens in href not escaped:\n%s", res.Markdown)
	}
}

func TestConvertLinkTitleQuoted(t *testing.T) {
	res := Convert(`<a href="https://x.example" title="say &quot;hi&quot;">x</a>`, Options{})
	if !strings.Contains(res.Markdown, `"say \"hi\""`) {
		t.Fatalf("title quotes not escaped:\n%s", res.Markdown)
	}
}

func TestConvertInlineCodeFencing(t *testing.T) {
	res := Convert("<p>use <code>a `tick` b</code></p>", Options{})
	if !strings.Contains(res.Markdown, "``a `tick` b``") {
		t.Fatalf("inline backticks not fenced:\n%s", res.Markdown)
	}

	res = Convert("<p><code>`lead</code></p>", Options{})
	if !strings.Contains(res.Markdown, "`` `lead ``") {
		t.Fatalf("leading backtick not padded:\n%s", res.Markdown)
	}
}

func TestConvertMultilineCodeBecomesBlock(t *testing.T) {
	res := Convert("<p><code>line1\nline2</code></p>", Options{})
	if !strings.Contains(res.Markdown, "```\nline1\nline2\n```") {
		t.Fatalf("multiline code not rendered as a block:\n%s", res.Markdown)
	}
}

func TestConvertImagesNumbered(t *testing.T) {
	base := mustURL(t, "https://example.com/")
	html := `<img src="/a.png" alt="first"><img src="/b.png">`
	res := Convert(html, Options{BaseURL: base})

	if !strings.Contains(res.Markdown, "![Image 1: first](https://example.com/a.png)") {
		t.Fatalf("first image wrong:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "![Image 2](https://example.com/b.png)") {
		t.Fatalf("second image wrong:\n%s", res.Markdown)
	}
	if len(res.Images) != 2 || res.Images[0].Index != 1 || res.Images[1].Index != 2 {
		t.Fatalf("image inventory wrong: %+v", res.Images)
	}
}

func TestConvertImageDataSrcFallback(t *testing.T) {
	res := Convert(`<img data-src="https://cdn.example/x.png">`, Options{})
	if !strings.Contains(res.Markdown, "https://cdn.example/x.png") {
		t.Fatalf("data-src fallback not used:\n%s", res.Markdown)
	}

	res = Convert(`<img data-src="data:image/png;base64,AAAA">`, Options{})
	if strings.Contains(res.Markdown, "base64") {
		t.Fatalf("data: payload leaked through data-src fallback:\n%s", res.Markdown)
	}
}

func TestConvertDataURLToObjectURL(t *testing.T) {
	base := mustURL(t, "https://example.com/page")
	res := Convert(`<img src="data:image/png;base64,AAAA" alt="inline">`, Options{
		BaseURL:               base,
		ImgDataURLToObjectURL: true,
	})
	if strings.Contains(res.Markdown, "base64,AAAA") {
		t.Fatalf("data URL payload leaked:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "blob:https://example.com/") {
		t.Fatalf("pseudo object URL missing:\n%s", res.Markdown)
	}
}

func TestConvertGFMTable(t *testing.T) {
	html := `<table><thead><tr><th>A</th><th>B</th></tr></thead><tbody><tr><td>1</td><td>2</td></tr></tbody></table>`
	res := Convert(html, Options{})
	if !strings.Contains(res.Markdown, "| A | B |") {
		t.Fatalf("table not rendered in GFM:\n%s", res.Markdown)
	}
}

// Markdown-shaped text wrapped in paragraphs must survive a second pass
// unchanged: escaping is disabled so the rewriter is idempotent on its
// own output.
func TestConvertIdempotentOnOwnOutput(t *testing.T) {
	first := Convert(`<p>Use *stars* and [a link](https://x.example) freely.</p>`, Options{})
	second := Convert("<p>"+strings.TrimSpace(first.Markdown)+"</p>", Options{})
	if strings.TrimSpace(second.Markdown) != strings.TrimSpace(first.Markdown) {
		t.Fatalf("second pass changed output:\nfirst:  %q\nsecond: %q", first.Markdown, second.Markdown)
	}
}

func TestLongestBacktickRun(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"no ticks", 0},
		{"a `b` c", 1},
		{"a ``b`` c", 2},
		{"````", 4},
	}
	for _, tc := range cases {
		if got := longestBacktickRun(tc.in); got != tc.want {
			t.Fatalf("longestBacktickRun(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
