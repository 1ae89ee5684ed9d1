package markdown

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	"yomu/internal/urlutil"
)

// Options controls one conversion run.
type Options struct {
	// NoRules skips the document-cleanup rules (irrelevant-tag removal,
	// svg truncation, title-as-h1). The paragraph, link, code, and
	// image rules always apply.
	NoRules bool
	// BaseURL resolves relative hrefs and image sources.
	BaseURL *url.URL
	// ImgDataURLToObjectURL replaces data: image sources with pseudo
	// object URLs so huge inline payloads never reach the output.
	ImgDataURLToObjectURL bool
}

// ImageRef records one rendered image, in document order. Index is the
// 1-based value used in the generated alt text.
type ImageRef struct {
	Index int
	Alt   string
	Src   string
}

// Result is the output of one conversion run: the markdown plus the
// image and link inventories collected while rewriting.
type Result struct {
	Markdown string
	Images   []ImageRef
	Links    map[string]string
}

// run holds the per-document state the rules share.
type run struct {
	opts     Options
	imgCount int
	images   []ImageRef
	links    map[string]string
}

// Convert rewrites an HTML fragment to markdown. If the rule-based run
// fails, it retries with a bare converter; if that fails too, the
// result is empty rather than an error.
func Convert(htmlFragment string, opts Options) Result {
	r := &run{opts: opts, links: map[string]string{}}

	domain := ""
	if opts.BaseURL != nil {
		domain = opts.BaseURL.Host
	}

	conv := htmlmd.NewConverter(domain, true, &htmlmd.Options{
		LinkStyle:  "inlined",
		EscapeMode: "disabled",
	})
	conv.Use(plugin.GitHubFlavored())

	if !opts.NoRules {
		conv.Remove("meta", "style", "script", "noscript", "link", "textarea", "select")
		conv.Remove("svg")
		conv.AddRules(r.titleRule())
	}
	conv.AddRules(r.paragraphRule(), r.inlineLinkRule(), r.codeRule(), r.imageRule())

	out, err := conv.ConvertString(htmlFragment)
	if err != nil {
		plain := htmlmd.NewConverter(domain, true, nil)
		out, err = plain.ConvertString(htmlFragment)
		if err != nil {
			out = ""
		}
	}

	return Result{Markdown: out, Images: r.images, Links: r.links}
}

// titleRule renders the document <title> as a setext heading.
func (r *run) titleRule() htmlmd.Rule {
	return htmlmd.Rule{
		Filter: []string{"title"},
		Replacement: func(content string, selec *goquery.Selection, opt *htmlmd.Options) *string {
			text := strings.TrimSpace(selec.Text())
			if text == "" {
				return htmlmd.String("")
			}
			return htmlmd.String(text + "\n===============\n")
		},
	}
}

// paragraphRule trims paragraph content and collapses runs of blank
// lines so nested markup cannot blow up vertical spacing.
func (r *run) paragraphRule() htmlmd.Rule {
	return htmlmd.Rule{
		Filter: []string{"p"},
		Replacement: func(content string, selec *goquery.Selection, opt *htmlmd.Options) *string {
			trimmed := strings.TrimSpace(content)
			return htmlmd.String(urlutil.CollapseNewlines(trimmed) + "\n\n")
		},
	}
}

// inlineLinkRule renders anchors in inlined style with escaped hrefs
// and records every anchor for the link summary.
func (r *run) inlineLinkRule() htmlmd.Rule {
	return htmlmd.Rule{
		Filter: []string{"a"},
		Replacement: func(content string, selec *goquery.Selection, opt *htmlmd.Options) *string {
			href, ok := selec.Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return &content
			}

			resolved := urlutil.Resolve(r.opts.BaseURL, href)
			escaped := strings.NewReplacer("(", `\(`, ")", `\)`).Replace(resolved)

			text := urlutil.CollapseSpaces(content)
			if text != "" {
				r.links[text] = resolved
			}

			title := ""
			if t, ok := selec.Attr("title"); ok && strings.TrimSpace(t) != "" {
				title = ` "` + strings.ReplaceAll(t, `"`, `\"`) + `"`
			}

			return htmlmd.String("[" + text + "](" + escaped + title + ")")
		},
	}
}

// codeRule renders inline code with a fence long enough to escape any
// backtick run inside the content. Code blocks under <pre> fall through
// to the default rule.
func (r *run) codeRule() htmlmd.Rule {
	return htmlmd.Rule{
		Filter: []string{"code"},
		Replacement: func(content string, selec *goquery.Selection, opt *htmlmd.Options) *string {
			parent := selec.Parent()
			if goquery.NodeName(parent) == "pre" && parent.Children().Length() == 1 {
				return nil
			}

			code := selec.Text()
			if code == "" {
				return htmlmd.String("")
			}

			fence := strings.Repeat("`", longestBacktickRun(code)+1)
			if strings.Contains(code, "\n") {
				if len(fence) < 3 {
					fence = "```"
				}
				return htmlmd.String("\n" + fence + "\n" + code + "\n" + fence + "\n")
			}

			if strings.HasPrefix(code, "`") || strings.HasSuffix(code, "`") {
				code = " " + code + " "
			}
			return htmlmd.String(fence + code + fence)
		},
	}
}

// imageRule numbers every image, resolves its source, and records it
// for the image summary.
func (r *run) imageRule() htmlmd.Rule {
	return htmlmd.Rule{
		Filter: []string{"img"},
		Replacement: func(content string, selec *goquery.Selection, opt *htmlmd.Options) *string {
			src := strings.TrimSpace(selec.AttrOr("src", ""))
			if src == "" {
				if ds := strings.TrimSpace(selec.AttrOr("data-src", "")); ds != "" && !strings.HasPrefix(ds, "data:") {
					src = ds
				}
			}
			if src == "" {
				return htmlmd.String("")
			}

			if r.opts.ImgDataURLToObjectURL && strings.HasPrefix(src, "data:") {
				src = pseudoObjectURL(src, r.opts.BaseURL)
			} else {
				src = urlutil.Resolve(r.opts.BaseURL, src)
			}

			alt := strings.TrimSpace(selec.AttrOr("alt", ""))
			r.imgCount++
			r.images = append(r.images, ImageRef{Index: r.imgCount, Alt: alt, Src: src})

			label := fmt.Sprintf("Image %d", r.imgCount)
			if alt != "" {
				label += ": " + alt
			}
			return htmlmd.String("![" + label + "](" + src + ")")
		},
	}
}

// pseudoObjectURL maps a data: URL to a stable blob URL on the page's
// origin, keyed by the digest of the payload.
func pseudoObjectURL(dataURL string, base *url.URL) string {
	origin := ""
	if base != nil {
		origin = base.Scheme + "://" + base.Host
	}
	sum := md5.Sum([]byte(dataURL))
	return fmt.Sprintf("blob:%s/%x", origin, sum)
}

func longestBacktickRun(s string) int {
	longest, current := 0, 0
	for _, r := range s {
		if r == '`' {
			current++
			if current > longest {
				longest = current
			}
		} else {
			current = 0
		}
	}
	return longest
}
