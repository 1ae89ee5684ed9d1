package urlutil

import (
	"net/url"
	"regexp"
	"strings"

	"yomu/internal/errs"
)

var multiNewline = regexp.MustCompile(`\n{3,}`)

// CollapseNewlines reduces runs of three or more newlines to exactly
// two, which keeps markdown paragraph spacing stable.
func CollapseNewlines(s string) string {
	return multiNewline.ReplaceAllString(s, "\n\n")
}

// CollapseSpaces reduces all whitespace runs to single spaces.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseTarget parses and validates a crawl target. Only http, https,
// and file URLs are accepted, and for network schemes the hostname's
// last label must be at least two characters long. The URL is kept
// as-is otherwise: www prefixes, trailing slashes, and query order are
// preserved.
func ParseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errs.ParamValidation("Invalid URL or TLD")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errs.ParamValidation("Invalid URL or TLD")
	}

	switch u.Scheme {
	case "http", "https":
		if !ValidHostTLD(u.Hostname()) {
			return nil, errs.ParamValidation("Invalid URL or TLD")
		}
	case "file":
	default:
		return nil, errs.ParamValidation("Invalid URL or TLD")
	}

	return u, nil
}

// ValidHostTLD reports whether the hostname's last label is plausibly a
// real TLD. IP literals and localhost-style single labels pass; a
// trailing label shorter than two characters does not.
func ValidHostTLD(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	if !strings.Contains(host, ".") {
		return true
	}
	labels := strings.Split(host, ".")
	last := labels[len(labels)-1]
	if isDigits(last) {
		// IPv4 literal.
		return true
	}
	return len(last) >= 2
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Resolve resolves ref against base, returning ref unchanged when it is
// already absolute or when resolution is impossible.
func Resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if ru.IsAbs() || base == nil {
		return ru.String()
	}
	return base.ResolveReference(ru).String()
}
