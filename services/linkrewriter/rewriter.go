package linkrewriter

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/thoka/discourse-login-helper/config"
	"golang.org/x/net/html"
	"mvdan.cc/xurls/v2"
)

// HintParam is the query parameter carrying the login hint.
const HintParam = "login"

var (
	// href may follow whitespace, a slash or directly the closing quote of
	// the previous attribute.
	hrefAttr   = regexp.MustCompile(`(?i)([\s"'/])(href\s*=\s*)("[^"]*"|'[^']*'|[^\s"'>` + "`" + `]+)`)
	strictURLs = xurls.Strict()
)

type Options struct {
	BaseURL       string
	LoopbackHosts []string
	ExcludedPaths []string
	IncludedPaths []string
}

// Rewriter threads a login hint through links that point back at the site.
// It never fails on input: anything it cannot handle is returned as is.
type Rewriter struct {
	hosts    map[string]bool
	excluded []string
	included []string
}

func New(opts Options) (*Rewriter, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	if base.Hostname() == "" {
		return nil, fmt.Errorf("base url %q has no host", opts.BaseURL)
	}

	hosts := map[string]bool{strings.ToLower(base.Hostname()): true}
	for _, h := range opts.LoopbackHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = true
		}
	}

	return &Rewriter{
		hosts:    hosts,
		excluded: opts.ExcludedPaths,
		included: opts.IncludedPaths,
	}, nil
}

func NewFromConfig(cfg *config.Config) (*Rewriter, error) {
	return New(Options{
		BaseURL:       cfg.App.URL,
		LoopbackHosts: cfg.LoginHelper.LoopbackHosts,
		ExcludedPaths: cfg.LoginHelper.ExcludedPaths,
		IncludedPaths: cfg.LoginHelper.IncludedPaths,
	})
}

// Rewrite appends login=<hint> to link when it is an absolute http(s) URL on
// the site's own host, its path is eligible and it carries no hint yet.
// Existing query parameters keep their order and encoding.
func (r *Rewriter) Rewrite(link, hint string) string {
	if strings.TrimSpace(link) == "" || hint == "" {
		return link
	}

	u, err := url.Parse(escapeNonASCII(link))
	if err != nil {
		return link
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return link
	}
	if !r.hosts[strings.ToLower(u.Hostname())] {
		return link
	}
	if !r.eligiblePath(u.Path) {
		return link
	}
	if hasParam(u.RawQuery, HintParam) {
		return link
	}

	param := HintParam + "=" + url.QueryEscape(hint)
	if u.RawQuery == "" {
		u.RawQuery = param
	} else {
		u.RawQuery += "&" + param
	}
	u.ForceQuery = false

	return u.String()
}

func (r *Rewriter) eligiblePath(p string) bool {
	p = cleanPath(p)
	for _, prefix := range r.excluded {
		if matchPrefix(p, prefix) {
			return false
		}
	}
	if len(r.included) == 0 {
		return true
	}
	for _, prefix := range r.included {
		if matchPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// cleanPath resolves dot segments the way a browser would before the path is
// matched, keeping a trailing slash.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// matchPrefix treats prefix as a path segment boundary unless it ends in "/",
// so "/session" covers "/session/csrf" but not "/sessions".
func matchPrefix(p, prefix string) bool {
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(p, prefix)
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func hasParam(rawQuery, name string) bool {
	for _, pair := range strings.FieldsFunc(rawQuery, func(c rune) bool { return c == '&' || c == ';' }) {
		key, _, _ := strings.Cut(pair, "=")
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if key == name {
			return true
		}
	}
	return false
}

func escapeNonASCII(s string) string {
	if isASCII(s) {
		return s
	}
	var b strings.Builder
	for _, c := range s {
		if c < utf8.RuneSelf {
			b.WriteRune(c)
			continue
		}
		b.WriteString(url.QueryEscape(string(c)))
	}
	return b.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// RewriteAll rewrites the href of every anchor in an HTML fragment. Only the
// bytes of a changed href value differ from the input.
func (r *Rewriter) RewriteAll(fragment, hint string) string {
	if hint == "" || !strings.Contains(strings.ToLower(fragment), "href") {
		return fragment
	}

	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	b.Grow(len(fragment))

	for {
		tt := z.Next()
		// TagName lower-cases the buffer in place, so copy first
		raw := string(z.Raw())
		if tt == html.ErrorToken {
			b.WriteString(raw)
			break
		}

		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			if name, hasAttr := z.TagName(); hasAttr && string(name) == "a" {
				raw = r.rewriteAnchor(raw, hint)
			}
		}
		b.WriteString(raw)
	}

	return b.String()
}

func (r *Rewriter) rewriteAnchor(tag, hint string) string {
	for _, m := range hrefAttr.FindAllStringSubmatchIndex(tag, -1) {
		if insideQuotes(tag, m[4]) {
			continue
		}

		valueStart, valueEnd := m[6], m[7]
		value := tag[valueStart:valueEnd]

		quote := ""
		if value[0] == '"' || value[0] == '\'' {
			quote = value[:1]
			value = value[1 : len(value)-1]
		}

		link := html.UnescapeString(value)
		rewritten := r.Rewrite(link, hint)
		if rewritten == link {
			return tag
		}

		if quote == "" {
			quote = `"`
		}
		return tag[:valueStart] + quote + html.EscapeString(rewritten) + quote + tag[valueEnd:]
	}
	return tag
}

// insideQuotes reports whether byte offset idx of a raw tag falls within a
// quoted attribute value.
func insideQuotes(tag string, idx int) bool {
	var quote byte
	for i := 0; i < idx; i++ {
		c := tag[i]
		switch {
		case quote == 0 && (c == '"' || c == '\''):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		}
	}
	return quote != 0
}

// RewriteText rewrites every URL found in a plain text body.
func (r *Rewriter) RewriteText(body, hint string) string {
	if hint == "" || body == "" {
		return body
	}
	return strictURLs.ReplaceAllStringFunc(body, func(link string) string {
		return r.Rewrite(link, hint)
	})
}
