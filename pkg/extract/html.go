package extract

import (
	"net/url"
	"strings"

	"github.com/go-shiori/dom"
	"golang.org/x/net/html"
)

func textContent(n *html.Node) string       { return dom.TextContent(n) }
func attr(n *html.Node, name string) string { return dom.GetAttribute(n, name) }

func descendantsByTag(n *html.Node, tag string) []*html.Node {
	return dom.GetElementsByTagName(n, tag)
}

// flatten returns every element node in document order.
func flatten(doc *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// headingRank returns 2..6 for h2..h6 and 0 for anything else.
func headingRank(n *html.Node) int {
	tag := dom.TagName(n)
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '2' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

// headingText prefers the mw-headline span MediaWiki wraps heading titles in.
func headingText(h *html.Node) string {
	for _, span := range descendantsByTag(h, "span") {
		if strings.Contains(attr(span, "class"), "mw-headline") {
			return textContent(span)
		}
	}
	return textContent(h)
}

// firstListAfter scans the flat element slice from start for the first
// top-level list with one of the given tags. The scan stops at the next
// heading of equal or higher rank than the subheading that anchors it.
func firstListAfter(elems []*html.Node, start, rank int, tags ...string) *html.Node {
	for _, n := range elems[start:] {
		if r := headingRank(n); r != 0 && r <= rank {
			return nil
		}
		tag := dom.TagName(n)
		for _, want := range tags {
			if tag == want && !insideList(n) {
				return n
			}
		}
	}
	return nil
}

// insideList reports whether the node has an ol/ul ancestor; nested lists
// are reached through their parent item, never scanned directly.
func insideList(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && (p.Data == "ol" || p.Data == "ul") {
			return true
		}
	}
	return false
}

func childElements(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	for _, c := range dom.Children(n) {
		if dom.TagName(c) == tag {
			out = append(out, c)
		}
	}
	return out
}

// textExcludingLists collects the item's visible text while skipping nested
// ol/ul subtrees, which become their own sub-senses.
func textExcludingLists(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "ol", "ul", "script", "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return b.String()
}

var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {}, "li": {}, "ul": {},
	"ol": {}, "dl": {}, "dt": {}, "dd": {}, "table": {}, "tr": {}, "br": {},
	"hr": {}, "blockquote": {}, "pre": {}, "h1": {}, "h2": {}, "h3": {},
	"h4": {}, "h5": {}, "h6": {}, "header": {}, "footer": {}, "nav": {},
}

// plainText renders the document for full-text search: block boundaries
// become newlines, inline boundaries become spaces, whitespace runs collapse.
func plainText(doc *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
			if _, block := blockTags[n.Data]; block {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			if _, block := blockTags[n.Data]; block {
				b.WriteByte('\n')
			}
		}
	}
	walk(doc)
	return collapseKeepingNewlines(b.String())
}

// collapseKeepingNewlines squeezes each whitespace run to one character: a
// newline when the run contained one, a space otherwise.
func collapseKeepingNewlines(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun, runHadNewline := false, false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f', ' ':
			inRun = true
			if r == '\n' || r == '\r' {
				runHadNewline = true
			}
		default:
			if inRun && b.Len() > 0 {
				if runHadNewline {
					b.WriteByte('\n')
				} else {
					b.WriteByte(' ')
				}
			}
			inRun, runHadNewline = false, false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// redirectTarget detects HTML-level redirects: a meta refresh with a url
// component, or the Parsoid redirect link rel. The returned target has any
// leading "./" trimmed so it matches directory entry URLs.
func redirectTarget(doc *html.Node) string {
	for _, meta := range dom.GetElementsByTagName(doc, "meta") {
		if !strings.EqualFold(attr(meta, "http-equiv"), "refresh") {
			continue
		}
		content := attr(meta, "content")
		if i := strings.Index(strings.ToLower(content), "url="); i >= 0 {
			return cleanRedirectHref(content[i+4:])
		}
	}
	for _, link := range dom.GetElementsByTagName(doc, "link") {
		if attr(link, "rel") == "mw:PageProp/redirect" {
			if href := attr(link, "href"); href != "" {
				return cleanRedirectHref(href)
			}
		}
	}
	return ""
}

func cleanRedirectHref(href string) string {
	href = strings.TrimSpace(href)
	href = strings.Trim(href, `'"`)
	href = strings.TrimPrefix(href, "./")
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	return href
}
