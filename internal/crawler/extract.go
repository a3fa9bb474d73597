package crawler

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nao1215/onionharvest/internal/model"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// removedElements never contribute visible text.
const removedElements = "script, style, noscript, head, meta, link, template, iframe"

// onionLinkPattern accepts http(s) URLs whose host is a v3 onion address
// without an explicit port.
var onionLinkPattern = regexp.MustCompile(`^https?://[a-z2-7]{56}\.onion(/|$)`)

// skippedHrefPrefixes are href schemes that never lead to a crawlable page.
var skippedHrefPrefixes = []string{"#", "javascript:", "mailto:", "tel:", "data:"}

// Content is what the extractor keeps from one HTML document.
type Content struct {
	// Title is the <title> text or model.DefaultTitle.
	Title string

	// Text is the visible text with whitespace collapsed to single spaces.
	Text string

	// Links are the distinct onion URLs on the page in first-seen order.
	Links []string

	// Hash is the hex SHA-256 of Text.
	Hash string
}

// Extract decodes raw to UTF-8 using the charset declared in contentType
// or sniffed from the document, then returns its title, visible text,
// text hash and onion links resolved against baseURL.
//
// Extract never fails. Bytes that cannot be decoded or parsed yield an
// empty Content.
func Extract(raw []byte, contentType, baseURL string) Content {
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return Content{}
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Content{}
	}

	title := collapseSpace(doc.Find("title").First().Text())
	if title == "" {
		title = model.DefaultTitle
	}

	links := extractLinks(doc, baseURL)

	doc.Find(removedElements).Remove()
	text := visibleText(doc.Selection)
	sum := sha256.Sum256([]byte(text))

	return Content{
		Title: title,
		Text:  text,
		Links: links,
		Hash:  hex.EncodeToString(sum[:]),
	}
}

// visibleText joins every text node under sel, so adjacent block elements
// stay separated by a space.
func visibleText(sel *goquery.Selection) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return collapseSpace(sb.String())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// extractLinks collects a[href] and area[href] targets that resolve to
// onion URLs.
func extractLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href], area[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := resolveLink(base, href)
		if !ok || seen[link] {
			return
		}
		seen[link] = true
		links = append(links, link)
	})
	return links
}

// resolveLink resolves href against base and normalizes the result. The
// second return value is false when href is skipped or is not an onion
// URL.
func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range skippedHrefPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	link := NormalizeURL(base.ResolveReference(ref))
	if !onionLinkPattern.MatchString(link) {
		return "", false
	}
	return link, true
}

// NormalizeURL returns the canonical string form of u used for visited
// and dedup bookkeeping. The fragment is dropped, scheme and host are
// lowercased and an empty path becomes "/".
func NormalizeURL(u *url.URL) string {
	n := *u
	n.Fragment = ""
	n.RawFragment = ""
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	if n.Path == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return n.String()
}
