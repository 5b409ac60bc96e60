// Package extract gathers evidence from web pages, long text and schedule
// PDFs. Traversal is depth-bounded and keyword-driven; nothing here writes
// to the vector store.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

const (
	userAgent = "Mozilla/5.0 (compatible; enigbot/1.0)"

	// fan-out and early-exit bounds for internal-page traversal
	maxFanOut      = 5
	earlyExitScore = 60
	stopScore      = 70
	settleScore    = 50
	settlePages    = 4

	maxContentChars = 6000
	retryBackoff    = 2 * time.Second
)

// Extractor fetches and parses HTML and PDF sources.
type Extractor struct {
	client *http.Client
}

func NewExtractor(timeout time.Duration) *Extractor {
	return &Extractor{client: &http.Client{Timeout: timeout}}
}

// ExtractPage fetches url and returns its readable text. When keywords is
// non-empty, internal links are scored by keyword matches in anchor text
// and URL path and the top candidates are visited (depth 1, bounded by
// maxFanOut) unless the root page alone already scores high enough.
func (e *Extractor) ExtractPage(ctx context.Context, pageURL, keywords string) (string, error) {
	root, err := e.fetchHTML(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", pageURL, err)
	}

	content := pageText(root)
	if keywords == "" {
		return clip(cleanContent(content)), nil
	}

	bestScore := matchScore(content, keywords)
	bestContent := content
	bestURL := pageURL
	if bestScore >= earlyExitScore {
		log.Debug().Str("url", pageURL).Int("score", bestScore).Msg("root page match, skipping traversal")
		return clip(cleanContent(content)), nil
	}

	candidates := scoredLinks(root, pageURL, keywords)
	if len(candidates) > maxFanOut {
		candidates = candidates[:maxFanOut]
	}

	visited := 1
	for _, cand := range candidates {
		node, err := e.fetchHTML(ctx, cand.URL)
		if err != nil {
			log.Debug().Str("url", cand.URL).Err(err).Msg("skipping internal page")
			continue
		}
		visited++

		text := pageText(node)
		score := (cand.Score + matchScore(text, keywords)) / 2
		if score > bestScore {
			bestScore, bestContent, bestURL = score, text, cand.URL
		}
		if score >= stopScore {
			break
		}
		if bestScore >= settleScore && visited >= settlePages {
			break
		}
	}

	log.Debug().Str("url", bestURL).Int("score", bestScore).Int("pages", visited).Msg("extraction done")
	return clip(cleanContent(bestContent)), nil
}

// fetchHTML gets and parses a page, retrying once on failure.
func (e *Extractor) fetchHTML(ctx context.Context, pageURL string) (*html.Node, error) {
	body, err := e.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return html.Parse(body)
}

func (e *Extractor) fetch(ctx context.Context, pageURL string) (io.ReadCloser, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			lastErr = fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
			continue
		}
		return resp.Body, nil
	}
	return nil, lastErr
}

type link struct {
	URL   string
	Text  string
	Score int
}

var excludedPathWords = []string{"login", "contact", "privacy", "cookie", "mentions", "wp-admin"}

// scoredLinks collects same-domain links from node and ranks them by
// keyword matches in anchor text or URL path. Sorted descending, ties by
// URL so the order is stable.
func scoredLinks(node *html.Node, baseURL, keywords string) []link {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	words := keywordTokens(keywords)

	seen := map[string]bool{baseURL: true}
	var out []link
	for _, a := range anchors(node) {
		target, err := base.Parse(a.href)
		if err != nil || target.Host != base.Host {
			continue
		}
		target.Fragment = ""
		target.RawQuery = ""
		clean := target.String()
		if seen[clean] {
			continue
		}
		seen[clean] = true

		pathLower := strings.ToLower(target.Path)
		if containsAnyOf(pathLower, excludedPathWords) {
			continue
		}

		textLower := strings.ToLower(a.text)
		score := 0
		for _, w := range words {
			if strings.Contains(textLower, w) {
				score += 30
			}
			if strings.Contains(pathLower, w) {
				score += 20
			}
		}
		if score > 0 {
			out = append(out, link{URL: clean, Text: a.text, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// matchScore rates how well content answers the keyword query, 0..100.
func matchScore(content, keywords string) int {
	if content == "" {
		return 0
	}
	words := keywordTokens(keywords)
	if len(words) == 0 {
		if len(content) > 200 {
			return 20
		}
		return 0
	}

	contentLower := strings.ToLower(content)
	score, matched := 0, 0
	for _, w := range words {
		if n := strings.Count(contentLower, w); n > 0 {
			matched++
			score += min(n*8, 25)
		}
	}
	score += matched * 30 / len(words)
	switch {
	case len(content) >= 500:
		score += 10
	case len(content) >= 200:
		score += 5
	}
	return min(score, 100)
}

func keywordTokens(keywords string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(keywords)) {
		if len(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

// cleanContent drops repeated paragraphs and collapses blank runs.
func cleanContent(content string) string {
	seen := make(map[string]bool)
	var kept []string
	for _, block := range strings.Split(content, "\n\n") {
		key := strings.TrimSpace(block)
		if key == "" {
			continue
		}
		if len(key) > 50 {
			k := strings.ToLower(key)
			if len(k) > 100 {
				k = k[:100]
			}
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		kept = append(kept, key)
	}
	return strings.Join(kept, "\n\n")
}

func clip(s string) string {
	if len(s) > maxContentChars {
		return s[:maxContentChars] + "\n\n[... contenu tronqué]"
	}
	return s
}

type anchor struct {
	href string
	text string
}

var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"nav": true, "footer": true, "aside": true,
}

var textTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"p": true, "li": true, "td": true, "a": true,
}

// pageText walks the document and joins the text of structural elements,
// skipping boilerplate containers.
func pageText(node *html.Node) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedTags[n.Data] {
				return
			}
			if textTags[n.Data] {
				if t := strings.TrimSpace(nodeText(n)); len(t) > 3 {
					parts = append(parts, t)
				}
				if n.Data != "li" && n.Data != "td" {
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return strings.Join(parts, "\n\n")
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func anchors(node *html.Node) []anchor {
	var out []anchor
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					href := strings.TrimSpace(attr.Val)
					if href != "" && href != "#" &&
						!strings.HasPrefix(href, "mailto:") &&
						!strings.HasPrefix(href, "javascript:") {
						out = append(out, anchor{href: href, text: nodeText(n)})
					}
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return out
}

func containsAnyOf(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
