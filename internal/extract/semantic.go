package extract

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	semanticChunkSize = 500
	semanticTopK      = 3
)

// Excerpt is one scored chunk of a longer text.
type Excerpt struct {
	Text  string
	Score float64 // 0..1
	Pos   int     // order of appearance in the source text
}

// SemanticSearch splits text into paragraph-bounded chunks and scores each
// against the query by token overlap, weighting rare terms higher. The top
// chunks are returned in their original order of appearance, not score
// order, so the excerpt reads coherently. Identical inputs always produce
// identical output.
func SemanticSearch(text, query string) []Excerpt {
	chunks := splitChunks(text, semanticChunkSize)
	if len(chunks) == 0 {
		return nil
	}

	queryTokens := uniqueTokens(query)
	if len(queryTokens) == 0 {
		return nil
	}

	// document frequency per token, for rarity weighting
	df := make(map[string]int)
	chunkTokens := make([]map[string]bool, len(chunks))
	for i, c := range chunks {
		toks := make(map[string]bool)
		for _, t := range uniqueTokens(c) {
			toks[t] = true
		}
		chunkTokens[i] = toks
		for t := range toks {
			df[t]++
		}
	}

	weight := func(tok string) float64 {
		return math.Log(1 + float64(len(chunks))/float64(1+df[tok]))
	}

	var total float64
	for _, t := range queryTokens {
		total += weight(t)
	}

	scored := make([]Excerpt, len(chunks))
	for i, c := range chunks {
		var hit float64
		for _, t := range queryTokens {
			if chunkTokens[i][t] {
				hit += weight(t)
			}
		}
		score := 0.0
		if total > 0 {
			score = hit / total
		}
		scored[i] = Excerpt{Text: c, Score: score, Pos: i}
	}

	// pick top-K by score, position as the deterministic tie-break
	ranked := make([]Excerpt, len(scored))
	copy(ranked, scored)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Pos < ranked[j].Pos
	})

	k := min(semanticTopK, len(ranked))
	top := ranked[:k]
	sort.Slice(top, func(i, j int) bool { return top[i].Pos < top[j].Pos })

	// drop chunks with no overlap at all
	var out []Excerpt
	for _, e := range top {
		if e.Score > 0 {
			out = append(out, e)
		}
	}
	return out
}

// SemanticExcerpt joins the selected chunks into a single passage.
func SemanticExcerpt(text, query string) string {
	var parts []string
	for _, e := range SemanticSearch(text, query) {
		parts = append(parts, e.Text)
	}
	return strings.Join(parts, "\n\n")
}

// splitChunks cuts text into paragraph-bounded chunks; paragraphs longer
// than maxChars are split on the nearest space.
func splitChunks(text string, maxChars int) []string {
	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for len(para) > maxChars {
			cut := strings.LastIndex(para[:maxChars], " ")
			if cut <= 0 {
				cut = maxChars
			}
			chunks = append(chunks, strings.TrimSpace(para[:cut]))
			para = strings.TrimSpace(para[cut:])
		}
		if para != "" {
			chunks = append(chunks, para)
		}
	}
	return chunks
}

func uniqueTokens(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(t) > 2 && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
