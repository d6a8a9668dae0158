package memory

import (
	"sort"
	"strings"
	"unicode"
)

// stopWords are dropped during keyword extraction; they carry no signal
// for matching operational summaries.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "how": {}, "in": {}, "is": {}, "it": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "what": {}, "when": {}, "where": {}, "which": {}, "why": {},
	"will": {}, "with": {}, "you": {}, "your": {}, "please": {}, "can": {},
	"do": {}, "does": {}, "did": {}, "my": {}, "me": {}, "i": {}, "we": {},
}

// keywords lowercases the text, splits it on non-alphanumeric runes, and
// drops stop words and single characters.
func keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// scored pairs an entry with its relevance to a query.
type scored struct {
	index int
	text  string
	score float64
}

// rank scores entries by keyword overlap with the query, with a small
// recency bonus so ties prefer newer entries. Entries are ordered newest
// first on input; index 0 is the most recent.
func rank(query string, entries []string, limit int) []string {
	qwords := keywords(query)
	if len(qwords) == 0 || len(entries) == 0 || limit <= 0 {
		return nil
	}
	qset := make(map[string]struct{}, len(qwords))
	for _, w := range qwords {
		qset[w] = struct{}{}
	}

	candidates := make([]scored, 0, len(entries))
	for i, entry := range entries {
		overlap := 0
		for _, w := range keywords(entry) {
			if _, ok := qset[w]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		recency := 1.0 - float64(i)/float64(len(entries))
		candidates = append(candidates, scored{
			index: i,
			text:  entry,
			score: float64(overlap)/float64(len(qwords)) + 0.1*recency,
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].index < candidates[b].index
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.text
	}
	return out
}
