package resolver

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Similarity scores how close two normalized domains are, in [0.0, 1.0].
// It takes the better of two views: a normalized edit-distance over the raw
// strings, and a token overlap over the domain labels. The edit-distance
// view catches typos ("acem.com"), the token view catches reordered or
// partially shared labels ("acme-support.com" vs "support.acme.com").
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	edit := editSimilarity(a, b)
	token := tokenSimilarity(a, b)
	if token > edit {
		return token
	}
	return edit
}

func editSimilarity(a, b string) float64 {
	dist := levenshtein.ComputeDistance(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(longest)
}

// tokenSimilarity is the Jaccard index over domain tokens. Labels are split
// on "." and "-" so "acme-mail.com" and "mail.acme.com" share all tokens.
func tokenSimilarity(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	intersection := 0
	union := make(map[string]struct{}, len(ta)+len(tb))
	for tok := range ta {
		union[tok] = struct{}{}
		if _, ok := tb[tok]; ok {
			intersection++
		}
	}
	for tok := range tb {
		union[tok] = struct{}{}
	}

	return float64(intersection) / float64(len(union))
}

func tokenize(domain string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, label := range strings.Split(domain, ".") {
		for _, tok := range strings.Split(label, "-") {
			if tok != "" {
				tokens[tok] = struct{}{}
			}
		}
	}
	return tokens
}
