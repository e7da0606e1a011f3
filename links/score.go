package links

import (
	"strings"
	"unicode"
)

const repairThreshold = 50.0

// Score rates how well a catalogue title matches a placeholder's anchor text.
//
//	+100 exact (case-insensitive) match
//	 +60 anchor is a substring of the title
//	 +50 title is a substring of the anchor
//	  +  mean of shared/anchorWords and shared/titleWords, as percentages
//
// Only significant words (longer than two characters) take part in the overlap.
func Score(anchor, title string) float64 {
	a := strings.ToLower(strings.TrimSpace(anchor))
	t := strings.ToLower(strings.TrimSpace(title))
	if a == "" || t == "" {
		return 0
	}

	var score float64
	if a == t {
		score += 100
	}
	if strings.Contains(t, a) {
		score += 60
	}
	if strings.Contains(a, t) {
		score += 50
	}

	aw, tw := significantWords(a), significantWords(t)
	if len(aw) == 0 || len(tw) == 0 {
		return score
	}
	titleSet := make(map[string]struct{}, len(tw))
	for _, w := range tw {
		titleSet[w] = struct{}{}
	}
	shared := 0
	for _, w := range aw {
		if _, ok := titleSet[w]; ok {
			shared++
		}
	}
	s := float64(shared)
	score += (s/float64(len(aw))*100 + s/float64(len(tw))*100) / 2
	return score
}

// significantWords returns the unique words longer than two characters.
func significantWords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) <= 2 {
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
