// Package quality applies the word-count gate and the human-likeness heuristic to finished articles.
package quality

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"auto_seo_article_pipeline/logger"
)

// ContentTooShortError rejects an article below the minimum word count. Content is the full,
// unchanged article so the caller can keep it for manual review.
type ContentTooShortError struct {
	Content   string
	WordCount int
	MinWords  int
}

func (e *ContentTooShortError) Error() string {
	return fmt.Sprintf("content too short: %d words (minimum %d)", e.WordCount, e.MinWords)
}

// Gate is the word-count check. Zero bounds are disabled.
type Gate struct {
	MinWords int
	MaxWords int
	Logger   logger.Logger
}

// Check counts the visible words in body and returns the count. Articles under MinWords fail with
// *ContentTooShortError; articles over MaxWords only log a warning.
func (g Gate) Check(body string) (int, error) {
	n := CountWords(body)
	if g.MinWords > 0 && n < g.MinWords {
		return n, &ContentTooShortError{Content: body, WordCount: n, MinWords: g.MinWords}
	}
	if g.MaxWords > 0 && n > g.MaxWords && g.Logger != nil {
		g.Logger.Warn("content exceeds maximum word count",
			logger.Int("word_count", n),
			logger.Int("max_words", g.MaxWords))
	}
	return n, nil
}

var (
	tagRe      = regexp.MustCompile(`(?s)<[^>]*>`)
	scriptRe   = regexp.MustCompile(`(?is)<(script|style)\b.*?</(script|style)>`)
	sentenceRe = regexp.MustCompile(`[.!?]+(\s|$)`)
)

// StripTags removes markup and collapses whitespace.
func StripTags(body string) string {
	s := scriptRe.ReplaceAllString(body, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// CountWords counts whitespace-separated words in the visible text of body.
func CountWords(body string) int {
	return len(strings.Fields(StripTags(body)))
}

// markerPhrases are stock phrases that read as machine-written.
var markerPhrases = []string{
	"delve into",
	"in today's fast-paced world",
	"in today's digital age",
	"in the ever-evolving",
	"ever-changing landscape",
	"it's important to note",
	"it is important to note",
	"it's worth noting",
	"unlock the power",
	"unleash the power",
	"a testament to",
	"navigate the complexities",
	"tapestry",
	"game-changer",
	"seamlessly integrate",
	"in conclusion",
	"embark on a journey",
	"elevate your",
	"harness the power",
	"look no further",
}

const (
	phrasePenalty        = 10
	longSentencePenalty  = 15
	maxMeanSentenceWords = 25.0
	perfectHumanScore    = 100
)

// Report is the advisory human-likeness result.
type Report struct {
	Score             int
	Penalty           int
	Hits              map[string]int
	MeanSentenceWords float64
}

// Flags lists the matched phrases and the long-sentence marker, for display.
func (r Report) Flags() []string {
	var flags []string
	for _, p := range markerPhrases {
		if n := r.Hits[p]; n > 0 {
			flags = append(flags, fmt.Sprintf("%s x%d", p, n))
		}
	}
	if r.MeanSentenceWords > maxMeanSentenceWords {
		flags = append(flags, fmt.Sprintf("long sentences (mean %.1f words)", r.MeanSentenceWords))
	}
	return flags
}

var markerMatcher = ahocorasick.NewStringMatcher(markerPhrases)

// HumanScore scores plain text (or HTML, which is stripped first). It never blocks anything.
func HumanScore(text string) Report {
	plain := strings.ToLower(StripTags(text))
	plain = strings.ReplaceAll(plain, "’", "'")

	r := Report{Hits: map[string]int{}}
	for _, idx := range markerMatcher.MatchThreadSafe([]byte(plain)) {
		phrase := markerPhrases[idx]
		n := strings.Count(plain, phrase)
		r.Hits[phrase] = n
		r.Penalty += n * phrasePenalty
	}

	r.MeanSentenceWords = meanSentenceWords(plain)
	if r.MeanSentenceWords > maxMeanSentenceWords {
		r.Penalty += longSentencePenalty
	}
	r.Score = max(0, perfectHumanScore-r.Penalty)
	return r
}

func meanSentenceWords(plain string) float64 {
	var sentences, words int
	for _, s := range sentenceRe.Split(plain, -1) {
		n := len(strings.Fields(s))
		if n == 0 {
			continue
		}
		sentences++
		words += n
	}
	if sentences == 0 {
		return 0
	}
	return float64(words) / float64(sentences)
}
