// Package content defines the records that move through the pipeline and the
// normalizer that turns untrusted provider payloads into them.
package content

import "time"

// Variant selects how an item is generated.
type Variant string

const (
	VariantPillar        Variant = "pillar"
	VariantCluster       Variant = "cluster"
	VariantStandard      Variant = "standard"
	VariantLinkOptimizer Variant = "link-optimizer"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	switch v {
	case VariantPillar, VariantCluster, VariantStandard, VariantLinkOptimizer:
		return true
	}
	return false
}

// Status is the lifecycle state of a ContentItem.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Format is the article style.
type Format string

const (
	FormatStandard   Format = "standard"
	FormatScientific Format = "scientific"
)

// ContentItem is one unit of work on the worklist.
type ContentItem struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Variant    Variant           `json:"variant"`
	Status     Status            `json:"status"`
	StatusText string            `json:"statusText,omitempty"`
	SourceText string            `json:"sourceText,omitempty"`
	SourceURL  string            `json:"sourceUrl,omitempty"`
	Parent     string            `json:"parent,omitempty"`
	Analysis   *Analysis         `json:"analysis,omitempty"`
	Format     Format            `json:"format,omitempty"`
	Content    *GeneratedContent `json:"content,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Analysis is a prior health review of an existing page or draft.
type Analysis struct {
	Score       int      `json:"score"`
	Summary     string   `json:"summary,omitempty"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ImageDetail describes one image slot in the article body.
type ImageDetail struct {
	Prompt      string `json:"prompt"`
	AltText     string `json:"altText"`
	Title       string `json:"title"`
	Placeholder string `json:"placeholder"`
	// GeneratedImage holds base64 image data once the image phase has run.
	GeneratedImage string `json:"generatedImage,omitempty"`
}

type Strategy struct {
	TargetAudience string   `json:"targetAudience"`
	SearchIntent   string   `json:"searchIntent"`
	ContentAngle   string   `json:"contentAngle"`
	KeyTakeaways   []string `json:"keyTakeaways"`
}

type SocialCopy struct {
	Twitter  string `json:"twitter"`
	LinkedIn string `json:"linkedIn"`
	Facebook string `json:"facebook"`
}

// SerpResult is one organic search result.
type SerpResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet,omitempty"`
}

// SerpSnapshot is the search landscape captured when the article was written.
type SerpSnapshot struct {
	Query           string       `json:"query"`
	Results         []SerpResult `json:"results"`
	PeopleAlsoAsk   []string     `json:"peopleAlsoAsk,omitempty"`
	RelatedSearches []string     `json:"relatedSearches,omitempty"`
	FetchedAt       time.Time    `json:"fetchedAt"`
}

// QualityReport records the gate's measurements.
type QualityReport struct {
	WordCount  int      `json:"wordCount"`
	HumanScore int      `json:"humanScore"`
	Flags      []string `json:"flags,omitempty"`
}

// GeneratedContent is the article artifact. After Normalize every field is non-nil.
type GeneratedContent struct {
	Title            string         `json:"title"`
	Slug             string         `json:"slug"`
	MetaDescription  string         `json:"metaDescription"`
	PrimaryKeyword   string         `json:"primaryKeyword"`
	SemanticKeywords []string       `json:"semanticKeywords"`
	Content          string         `json:"content"`
	ImageDetails     []ImageDetail  `json:"imageDetails"`
	Strategy         Strategy       `json:"strategy"`
	JSONLDSchema     map[string]any `json:"jsonLdSchema"`
	SocialMediaCopy  SocialCopy     `json:"socialMediaCopy"`
	SerpData         *SerpSnapshot  `json:"serpData,omitempty"`
	Quality          *QualityReport `json:"quality,omitempty"`
}

// Page is a sitemap entry and a link target.
type Page struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	LastMod     *time.Time `json:"lastMod,omitempty"`
	CrawledText string     `json:"crawledText,omitempty"`
	Analysis    *Analysis  `json:"analysis,omitempty"`
	IsStale     bool       `json:"isStale"`
	DaysOld     int        `json:"daysOld"`
}
