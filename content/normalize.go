package content

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Image placeholder tokens the generator is asked to leave in the body.
const (
	HeroPlaceholder        = "[IMAGE_1_PLACEHOLDER]"
	InfographicPlaceholder = "[IMAGE_2_PLACEHOLDER]"
)

// ImagePlaceholder returns the token for the n-th (1-based) image.
func ImagePlaceholder(n int) string {
	return fmt.Sprintf("[IMAGE_%d_PLACEHOLDER]", n)
}

// Normalize turns a provider JSON payload into a complete GeneratedContent. It never fails:
// unparseable input is treated as an empty object and every missing field gets a default.
func Normalize(raw, fallbackTitle string) GeneratedContent {
	gc, _ := NormalizeWithNotes(raw, fallbackTitle)
	return gc
}

// NormalizeWithNotes is Normalize plus the list of fields that had to be defaulted.
func NormalizeWithNotes(raw, fallbackTitle string) (GeneratedContent, []string) {
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		raw = "{}"
	}
	doc := gjson.Parse(raw)
	var notes []string
	note := func(field string) { notes = append(notes, field) }

	fallbackTitle = strings.TrimSpace(fallbackTitle)
	if fallbackTitle == "" {
		fallbackTitle = "Untitled"
	}

	gc := GeneratedContent{}

	gc.Title = str(doc, "title", "headline")
	if gc.Title == "" {
		gc.Title = fallbackTitle
		note("title")
	}

	gc.Slug = Slugify(str(doc, "slug"))
	if gc.Slug == "" {
		gc.Slug = Slugify(fallbackTitle)
		note("slug")
	}

	gc.Content = str(doc, "content", "htmlContent", "html", "body")
	if gc.Content == "" {
		note("content")
	}

	gc.MetaDescription = str(doc, "metaDescription", "meta_description")
	if gc.MetaDescription == "" {
		note("metaDescription")
	}
	gc.PrimaryKeyword = str(doc, "primaryKeyword", "primary_keyword", "focusKeyword")
	if gc.PrimaryKeyword == "" {
		note("primaryKeyword")
	}
	gc.SemanticKeywords = keywords(first(doc, "semanticKeywords", "semantic_keywords", "keywords"))

	gc.ImageDetails = imageDetails(first(doc, "imageDetails", "image_details", "images"))
	if len(gc.ImageDetails) == 0 {
		gc.ImageDetails = defaultImages(gc.Title)
		note("imageDetails")
	}
	gc.Content = InjectImagePlaceholders(gc.Content, gc.ImageDetails)

	s := first(doc, "strategy")
	gc.Strategy = Strategy{
		TargetAudience: s.Get("targetAudience").String(),
		SearchIntent:   s.Get("searchIntent").String(),
		ContentAngle:   s.Get("contentAngle").String(),
		KeyTakeaways:   stringList(s.Get("keyTakeaways")),
	}
	if !s.IsObject() {
		note("strategy")
	}

	gc.JSONLDSchema = map[string]any{}
	if schema := first(doc, "jsonLdSchema", "schema", "jsonLd"); schema.IsObject() {
		if m, ok := schema.Value().(map[string]any); ok {
			gc.JSONLDSchema = m
		}
	} else {
		note("jsonLdSchema")
	}

	sc := first(doc, "socialMediaCopy", "social_media_copy", "social")
	gc.SocialMediaCopy = SocialCopy{
		Twitter:  sc.Get("twitter").String(),
		LinkedIn: str(sc, "linkedIn", "linkedin"),
		Facebook: sc.Get("facebook").String(),
	}
	if !sc.IsObject() {
		note("socialMediaCopy")
	}

	return gc, notes
}

// InjectImagePlaceholders puts each missing image token into body: the first after the
// 2nd paragraph, the second after the 5th, the rest (or any slot past the end) appended.
func InjectImagePlaceholders(body string, images []ImageDetail) string {
	offsets := []int{2, 5}
	var tail []string
	type insertion struct {
		after int
		token string
	}
	var inserts []insertion
	for i, img := range images {
		if img.Placeholder == "" || strings.Contains(body, img.Placeholder) {
			continue
		}
		if i < len(offsets) {
			inserts = append(inserts, insertion{after: offsets[i], token: img.Placeholder})
			continue
		}
		tail = append(tail, img.Placeholder)
	}

	for j := len(inserts) - 1; j >= 0; j-- {
		idx := nthIndex(body, "</p>", inserts[j].after)
		if idx < 0 {
			tail = append([]string{inserts[j].token}, tail...)
			continue
		}
		cut := idx + len("</p>")
		body = body[:cut] + "\n" + inserts[j].token + "\n" + body[cut:]
	}
	for _, tok := range tail {
		if body != "" && !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		body += tok
	}
	return body
}

func nthIndex(s, sub string, n int) int {
	offset := 0
	for i := 0; i < n; i++ {
		idx := strings.Index(s[offset:], sub)
		if idx < 0 {
			return -1
		}
		if i == n-1 {
			return offset + idx
		}
		offset += idx + len(sub)
	}
	return -1
}

func defaultImages(title string) []ImageDetail {
	return []ImageDetail{
		{
			Prompt:      fmt.Sprintf("A photorealistic editorial hero image illustrating %q, natural light, no text", title),
			AltText:     title,
			Title:       title,
			Placeholder: HeroPlaceholder,
		},
		{
			Prompt:      fmt.Sprintf("A clean, minimal infographic summarizing the key points of %q", title),
			AltText:     title + " infographic",
			Title:       title + " infographic",
			Placeholder: InfographicPlaceholder,
		},
	}
}

func imageDetails(v gjson.Result) []ImageDetail {
	if !v.IsArray() {
		return nil
	}
	var out []ImageDetail
	for _, it := range v.Array() {
		if !it.IsObject() {
			continue
		}
		img := ImageDetail{
			Prompt:      str(it, "prompt", "imagePrompt"),
			AltText:     str(it, "altText", "alt"),
			Title:       it.Get("title").String(),
			Placeholder: it.Get("placeholder").String(),
		}
		if img.Prompt == "" && img.AltText == "" {
			continue
		}
		if img.Placeholder == "" {
			img.Placeholder = ImagePlaceholder(len(out) + 1)
		}
		out = append(out, img)
	}
	return out
}

// keywords accepts an array or a comma-separated string and de-duplicates case-insensitively.
func keywords(v gjson.Result) []string {
	var raw []string
	switch {
	case v.IsArray():
		raw = stringList(v)
	case v.Type == gjson.String:
		raw = strings.Split(v.String(), ",")
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, k := range raw {
		k = strings.TrimSpace(k)
		key := strings.ToLower(k)
		if k == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	return out
}

func stringList(v gjson.Result) []string {
	out := []string{}
	if !v.IsArray() {
		return out
	}
	for _, it := range v.Array() {
		if it.Type == gjson.String || it.Type == gjson.Number {
			if s := strings.TrimSpace(it.String()); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func first(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

// str reads a string field; non-string values count as missing.
func str(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := doc.Get(p)
		if r.Type == gjson.String {
			if s := strings.TrimSpace(r.String()); s != "" {
				return s
			}
		}
	}
	return ""
}
