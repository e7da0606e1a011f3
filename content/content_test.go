package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmptyObject(t *testing.T) {
	gc := Normalize("{}", "My Topic")

	assert.Equal(t, "My Topic", gc.Title)
	assert.Equal(t, "my-topic", gc.Slug)
	require.Len(t, gc.ImageDetails, 2)
	assert.Contains(t, gc.Content, HeroPlaceholder)
	assert.Contains(t, gc.Content, InfographicPlaceholder)
	assert.Contains(t, gc.ImageDetails[0].Prompt, "My Topic")
	assert.NotNil(t, gc.SemanticKeywords)
	assert.NotNil(t, gc.Strategy.KeyTakeaways)
	assert.NotNil(t, gc.JSONLDSchema)
}

func TestNormalizeGarbageInput(t *testing.T) {
	for _, raw := range []string{"", "not json", "[1,2,3]", `"just a string"`, "null"} {
		gc, notes := NormalizeWithNotes(raw, "Fallback")
		assert.Equal(t, "Fallback", gc.Title, raw)
		assert.Len(t, gc.ImageDetails, 2, raw)
		assert.Contains(t, notes, "title", raw)
	}
}

func TestNormalizeToleratesWrongTypes(t *testing.T) {
	raw := `{
		"title": 42,
		"slug": "Ünïcödé Slug!",
		"content": "<p>body</p>",
		"semanticKeywords": "seo, SEO ,links,  ",
		"imageDetails": "none",
		"strategy": ["x"],
		"jsonLdSchema": {"@type": "BlogPosting"},
		"socialMediaCopy": {"twitter": "tw", "linkedin": "li"}
	}`
	gc, notes := NormalizeWithNotes(raw, "Fallback Title")

	assert.Equal(t, "Fallback Title", gc.Title)
	assert.Equal(t, "unicode-slug", gc.Slug)
	assert.Equal(t, []string{"seo", "links"}, gc.SemanticKeywords)
	assert.Len(t, gc.ImageDetails, 2)
	assert.Equal(t, "BlogPosting", gc.JSONLDSchema["@type"])
	assert.Equal(t, "tw", gc.SocialMediaCopy.Twitter)
	assert.Equal(t, "li", gc.SocialMediaCopy.LinkedIn)
	assert.Contains(t, notes, "strategy")
	assert.NotContains(t, notes, "socialMediaCopy")
}

func TestNormalizeKeepsProvidedImages(t *testing.T) {
	raw := `{"title":"T","content":"<p>a</p><p>b</p><p>c</p>","imageDetails":[
		{"prompt":"p1","altText":"a1","title":"t1","placeholder":"[IMAGE_1_PLACEHOLDER]"},
		{"prompt":"p2","altText":"a2"},
		{"foo":"bar"}
	]}`
	gc := Normalize(raw, "T")

	require.Len(t, gc.ImageDetails, 2)
	assert.Equal(t, "[IMAGE_2_PLACEHOLDER]", gc.ImageDetails[1].Placeholder)
	assert.Equal(t, "<p>a</p><p>b</p>\n[IMAGE_1_PLACEHOLDER]\n<p>c</p>\n[IMAGE_2_PLACEHOLDER]", gc.Content)
}

func TestInjectImagePlaceholdersOffsets(t *testing.T) {
	body := strings.Repeat("<p>x</p>", 6)
	out := InjectImagePlaceholders(body, defaultImages("T"))

	paras := strings.Split(out, "</p>")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(paras[2]), HeroPlaceholder))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(paras[5]), InfographicPlaceholder))

	assert.Equal(t, out, InjectImagePlaceholders(out, defaultImages("T")))
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Topic":                    "my-topic",
		"  Crème Brûlée: A Guide  ":   "creme-brulee-a-guide",
		"The Ultimate SEO Guide 2025": "the-ultimate-seo-guide-2025",
		"---":                         "",
		"C++ & Go":                    "c-go",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestSlugFromURL(t *testing.T) {
	assert.Equal(t, "seo-guide", SlugFromURL("https://example.com/blog/seo-guide/"))
	assert.Equal(t, "about-us", SlugFromURL("https://example.com/about-us.html"))
	assert.Equal(t, "", SlugFromURL("https://example.com/"))
}

func TestVariantValid(t *testing.T) {
	assert.True(t, VariantLinkOptimizer.Valid())
	assert.False(t, Variant("essay").Valid())
}
