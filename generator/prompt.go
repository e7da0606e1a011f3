package generator

import (
	"fmt"
	"strings"

	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/video"
)

// ResponseFormat 告诉客户端期望的输出形态。
type ResponseFormat string

const (
	FormatJSON ResponseFormat = "json"
	FormatHTML ResponseFormat = "html"
)

// Prompt 表示发送给 LLM 的消息集合。
type Prompt struct {
	System string
	User   string
	Format ResponseFormat
}

const maxLinkTargetsInPrompt = 40

// BuildOutlinePrompt 生成大纲提示词，要求模型只返回 JSON。
func BuildOutlinePrompt(b Brief) Prompt {
	var sb strings.Builder
	sb.WriteString("You are a senior SEO strategist and editor. Plan a blog article.\n")
	sb.WriteString("Return ONLY a JSON object with these keys:\n")
	sb.WriteString(`title, slug, metaDescription (max 160 chars), primaryKeyword, semanticKeywords (array),` + "\n")
	sb.WriteString(`strategy {targetAudience, searchIntent, contentAngle, keyTakeaways[]},` + "\n")
	sb.WriteString(`imageDetails [{prompt, altText, title, placeholder}] using placeholders "[IMAGE_1_PLACEHOLDER]" and "[IMAGE_2_PLACEHOLDER]",` + "\n")
	sb.WriteString(`socialMediaCopy {twitter, linkedIn, facebook}, jsonLdSchema (schema.org BlogPosting object),` + "\n")
	sb.WriteString(`outline [{heading, points[], words}].` + "\n")
	sb.WriteString(variantGuidance(b))
	if b.Format == content.FormatScientific {
		sb.WriteString("- Scientific format: Abstract, Introduction, Methods/Evidence, Findings, Discussion, Conclusion, References.\n")
	}
	if b.TargetWords > 0 {
		sb.WriteString(fmt.Sprintf("- Total length: about %d words; section word targets must add up to that.\n", b.TargetWords))
	}

	var user strings.Builder
	user.WriteString(fmt.Sprintf("Topic: %s\n", b.Topic))
	if b.ParentTopic != "" {
		user.WriteString(fmt.Sprintf("Pillar article this supports: %s\n", b.ParentTopic))
	}
	if b.Serp != nil && len(b.Serp.Results) > 0 {
		user.WriteString("Current top search results (cover what they cover, then go further):\n")
		for _, r := range b.Serp.Results {
			user.WriteString(fmt.Sprintf("%d. %s - %s\n", r.Position, r.Title, r.Snippet))
		}
		if len(b.Serp.PeopleAlsoAsk) > 0 {
			user.WriteString("People also ask: " + strings.Join(b.Serp.PeopleAlsoAsk, " | ") + "\n")
		}
	}
	if b.Analysis != nil && len(b.Analysis.Issues) > 0 {
		user.WriteString("Issues found in the existing page to fix: " + strings.Join(b.Analysis.Issues, "; ") + "\n")
	}

	return Prompt{System: sb.String(), User: user.String(), Format: FormatJSON}
}

// BuildSectionPrompt 生成单个章节的提示词，返回 HTML 片段。
func BuildSectionPrompt(b Brief, o Outline, idx int) Prompt {
	sec := o.Sections[idx]

	var sb strings.Builder
	sb.WriteString("You write one section of a long-form blog article as an HTML fragment.\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Output raw HTML only (<h2>, <h3>, <p>, <ul>, <ol>, <table>). No markdown, no code fences, no commentary.\n")
	sb.WriteString("- Write like an experienced practitioner: concrete examples, varied sentence length, no filler.\n")
	if len(b.LinkTargets) > 0 {
		sb.WriteString(`- Add 1-2 internal links using exactly [LINK slug="<slug>" text="<anchor text>"] with slugs from the list below.` + "\n")
	}
	if v, ok := sectionVideo(b, o, idx); ok {
		sb.WriteString(fmt.Sprintf(`- Embed this video once: <iframe src="%s" title="%s" allowfullscreen></iframe>`+"\n", v.EmbedURL, v.Title))
	}
	if placeholder := sectionImage(o, idx); placeholder != "" {
		sb.WriteString(fmt.Sprintf("- Put %s on its own line after the second paragraph.\n", placeholder))
	}

	var user strings.Builder
	user.WriteString(fmt.Sprintf("Article: %s\n", o.Meta.Title))
	if o.Meta.PrimaryKeyword != "" {
		user.WriteString(fmt.Sprintf("Primary keyword: %s\n", o.Meta.PrimaryKeyword))
	}
	user.WriteString("Outline:\n")
	for i, s := range o.Sections {
		marker := " "
		if i == idx {
			marker = ">"
		}
		user.WriteString(fmt.Sprintf("%s %d. %s\n", marker, i+1, s.Heading))
	}
	user.WriteString(fmt.Sprintf("\nWrite section %d: <h2>%s</h2>\n", idx+1, sec.Heading))
	for _, p := range sec.Points {
		user.WriteString("- " + p + "\n")
	}
	if sec.Words > 0 {
		user.WriteString(fmt.Sprintf("Length: about %d words.\n", sec.Words))
	}
	if len(b.LinkTargets) > 0 {
		user.WriteString("\nInternal pages (slug: title):\n")
		for i, t := range b.LinkTargets {
			if i == maxLinkTargetsInPrompt {
				break
			}
			user.WriteString(fmt.Sprintf("%s: %s\n", t.Slug, t.Title))
		}
	}

	return Prompt{System: sb.String(), User: user.String(), Format: FormatHTML}
}

func variantGuidance(b Brief) string {
	switch b.Variant {
	case content.VariantPillar:
		return "- Pillar page: comprehensive, 8-12 sections, broad coverage that cluster articles can link back to.\n"
	case content.VariantCluster:
		return "- Cluster article: narrow and deep on one sub-topic, 5-7 sections, link back to the pillar.\n"
	default:
		return "- Standard article: 5-8 sections.\n"
	}
}

// sectionVideo 把第一个视频放在第二节，第二个视频放在文章中部。
func sectionVideo(b Brief, o Outline, idx int) (video.Video, bool) {
	n := len(o.Sections)
	switch {
	case len(b.Videos) > 0 && idx == 1:
		return b.Videos[0], true
	case len(b.Videos) > 1 && n > 3 && idx == n/2+1:
		return b.Videos[1], true
	}
	return video.Video{}, false
}

func sectionImage(o Outline, idx int) string {
	switch idx {
	case 0:
		return content.HeroPlaceholder
	case len(o.Sections) / 2:
		if idx > 0 {
			return content.InfographicPlaceholder
		}
	}
	return ""
}
