package generator

import (
	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/video"
)

// Brief 描述一次生成任务的全部输入。
type Brief struct {
	Topic       string
	Variant     content.Variant
	Format      content.Format
	TargetWords int
	// ParentTopic 是 cluster 文章所属的 pillar 主题。
	ParentTopic string
	Serp        *content.SerpSnapshot
	Videos      []video.Video
	LinkTargets []LinkTarget
	Analysis    *content.Analysis
}

// LinkTarget 是提供给模型生成链接占位符的站内页面。
type LinkTarget struct {
	Slug  string
	Title string
}

// OutlineSection 是大纲中的一个章节。
type OutlineSection struct {
	Heading string   `json:"heading"`
	Points  []string `json:"points"`
	Words   int      `json:"words"`
}

// Outline 是大纲阶段的产物：修复后的 JSON、归一化的元数据和章节列表。
type Outline struct {
	JSON     string
	Meta     content.GeneratedContent
	Sections []OutlineSection
}
