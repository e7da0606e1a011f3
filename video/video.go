// Package video picks unique video candidates and repairs duplicated embeds in generated HTML.
package video

import (
	"net/url"
	"regexp"
	"strings"
)

const embedBase = "https://www.youtube.com/embed/"

// Video is a candidate or selected video. ID may be empty on candidates whose URL carries it.
type Video struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
	EmbedURL string `json:"embedUrl,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

var (
	idRe    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	embedRe = regexp.MustCompile(`(?i)<iframe\b[^>]*?\bsrc\s*=\s*["'](?:https?:)?//(?:www\.)?youtube(?:-nocookie)?\.com/embed/([A-Za-z0-9_-]{11})`)
)

// EmbedURL returns the canonical embeddable URL for id.
func EmbedURL(id string) string {
	return embedBase + id
}

// ExtractID pulls the 11-character identifier out of embed, watch, youtu.be, shorts and /v/ URLs.
func ExtractID(raw string) string {
	raw = strings.TrimSpace(raw)
	if idRe.MatchString(raw) {
		return raw
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch host {
	case "youtu.be":
		id = segs[0]
	case "youtube.com", "youtube-nocookie.com", "music.youtube.com":
		switch {
		case segs[0] == "watch":
			id = u.Query().Get("v")
		case len(segs) >= 2 && (segs[0] == "embed" || segs[0] == "shorts" || segs[0] == "v" || segs[0] == "live"):
			id = segs[1]
		}
	}
	if idRe.MatchString(id) {
		return id
	}
	return ""
}

// Select walks candidates in order, skips unusable ones and identifiers already chosen,
// and returns at most n normalized videos. It returns nil when nothing is usable.
func Select(candidates []Video, n int) []Video {
	if n <= 0 {
		return nil
	}
	var out []Video
	seen := make(map[string]struct{})
	for _, c := range candidates {
		id := ExtractID(c.ID)
		if id == "" {
			id = ExtractID(c.URL)
		}
		if id == "" {
			id = ExtractID(c.EmbedURL)
		}
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c.ID = id
		c.EmbedURL = EmbedURL(id)
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}

// EmbeddedIDs lists the video identifiers of every provider iframe in html, in document order.
func EmbeddedIDs(html string) []string {
	var ids []string
	for _, m := range embedRe.FindAllStringSubmatch(html, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

// EnforceUniqueEmbeds fixes the case where the generator embedded the first selected video
// twice: when two or more embeds exist and all share one identifier, only the second
// occurrence is rewritten to the second selected video. Mixed identifiers are left alone.
func EnforceUniqueEmbeds(html string, selected []Video) (string, bool) {
	if len(selected) < 2 {
		return html, false
	}
	locs := embedRe.FindAllStringSubmatchIndex(html, -1)
	if len(locs) < 2 {
		return html, false
	}
	first := html[locs[0][2]:locs[0][3]]
	for _, loc := range locs[1:] {
		if html[loc[2]:loc[3]] != first {
			return html, false
		}
	}
	replacement := ExtractID(selected[1].ID)
	if replacement == "" {
		replacement = ExtractID(selected[1].EmbedURL)
	}
	if replacement == "" || replacement == first {
		return html, false
	}
	second := locs[1]
	return html[:second[2]] + replacement + html[second[3]:], true
}
