package util

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	markdown     = goldmark.New()
	ugcPolicy    = bluemonday.UGCPolicy()
	strictPolicy = bluemonday.StrictPolicy()
)

// RenderContent converts markdown post content to sanitized HTML.
func RenderContent(text string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return ugcPolicy.Sanitize("<p>" + html.EscapeString(text) + "</p>")
	}
	return strings.TrimSpace(ugcPolicy.Sanitize(buf.String()))
}

// StripHTML removes all markup, for profile fields.
func StripHTML(text string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(text)))
}
