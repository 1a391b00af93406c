package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

// ToPlainText flattens markdown to plain text for QQ messages. QQ renders
// no rich text, so formatting is stripped while list structure and code
// blocks are kept readable.
func ToPlainText(markdown string) string {
	if markdown == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))

	return stripHTML(html)
}

var (
	paragraphPattern = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	headingPattern   = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	codeBlockPattern = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	anchorPattern    = regexp.MustCompile(`(?s)<a href="([^"]*)"[^>]*>(.*?)</a>`)
	tagPattern       = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
)

func stripHTML(html string) string {
	html = paragraphPattern.ReplaceAllString(html, "$1\n")
	html = headingPattern.ReplaceAllString(html, "$1\n")
	html = codeBlockPattern.ReplaceAllString(html, "$1\n")

	// Keep the link target when it differs from the label
	html = anchorPattern.ReplaceAllStringFunc(html, func(match string) string {
		parts := anchorPattern.FindStringSubmatch(match)
		if len(parts) < 3 {
			return match
		}
		href, label := parts[1], parts[2]
		if href == label || href == "" {
			return label
		}
		return label + " (" + href + ")"
	})

	html = strings.ReplaceAll(html, "<li>", "• ")
	html = strings.ReplaceAll(html, "</li>", "\n")
	html = strings.ReplaceAll(html, "<br>", "\n")
	html = strings.ReplaceAll(html, "<br/>", "\n")

	html = tagPattern.ReplaceAllString(html, "")

	html = strings.ReplaceAll(html, "&lt;", "<")
	html = strings.ReplaceAll(html, "&gt;", ">")
	html = strings.ReplaceAll(html, "&quot;", "\"")
	html = strings.ReplaceAll(html, "&#39;", "'")
	html = strings.ReplaceAll(html, "&amp;", "&")

	html = blankRunPattern.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
