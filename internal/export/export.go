// Package export renders a project's notes for download, either as the raw
// markdown attachment or as a PDF via headless Chrome.
package export

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"loopnote/api/internal/notes"
)

// ErrPDFDependencyMissing reports that no Chromium binary is installed.
var ErrPDFDependencyMissing = errors.New("pdf export dependency missing")

// Result is a rendered export ready to be served as an attachment.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Markdown packages the raw document text for download.
func Markdown(slug, content string) *Result {
	return &Result{
		Data:     []byte(content),
		Filename: slug + ".md",
		MimeType: "text/markdown",
	}
}

// PDF renders the document to PDF. The title becomes the filename.
func PDF(title, content string) (*Result, error) {
	return exportPDF(renderHTML(title, content), title)
}

// renderHTML converts the note markdown to a printable HTML page. Notes only
// ever contain the constructs the synthesizer emits (headings, bullets,
// paragraphs, bold), so a full markdown engine would be dead weight here.
func renderHTML(title, content string) string {
	var body strings.Builder
	inList := false

	closeList := func() {
		if inList {
			body.WriteString("</ul>\n")
			inList = false
		}
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			closeList()
		case strings.HasPrefix(trimmed, "#"):
			closeList()
			level := 0
			for level < len(trimmed) && trimmed[level] == '#' && level < 6 {
				level++
			}
			text := strings.TrimSpace(trimmed[level:])
			fmt.Fprintf(&body, "<h%d>%s</h%d>\n", level, inlineHTML(text), level)
		case strings.HasPrefix(trimmed, "- "):
			if !inList {
				body.WriteString("<ul>\n")
				inList = true
			}
			fmt.Fprintf(&body, "<li>%s</li>\n", inlineHTML(strings.TrimPrefix(trimmed, "- ")))
		default:
			closeList()
			fmt.Fprintf(&body, "<p>%s</p>\n", inlineHTML(trimmed))
		}
	}
	closeList()

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: Georgia, serif; max-width: 46em; margin: 2em auto; line-height: 1.5; color: #1a1a1a; }
h1 { border-bottom: 2px solid #ddd; padding-bottom: 0.3em; }
h2 { margin-top: 1.6em; }
ul { padding-left: 1.4em; }
</style>
</head>
<body>
%s</body>
</html>`, html.EscapeString(title), body.String())
}

// inlineHTML escapes a text run and applies bold/italic emphasis.
func inlineHTML(text string) string {
	escaped := html.EscapeString(text)
	escaped = replacePairs(escaped, "**", "<strong>", "</strong>")
	escaped = replacePairs(escaped, "*", "<em>", "</em>")
	return escaped
}

// replacePairs swaps balanced marker pairs for open/close tags, leaving an
// unmatched trailing marker untouched.
func replacePairs(text, marker, openTag, closeTag string) string {
	parts := strings.Split(text, marker)
	if len(parts) < 3 {
		return text
	}
	var out strings.Builder
	out.WriteString(parts[0])
	rest := parts[1:]
	for len(rest) >= 2 {
		out.WriteString(openTag)
		out.WriteString(rest[0])
		out.WriteString(closeTag)
		out.WriteString(rest[1])
		rest = rest[2:]
	}
	if len(rest) == 1 {
		out.WriteString(marker)
		out.WriteString(rest[0])
	}
	return out.String()
}

// TitleOf extracts the document's level-1 heading, falling back to the slug.
func TitleOf(slug, content string) string {
	for _, section := range notes.ParseSections(content) {
		if section.Level == 1 {
			return section.Heading
		}
	}
	return slug
}
