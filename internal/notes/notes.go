// Package notes parses markdown documents into heading-delimited sections.
// Sections are a derived view: they are recomputed from the document text on
// every call and never stored independently.
package notes

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Section is a heading-delimited region of a document. Content runs from the
// heading line (inclusive) to the line before the next heading, or end of
// document. LineStart/LineEnd are zero-based line indices into the document.
type Section struct {
	ID        string `json:"id"`
	Heading   string `json:"heading"`
	Level     int    `json:"level"`
	Content   string `json:"content"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
}

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// InitialContent returns the default document for a freshly-referenced project.
func InitialContent(projectName string) string {
	return fmt.Sprintf("# %s\n\n", projectName)
}

// ParseSections splits markdown content into sections by heading lines.
// A document with no headings yields no sections. The section id is a
// deterministic digest of the heading and its line position, so re-parsing
// an unchanged document yields identical ids.
func ParseSections(content string) []Section {
	lines := strings.Split(content, "\n")
	var sections []Section
	current := -1

	closeSection := func(end int) {
		s := &sections[current]
		s.LineEnd = end
		s.Content = strings.TrimSpace(strings.Join(lines[s.LineStart:end+1], "\n"))
	}

	for i, line := range lines {
		match := headingPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		if current >= 0 {
			closeSection(i - 1)
		}
		sections = append(sections, Section{
			ID:        sectionID(match[2], i),
			Heading:   strings.TrimSpace(match[2]),
			Level:     len(match[1]),
			LineStart: i,
			LineEnd:   i,
		})
		current = len(sections) - 1
	}

	if current >= 0 {
		closeSection(len(lines) - 1)
	}
	return sections
}

// SectionByHeading finds a section by heading text, case-insensitively.
func SectionByHeading(content, heading string) (Section, bool) {
	for _, s := range ParseSections(content) {
		if strings.EqualFold(s.Heading, heading) {
			return s, true
		}
	}
	return Section{}, false
}

func sectionID(heading string, line int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", strings.TrimSpace(heading), line)))
	return hex.EncodeToString(sum[:])[:12]
}
