package notes

import (
	"strings"
	"testing"
)

const sampleDoc = `# My Project

Intro text.

## Database Schema

- users table
- sessions table

## Auth Flow

- token refresh
`

func TestParseSectionsPartitionsDocument(t *testing.T) {
	sections := ParseSections(sampleDoc)
	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(sections))
	}

	headings := []string{"My Project", "Database Schema", "Auth Flow"}
	levels := []int{1, 2, 2}
	for i, section := range sections {
		if section.Heading != headings[i] {
			t.Fatalf("section %d: heading %q, want %q", i, section.Heading, headings[i])
		}
		if section.Level != levels[i] {
			t.Fatalf("section %d: level %d, want %d", i, section.Level, levels[i])
		}
	}

	// Consecutive sections tile the document: each starts right after the
	// previous one ends.
	for i := 1; i < len(sections); i++ {
		if sections[i].LineStart != sections[i-1].LineEnd+1 {
			t.Fatalf("section %d starts at %d, previous ends at %d", i, sections[i].LineStart, sections[i-1].LineEnd)
		}
	}

	last := sections[len(sections)-1]
	if last.LineEnd != len(strings.Split(sampleDoc, "\n"))-1 {
		t.Fatalf("last section ends at %d, want end of document", last.LineEnd)
	}
}

func TestParseSectionsContentIncludesHeadingLine(t *testing.T) {
	sections := ParseSections(sampleDoc)
	db := sections[1]
	if !strings.HasPrefix(db.Content, "## Database Schema") {
		t.Fatalf("content should start with the heading line, got %q", db.Content)
	}
	if !strings.Contains(db.Content, "sessions table") {
		t.Fatalf("content missing section body: %q", db.Content)
	}
	if strings.Contains(db.Content, "Auth Flow") {
		t.Fatalf("content leaked into next section: %q", db.Content)
	}
}

func TestParseSectionsNoHeadings(t *testing.T) {
	if sections := ParseSections("just some text\nwith no headings\n"); len(sections) != 0 {
		t.Fatalf("expected no sections, got %d", len(sections))
	}
	if sections := ParseSections(""); len(sections) != 0 {
		t.Fatalf("expected no sections for empty document, got %d", len(sections))
	}
}

func TestParseSectionsIgnoresMalformedHeadings(t *testing.T) {
	doc := "#no space\n####### seven hashes\n## Real Heading\n"
	sections := ParseSections(doc)
	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	if sections[0].Heading != "Real Heading" {
		t.Fatalf("got heading %q", sections[0].Heading)
	}
}

func TestSectionIDsDeterministic(t *testing.T) {
	first := ParseSections(sampleDoc)
	second := ParseSections(sampleDoc)
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("section %d: id changed across parses (%s vs %s)", i, first[i].ID, second[i].ID)
		}
		if len(first[i].ID) != 12 {
			t.Fatalf("section %d: id length %d, want 12", i, len(first[i].ID))
		}
	}

	// Same heading at a different line gets a different id.
	moved := "\n" + sampleDoc
	shifted := ParseSections(moved)
	if shifted[0].ID == first[0].ID {
		t.Fatalf("expected id to change when heading moves lines")
	}
}

func TestSectionByHeading(t *testing.T) {
	section, ok := SectionByHeading(sampleDoc, "database schema")
	if !ok {
		t.Fatalf("expected case-insensitive match")
	}
	if section.Heading != "Database Schema" {
		t.Fatalf("got %q", section.Heading)
	}

	if _, ok := SectionByHeading(sampleDoc, "Schema"); ok {
		t.Fatalf("partial heading must not match")
	}
}

func TestInitialContent(t *testing.T) {
	content := InitialContent("Side Project")
	sections := ParseSections(content)
	if len(sections) != 1 || sections[0].Heading != "Side Project" || sections[0].Level != 1 {
		t.Fatalf("unexpected initial document: %q", content)
	}
}
