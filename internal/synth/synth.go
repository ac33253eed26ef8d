// Package synth produces new document text from the current document, a
// transcript fragment and optional rolling context. The LLM rewrite service
// is the primary path; a deterministic local append strategy covers every
// failure mode so synthesis itself never errors.
package synth

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"loopnote/api/internal/notes"
)

// Actions for a synthesis run.
const (
	ActionUpdate = "update"
	ActionCreate = "create"
)

// Rewriter is the LLM rewrite service: prompt in, complete replacement
// document out. It may fail; Synthesize falls back locally.
type Rewriter interface {
	Rewrite(ctx context.Context, prompt string) (string, error)
}

// ChangeSummary is a line-level structural hint for the UI about what a
// synthesis changed. Line numbers are 1-based. It is derived from a
// positional diff, not a minimal edit script.
type ChangeSummary struct {
	TargetSection string `json:"target_section,omitempty"`
	ChangedLines  []int  `json:"changed_lines"`
	AddedLines    []int  `json:"added_lines"`
	TotalChanges  int    `json:"total_changes"`
}

// Service wraps the rewriter. A nil rewriter means the fallback path is used
// unconditionally.
type Service struct {
	rewriter Rewriter
}

func NewService(rewriter Rewriter) *Service {
	return &Service{rewriter: rewriter}
}

var titleCaser = cases.Title(language.English)

// Synthesize merges a transcript fragment into the document. On
// action=update the target section is rewritten in place; on action=create a
// new section is appended at document end. The returned summary is empty
// (zero changed and added lines) when no textual change was made, which the
// caller must not treat as a successful merge.
func (s *Service) Synthesize(ctx context.Context, current, targetSection, transcript, action, prevContext string) (string, ChangeSummary) {
	if s.rewriter == nil {
		return fallback(current, targetSection, transcript, action)
	}

	prompt := buildPrompt(current, targetSection, transcript, action, prevContext)
	generated, err := s.rewriter.Rewrite(ctx, prompt)
	if err != nil {
		log.Printf("synth: rewrite failed, using fallback: %v", err)
		return fallback(current, targetSection, transcript, action)
	}

	newContent := stripFences(generated)
	resolved := targetSection
	if action == ActionCreate {
		if heading, ok := lastCreatedHeading(newContent); ok {
			resolved = heading
		}
	}
	return newContent, diffLines(current, newContent, resolved)
}

func buildPrompt(current, targetSection, transcript, action, prevContext string) string {
	contextBlock := ""
	if prevContext != "" {
		contextBlock = fmt.Sprintf("\n**Previous Context (for continuity):**\n%q\n\n", prevContext)
	}

	if action == ActionCreate {
		return fmt.Sprintf(`You are a Recursive Markdown Editor for a note-taking app.

**Current File State:**
`+"```markdown\n%s\n```"+`
%s**New Input (from voice transcription):**
%q

**Instruction:**
This is a NEW TOPIC. Create a new section (## heading) for this content.
- Place it at the END of the file, before any closing content.
- Create a short, punchy heading (3-5 words).
- Convert the transcript into concise bullet points.
- Use the previous context to understand continuity if provided.
- Return the ENTIRE updated Markdown file.

Return ONLY the markdown content, no code blocks or explanations.`, current, contextBlock, transcript)
	}

	return fmt.Sprintf(`You are a Recursive Markdown Editor for a note-taking app.

**Current File State:**
`+"```markdown\n%s\n```"+`

**Target Section:** %s
%s**New Input (from voice transcription):**
%q

**Instruction:**
Rewrite the **Target Section** only to incorporate the new information:
1. If the user CORRECTED themselves (e.g., "actually, use X instead of Y"), REPLACE the old information completely with the new correct information. Do NOT use strikethrough - just update to the correct value.
2. If they ADDED detail, integrate it into existing bullet points or add new ones.
3. If they EXPANDED on a point, refine that bullet.
4. Keep it concise - no redundant information.
5. Use the previous context to understand continuity if provided.
6. NEVER use ~~strikethrough~~ formatting - always replace outdated info cleanly.

Return the ENTIRE updated Markdown file with only the target section modified.
Return ONLY the markdown content, no code blocks or explanations.`, current, targetSection, contextBlock, transcript)
}

// stripFences unwraps a response the model wrapped in a code fence.
func stripFences(text string) string {
	out := strings.TrimSpace(text)
	if strings.HasPrefix(out, "```markdown") {
		out = out[len("```markdown"):]
	} else if strings.HasPrefix(out, "```") {
		out = out[len("```"):]
	}
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out)
}

var newSectionHeading = regexp.MustCompile(`(?m)^##\s+(.+)$`)

// lastCreatedHeading finds the final ## heading in generated content; on a
// create, that is the section the model just added.
func lastCreatedHeading(content string) (string, bool) {
	matches := newSectionHeading.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return "", false
	}
	return strings.TrimSpace(matches[len(matches)-1][1]), true
}

// fallback is the deterministic local strategy used when the rewrite service
// is unavailable or errors.
func fallback(current, targetSection, transcript, action string) (string, ChangeSummary) {
	if action == ActionCreate {
		heading := fallbackHeading(transcript)
		newContent := strings.TrimRight(current, " \t\n") +
			fmt.Sprintf("\n\n## %s\n\n- %s\n", heading, transcript)
		return newContent, diffLines(current, newContent, heading)
	}

	// Locate the target by exact parsed heading, not substring: a fragment
	// of the heading appearing mid-line elsewhere must not attract the
	// bullet.
	section, found := notes.SectionByHeading(current, targetSection)
	if !found {
		// No textual change; the empty summary is the caller's signal.
		return current, ChangeSummary{
			TargetSection: targetSection,
			ChangedLines:  []int{},
			AddedLines:    []int{},
		}
	}

	lines := strings.Split(current, "\n")
	bullet := "- " + transcript
	insertAt := section.LineEnd + 1

	// Back up over trailing blank lines so the bullet lands inside the
	// section body rather than after its separating whitespace.
	for insertAt > section.LineStart+1 && strings.TrimSpace(lines[insertAt-1]) == "" {
		insertAt--
	}

	newLines := make([]string, 0, len(lines)+1)
	newLines = append(newLines, lines[:insertAt]...)
	newLines = append(newLines, bullet)
	newLines = append(newLines, lines[insertAt:]...)

	newContent := strings.Join(newLines, "\n")
	return newContent, diffLines(current, newContent, targetSection)
}

// fallbackHeading derives a short heading from the first few words of the
// fragment.
func fallbackHeading(transcript string) string {
	words := strings.Fields(transcript)
	if len(words) > 4 {
		words = words[:4]
	}
	return titleCaser.String(strings.Join(words, " "))
}

// diffLines compares old and new content positionally: indices past the old
// length are additions, unequal lines are changes.
func diffLines(oldContent, newContent, targetSection string) ChangeSummary {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	summary := ChangeSummary{
		TargetSection: targetSection,
		ChangedLines:  []int{},
		AddedLines:    []int{},
	}

	maxLen := len(oldLines)
	if len(newLines) > maxLen {
		maxLen = len(newLines)
	}

	for i := 0; i < maxLen; i++ {
		switch {
		case i >= len(newLines):
			// Line removed; the positional diff reports removals as changes
			// to keep the summary a two-bucket structure.
			summary.ChangedLines = append(summary.ChangedLines, i+1)
		case i >= len(oldLines):
			summary.AddedLines = append(summary.AddedLines, i+1)
		case oldLines[i] != newLines[i]:
			summary.ChangedLines = append(summary.ChangedLines, i+1)
		}
	}

	summary.TotalChanges = len(summary.ChangedLines) + len(summary.AddedLines)
	return summary
}
