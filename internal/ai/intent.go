package ai

import "regexp"

// ambiguityCues are lexical patterns for self-correction or hesitation,
// checked in order; the first match supplies the human-readable reason.
// An "unless" pattern vetoes the cue (RE2 has no lookahead, so the
// "scratch that, ..." clarifying-clause case is expressed as a veto).
// This is a deliberately cheap precision-over-recall check: it runs before
// any embedding or LLM call, so genuinely ambiguous fragments that use none
// of these phrasings will slip through and be applied directly.
var ambiguityCues = []struct {
	pattern *regexp.Regexp
	unless  *regexp.Regexp
	reason  string
}{
	{pattern: regexp.MustCompile(`(?i)\bwait\b.*\bno\b`), reason: "User said 'wait, no' - unclear if deleting or pausing"},
	{pattern: regexp.MustCompile(`(?i)\bactually\b.*\bwait\b`), reason: "User said 'actually wait' - intent unclear"},
	{pattern: regexp.MustCompile(`(?i)\bhmm+\b`), reason: "User is thinking/hesitating"},
	{pattern: regexp.MustCompile(`(?i)\buh+\b.*\blet me\b`), reason: "User is reconsidering"},
	{
		pattern: regexp.MustCompile(`(?i)\bscratch that\b`),
		unless:  regexp.MustCompile(`(?i)\bscratch that\s*,`),
		reason:  "User wants to undo but scope unclear",
	},
	{pattern: regexp.MustCompile(`(?i)\bnevermind\b`), reason: "User cancelled but unclear what"},
	{pattern: regexp.MustCompile(`(?i)\bforget\s+(what\s+)?i\s+said\b`), reason: "User wants to forget but scope unclear"},
}

// DetectAmbiguity reports whether a fragment's intent is too uncertain to
// apply without confirmation, and why.
func DetectAmbiguity(text string) (bool, string) {
	for _, cue := range ambiguityCues {
		if !cue.pattern.MatchString(text) {
			continue
		}
		if cue.unless != nil && cue.unless.MatchString(text) {
			continue
		}
		return true, cue.reason
	}
	return false, ""
}
