// Package document detects and extracts documents embedded in model
// responses. Detection is a pure function of the accumulated text: scanning
// the same text always yields the same result, so incremental scans during
// streaming and the final scan at completion agree.
package document

import (
	"regexp"
	"strings"
)

// Rule identifies which detection rule produced a match. Rules are evaluated
// in priority order; the first match wins.
type Rule int

const (
	// RuleMarker is an explicit inline marker naming a filename,
	// e.g. <!-- DOCUMENT: notes.md -->.
	RuleMarker Rule = iota
	// RuleFence is a fenced block flagged as downloadable,
	// e.g. ```markdown download notes.md.
	RuleFence
)

func (r Rule) String() string {
	switch r {
	case RuleMarker:
		return "marker"
	case RuleFence:
		return "fence"
	default:
		return "unknown"
	}
}

// Match is a detected document candidate. Filename may be empty for fence
// matches without an explicit name; a name is derived when the match is
// promoted to a Generated document.
type Match struct {
	Filename string
	Body     string
	Rule     Rule
}

var (
	markerRe = regexp.MustCompile(`(?i)<!--\s*DOCUMENT:\s*(\S+?)\s*-->`)
	fenceRe  = regexp.MustCompile("(?is)```(?:markdown|md|text)?[ \t]+download(?:[ \t]+([^\\s`]+))?[ \t]*\\n(.*?)```")
)

// triggerPhrases hint that an explicit marker is likely to follow. A phrase
// match alone never produces a document; conversational wording like "here
// is the document" is too common to act on.
var triggerPhrases = []string{
	"here is the document",
	"here's the document",
	"i've created",
	"i have created",
	"ready to download",
}

// Detect scans the full text and returns the highest-priority match, or nil.
func Detect(text string) *Match {
	if loc := markerRe.FindStringSubmatchIndex(text); loc != nil {
		filename := text[loc[2]:loc[3]]
		body := markerBody(text, loc[1])
		return &Match{Filename: filename, Body: body, Rule: RuleMarker}
	}
	if sub := fenceRe.FindStringSubmatch(text); sub != nil {
		return &Match{
			Filename: sub[1],
			Body:     strings.TrimSpace(sub[2]),
			Rule:     RuleFence,
		}
	}
	return nil
}

// DefaultWindow bounds the suffix scanned by DetectIncremental.
const DefaultWindow = 4096

// DetectIncremental is the cheap per-delta scan. Only the trailing window
// of the text is searched for a marker construct; when one appears there,
// the full text is scanned so the extracted body matches what the final
// scan will produce.
func DetectIncremental(text string, window int) *Match {
	if window <= 0 {
		window = DefaultWindow
	}
	suffix := text
	if len(suffix) > window {
		suffix = suffix[len(suffix)-window:]
	}
	if !markerRe.MatchString(suffix) && !fenceRe.MatchString(suffix) {
		return nil
	}
	return Detect(text)
}

// HasTrigger reports whether the text contains a natural-language phrase
// that hints a document is coming. Hint only: callers must not build a
// document from it.
func HasTrigger(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range triggerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// markerBody extracts the document body following a marker: to the end of
// the enclosing fenced block when the marker sits inside one, otherwise to
// the end of the response.
func markerBody(text string, markerEnd int) string {
	rest := text[markerEnd:]
	if strings.Count(text[:markerEnd], "```")%2 == 1 {
		if idx := strings.Index(rest, "```"); idx >= 0 {
			rest = rest[:idx]
		}
	}
	return strings.TrimSpace(rest)
}
