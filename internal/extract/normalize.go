package extract

import (
	"regexp"
	"strings"
)

var (
	reLineBreaks = regexp.MustCompile(`\r\n?|\f`)
	reHSpace     = regexp.MustCompile(`[\t\x{00A0}\x{2007}\x{202F} ]{2,}|[\t\x{00A0}\x{2007}\x{202F}]`)
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)
)

// Normalize tidies whitespace left by PDF text layers.
// Line breaks are kept; runs of blank lines collapse to one. Characters
// inside values ("0.9", "<5") are never rewritten.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reLineBreaks.ReplaceAllString(s, "\n")
	s = reHSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	s = strings.Join(lines, "\n")
	s = reBlankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
