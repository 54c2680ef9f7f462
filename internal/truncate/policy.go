package truncate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Default margins reserved below the budget for each pass.
const (
	DefaultKeywordMargin = 100
	DefaultFillMargin    = 50
)

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// Policy bounds document text to a character budget, keeping sentences
// with domain keywords ahead of filler. It is deterministic and safe for
// concurrent use.
type Policy struct {
	Budget        int
	Keywords      []string
	Marker        string
	KeywordMargin int
	FillMargin    int

	lowered []string
}

// Result records whether text was cut. OriginalLength is the rune count
// of the input.
type Result struct {
	Text           string
	Truncated      bool
	OriginalLength int
}

func NewPolicy(budget int, keywords []string, marker string) *Policy {
	p := &Policy{
		Budget:        budget,
		Keywords:      keywords,
		Marker:        marker,
		KeywordMargin: DefaultKeywordMargin,
		FillMargin:    DefaultFillMargin,
	}
	p.lowered = make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			p.lowered = append(p.lowered, k)
		}
	}
	return p
}

// Apply returns text unchanged when it fits the budget. Otherwise it keeps
// keyword sentences first, fills the rest in document order and appends the
// marker. The output never exceeds Budget runes, so applying the policy to
// its own output is a no-op.
func (p *Policy) Apply(text string) Result {
	n := utf8.RuneCountInString(text)
	res := Result{Text: text, OriginalLength: n}
	if p.Budget <= 0 || n <= p.Budget {
		return res
	}
	res.Truncated = true

	markerLen := utf8.RuneCountInString(p.Marker)
	if markerLen >= p.Budget {
		res.Text = prefixRunes(text, p.Budget)
		return res
	}
	avail := p.Budget - markerLen

	segs := segments(text)
	keep := make([]bool, len(segs))
	used := 0
	// each kept segment after the first costs one joining space
	cost := func(s string) int {
		c := utf8.RuneCountInString(s)
		if used > 0 {
			c++
		}
		return c
	}

	keywordLimit := avail - p.KeywordMargin
	for i, s := range segs {
		if !p.hasKeyword(s) {
			continue
		}
		if c := cost(s); used+c <= keywordLimit {
			keep[i] = true
			used += c
		}
	}
	fillLimit := avail - p.FillMargin
	for i, s := range segs {
		if keep[i] {
			continue
		}
		if c := cost(s); used+c <= fillLimit {
			keep[i] = true
			used += c
		}
	}

	var b strings.Builder
	for i, s := range segs {
		if !keep[i] {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	body := b.String()
	if body == "" {
		// no whole sentence fits; fall back to a hard cut
		body = prefixRunes(text, max(avail-p.FillMargin, avail/2))
	}
	res.Text = body + p.Marker
	return res
}

func (p *Policy) hasKeyword(s string) bool {
	l := strings.ToLower(s)
	for _, k := range p.lowered {
		if strings.Contains(l, k) {
			return true
		}
	}
	return false
}

// segments splits on sentence punctuation followed by whitespace. Each
// segment keeps its punctuation; surrounding whitespace is trimmed.
func segments(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		seg := strings.TrimSpace(text[last : loc[0]+1])
		if seg != "" {
			out = append(out, seg)
		}
		last = loc[1]
	}
	if tail := strings.TrimSpace(text[last:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func prefixRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
