package truncate

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKeywords = []string{"glucose", "reference", "range", "cholesterol", "normal", "mg/dL"}

const marker = "\n[Text truncated to preserve medical content...]"

const filler = "The weather was pleasant and the parking lot was busy."

func buildReport(fillerCount int, medical []string) string {
	var parts []string
	for i := 0; i < fillerCount; i++ {
		parts = append(parts, filler)
		if i%40 == 20 && len(medical) > 0 {
			parts = append(parts, medical[0])
			medical = medical[1:]
		}
	}
	parts = append(parts, medical...)
	return strings.Join(parts, " ")
}

func TestApplyWithinBudgetUnchanged(t *testing.T) {
	p := NewPolicy(100, testKeywords, marker)
	in := "Glucose: 95 mg/dL (Normal: 70-100)"

	res := p.Apply(in)
	assert.Equal(t, in, res.Text)
	assert.False(t, res.Truncated)
	assert.Equal(t, utf8.RuneCountInString(in), res.OriginalLength)
}

func TestApplyPrefersKeywordSentences(t *testing.T) {
	medical := []string{
		"Glucose 95 mg/dL is within the reference range.",
		"Total cholesterol 182 mg/dL.",
		"Fasting glucose was repeated the next morning.",
	}
	in := buildReport(370, medical)
	require.GreaterOrEqual(t, utf8.RuneCountInString(in), 20000)

	p := NewPolicy(4000, testKeywords, marker)
	res := p.Apply(in)

	assert.True(t, res.Truncated)
	assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), 4000)
	assert.True(t, strings.HasSuffix(res.Text, marker))
	for _, m := range medical {
		assert.Contains(t, res.Text, m)
	}
	assert.Equal(t, utf8.RuneCountInString(in), res.OriginalLength)
}

func TestApplyKeepsDocumentOrder(t *testing.T) {
	in := "Intro filler sentence here. Glucose 95 mg/dL. Another filler sentence. " + strings.Repeat("Padding words go on. ", 20)
	p := NewPolicy(120, testKeywords, " [cut]")
	p.KeywordMargin = 10
	p.FillMargin = 5

	res := p.Apply(in)
	require.True(t, res.Truncated)
	iIntro := strings.Index(res.Text, "Intro")
	iGlucose := strings.Index(res.Text, "Glucose")
	require.NotEqual(t, -1, iGlucose)
	if iIntro >= 0 {
		assert.Less(t, iIntro, iGlucose)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	in := buildReport(500, []string{"Hemoglobin normal.", "Glucose reference range 70-100."})
	for _, budget := range []int{200, 1000, 4000, 8000} {
		p := NewPolicy(budget, testKeywords, marker)
		once := p.Apply(in)
		twice := p.Apply(once.Text)
		assert.Equal(t, once.Text, twice.Text, "budget %d", budget)
		assert.False(t, twice.Truncated)
	}
}

func TestApplyIsDeterministic(t *testing.T) {
	in := buildReport(300, []string{"Glucose 101 mg/dL high."})
	p := NewPolicy(1500, testKeywords, marker)
	assert.Equal(t, p.Apply(in), p.Apply(in))
}

func TestApplyWithoutSentenceBreaks(t *testing.T) {
	in := strings.Repeat("x", 10000)
	p := NewPolicy(500, testKeywords, marker)

	res := p.Apply(in)
	assert.True(t, res.Truncated)
	assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), 500)
	assert.True(t, strings.HasSuffix(res.Text, marker))
	assert.Equal(t, res.Text, p.Apply(res.Text).Text)
}

func TestApplyMultibyteText(t *testing.T) {
	in := strings.Repeat("Glukóza 5,4 mmol/l v normě. ", 200)
	p := NewPolicy(300, []string{"mmol/l"}, marker)

	res := p.Apply(in)
	assert.True(t, utf8.ValidString(res.Text))
	assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), 300)
}

func TestApplyMarkerLongerThanBudget(t *testing.T) {
	p := NewPolicy(10, nil, marker)
	res := p.Apply(strings.Repeat("abc ", 10))
	assert.Equal(t, 10, utf8.RuneCountInString(res.Text))
}

func TestSegments(t *testing.T) {
	got := segments("One. Two!  Three?\nFour")
	assert.Equal(t, []string{"One.", "Two!", "Three?", "Four"}, got)
	assert.Empty(t, segments("   "))
}
