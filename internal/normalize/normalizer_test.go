package normalize

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/common"
)

const validReply = `{
  "results": [
    {"test_name": "Glucose", "value": "95", "unit": "mg/dL", "reference_range": "70-99", "status": "normal", "interpretation": "Within range"},
    {"test_name": "LDL", "value": "165", "unit": "mg/dL", "status": "high", "interpretation": "Above target"}
  ],
  "critical_findings": ["LDL elevated"],
  "summary": "Mostly normal with elevated LDL.",
  "recommendations": ["Discuss lipid management with your doctor"]
}`

func newNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(nil)
	require.NoError(t, err)
	return n
}

func TestNormalizeValid(t *testing.T) {
	n := newNormalizer(t)

	res, err := n.Normalize(validReply)
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, "Glucose", res.Results[0].TestName)
	assert.Equal(t, constants.StatusHigh, res.Results[1].Status)
	assert.Equal(t, []string{"LDL elevated"}, res.CriticalFindings)
	assert.Equal(t, "Mostly normal with elevated LDL.", res.Summary)
}

func TestNormalizeFenceRoundTrip(t *testing.T) {
	n := newNormalizer(t)

	bare, err := n.Normalize(validReply)
	require.NoError(t, err)

	for _, wrapped := range []string{
		"```json\n" + validReply + "\n```",
		"```\n" + validReply + "\n```",
		"  ```JSON\r\n" + validReply + "\r\n```  ",
	} {
		got, err := n.Normalize(wrapped)
		require.NoError(t, err)
		assert.Equal(t, bare, got)
	}
}

func TestNormalizeProseIsNotStripped(t *testing.T) {
	n := newNormalizer(t)

	_, err := n.Normalize("Sure! Here's the analysis: " + validReply)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidModelResponse))

	var re *ResponseError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ReasonMalformed, re.Reason)
	assert.True(t, strings.HasPrefix(re.Raw, "Sure!"))
}

func TestNormalizeProseAroundFence(t *testing.T) {
	n := newNormalizer(t)
	_, err := n.Normalize("Here you go:\n```json\n" + validReply + "\n```")
	assert.True(t, errors.Is(err, common.ErrInvalidModelResponse))
}

func TestNormalizeDefaultsSequences(t *testing.T) {
	n := newNormalizer(t)

	tests := []struct {
		name  string
		reply string
	}{
		{"absent", `{"summary": "No lab values found."}`},
		{"null", `{"results": null, "critical_findings": null, "recommendations": null, "summary": "No lab values found."}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := n.Normalize(tt.reply)
			require.NoError(t, err)
			assert.NotNil(t, res.Results)
			assert.Empty(t, res.Results)
			assert.NotNil(t, res.CriticalFindings)
			assert.NotNil(t, res.Recommendations)
		})
	}
}

func TestNormalizeRejectsUnknownStatus(t *testing.T) {
	n := newNormalizer(t)

	reply := `{"results":[{"test_name":"Glucose","value":"95","status":"borderline","interpretation":"x"}],"summary":"s"}`
	_, err := n.Normalize(reply)
	require.Error(t, err)

	var re *ResponseError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ReasonSchema, re.Reason)
	assert.Equal(t, "results[0].status", re.Field)
	assert.Equal(t, `"borderline"`, re.Value)
	assert.Equal(t, common.CodeInvalidModelResponse, common.CodeOf(err))
}

func TestNormalizeSchemaViolations(t *testing.T) {
	n := newNormalizer(t)

	tests := []struct {
		name      string
		reply     string
		wantField string
	}{
		{"missing summary", `{"results":[]}`, "summary"},
		{"blank summary", `{"summary":"   "}`, "summary"},
		{"summary not string", `{"summary": 3}`, "summary"},
		{"results not array", `{"results": {}, "summary": "s"}`, "results"},
		{"finding missing test_name", `{"results":[{"value":"1","status":"low","interpretation":"x"}],"summary":"s"}`, "results[0].test_name"},
		{"critical finding not string", `{"critical_findings":[1],"summary":"s"}`, "critical_findings[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.reply)
			var re *ResponseError
			require.True(t, errors.As(err, &re), "got %v", err)
			assert.Equal(t, ReasonSchema, re.Reason)
			assert.Equal(t, tt.wantField, re.Field)
		})
	}
}

func TestNormalizeNumericValueIsRenderedAsText(t *testing.T) {
	n := newNormalizer(t)

	res, err := n.Normalize(`{"results":[{"test_name":"Hemoglobin","value":13.50,"unit":"g/dL","status":"normal","interpretation":"ok"}],"summary":"s"}`)
	require.NoError(t, err)
	assert.Equal(t, "13.50", res.Results[0].Value)
}

func TestNormalizeMalformed(t *testing.T) {
	n := newNormalizer(t)

	tests := []struct {
		name   string
		reply  string
		reason string
	}{
		{"empty", "   ", ReasonEmpty},
		{"garbage", "not json", ReasonMalformed},
		{"truncated", `{"summary": "abc`, ReasonMalformed},
		{"two values", `{"summary":"a"} {"summary":"b"}`, ReasonMalformed},
		{"array", `[{"summary":"a"}]`, ReasonNotObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.reply)
			var re *ResponseError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.reason, re.Reason)
		})
	}
}

func TestMalformedRawIsExcerpted(t *testing.T) {
	n := newNormalizer(t)

	_, err := n.Normalize("x" + strings.Repeat("y", 2000))
	var re *ResponseError
	require.True(t, errors.As(err, &re))
	assert.LessOrEqual(t, len([]rune(re.Raw)), 500+len("...(truncated)"))
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFence("```{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripFence(`  {"a":1}  `))
	assert.Equal(t, "prefix ```json\n{}\n```", StripFence("prefix ```json\n{}\n```"))
}

func TestPointerToField(t *testing.T) {
	assert.Equal(t, "", pointerToField(""))
	assert.Equal(t, "summary", pointerToField("/summary"))
	assert.Equal(t, "results[2].status", pointerToField("/results/2/status"))
	assert.Equal(t, "a/b", pointerToField("/a~1b"))
}
