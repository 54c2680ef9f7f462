// Package prompt builds the instructions sent to the model provider.
package prompt

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/analysis"
)

// Messages is a system/user prompt pair.
type Messages struct {
	System string
	User   string
}

// Builder is pure: the same inputs always give the same prompt.
type Builder struct {
	shape string
}

func NewBuilder() *Builder {
	return &Builder{shape: analysis.ShapeTemplate()}
}

const emptyResultHint = `{
  "results": [],
  "critical_findings": [],
  "summary": "No medical measurements or lab results found in the document",
  "recommendations": ["Please ensure the document contains lab results or medical measurements"]
}`

func (b *Builder) system() string {
	var sb strings.Builder
	sb.WriteString("You are a medical lab results analyzer. You MUST respond with valid JSON only. ")
	sb.WriteString("Look for ANY medical values, lab tests, vital signs, or health measurements. ")
	sb.WriteString("Do not include any text outside of the JSON structure.\n\n")
	sb.WriteString("Return exactly one JSON object with this shape:\n")
	sb.WriteString(b.shape)
	sb.WriteString("\n\nRules:\n")
	fmt.Fprintf(&sb, "- \"status\" must be one of: %s.\n", strings.Join(constants.StatusesAsStringSlice(), ", "))
	sb.WriteString("- \"value\" is the measured value as written in the document, as a string.\n")
	sb.WriteString("- \"summary\" must never be empty.\n")
	sb.WriteString("- Use [] for lists with nothing to report.\n")
	sb.WriteString("- Do not wrap the JSON in Markdown code fences.\n\n")
	sb.WriteString("If truly no medical data is found, return:\n")
	sb.WriteString(emptyResultHint)
	return sb.String()
}

func targets(sb *strings.Builder) {
	sb.WriteString("Look for:\n")
	sb.WriteString("- Lab test names (CBC, glucose, cholesterol, etc.)\n")
	sb.WriteString("- Medical values with numbers and units (mg/dL, mmol/L, etc.)\n")
	sb.WriteString("- Reference ranges or normal values\n")
	sb.WriteString("- Vital signs (blood pressure, heart rate, temperature)\n")
	sb.WriteString("- Any medical measurements or test results\n\n")
	sb.WriteString("Be very inclusive: if you see numbers that could be medical measurements, include them.\n")
}

// Analysis is the prompt for extracted document text.
func (b *Builder) Analysis(text, name string) Messages {
	var sb strings.Builder
	sb.WriteString("Analyze this medical document and extract ANY lab results, medical measurements, or health data.\n")
	if name != "" {
		fmt.Fprintf(&sb, "File name: %s\n", name)
	}
	targets(&sb)
	sb.WriteString("\nDocument text to analyze:\n")
	sb.WriteString(text)
	return Messages{System: b.system(), User: sb.String()}
}

// VisionAnalysis is the prompt sent with an attached image of the report.
func (b *Builder) VisionAnalysis(name string) Messages {
	var sb strings.Builder
	sb.WriteString("Analyze the attached image of a medical document and extract ANY lab results, medical measurements, or health data.\n")
	if name != "" {
		fmt.Fprintf(&sb, "File name: %s\n", name)
	}
	targets(&sb)
	sb.WriteString("Read tables row by row and keep each value with its unit and reference range.\n")
	return Messages{System: b.system(), User: sb.String()}
}

// Transcription is the OCR prompt. The reply is plain text, not JSON.
func (b *Builder) Transcription(mediaType string) Messages {
	kind := "image"
	if strings.EqualFold(mediaType, constants.MediaTypePDF) {
		kind = "document"
	}
	return Messages{
		System: "You are an OCR engine for medical documents. Transcribe faithfully; never summarize, interpret, or invent values.",
		User: fmt.Sprintf("Extract all text from this %s, especially lab test results. "+
			"Preserve tabular lab values together with their units, reference ranges, and dates, one row per line. "+
			"Return only the extracted text.", kind),
	}
}
