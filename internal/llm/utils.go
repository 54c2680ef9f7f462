package llm

import (
	"encoding/base64"
	"strings"
)

// EncodeBase64 is the payload encoding used for vision requests.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DataURL builds the inline URL form some providers accept for images and files.
func DataURL(mimeType, b64 string) string {
	return "data:" + mimeType + ";base64," + b64
}

// Excerpt cuts s to at most n runes for logs and error messages.
func Excerpt(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "...(truncated)"
		}
		i++
	}
	return s
}

// IsPDF reports whether a vision payload is a PDF rather than an image.
func IsPDF(mimeType string) bool {
	return strings.EqualFold(strings.TrimSpace(mimeType), "application/pdf")
}
