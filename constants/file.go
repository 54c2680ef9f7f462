package constants

import "strings"

// Declared media types the pipeline accepts.
const (
	MediaTypeText     = "text/plain"
	MediaTypePDF      = "application/pdf"
	MediaTypeImageAny = "image/*"
)

// Strategy is the extraction branch chosen for a declared media type.
type Strategy string

const (
	StrategyPlainText   Strategy = "PlainText"
	StrategyPdfText     Strategy = "PdfText"
	StrategyVisionImage Strategy = "VisionImage"
)

// ExtractionMethod tags how the text of a document was produced.
type ExtractionMethod string

const (
	MethodDirectText   ExtractionMethod = "direct-text"
	MethodPDFTextLayer ExtractionMethod = "pdf-text-layer"
	MethodVisionOCR    ExtractionMethod = "vision-ocr"
)

// AcceptedMediaTypes is reported back to callers on a rejected upload.
func AcceptedMediaTypes() []string {
	return []string{MediaTypeText, MediaTypePDF, "image/png", "image/jpeg", MediaTypeImageAny}
}

// AllowedExtensions maps file extensions to declared media types for directory ingestion.
var AllowedExtensions = map[string]string{
	"txt":  MediaTypeText,
	"pdf":  MediaTypePDF,
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MediaTypeForExt returns the declared media type for an extension, or "" if unknown.
func MediaTypeForExt(ext string) string {
	return AllowedExtensions[NormalizeExt(ext)]
}
