package document

import (
	"log/slog"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/labwise/constants"
)

// Classify maps a declared media type to an extraction strategy.
// Parameters (e.g. "; charset=utf-8") and letter case are ignored.
func Classify(mediaType string) (constants.Strategy, error) {
	base := BaseMediaType(mediaType)
	switch {
	case base == constants.MediaTypeText:
		return constants.StrategyPlainText, nil
	case base == constants.MediaTypePDF:
		return constants.StrategyPdfText, nil
	case strings.HasPrefix(base, "image/") && len(base) > len("image/"):
		return constants.StrategyVisionImage, nil
	default:
		return "", &UnsupportedFormatError{MediaType: mediaType, Accepted: constants.AcceptedMediaTypes()}
	}
}

// BaseMediaType lowercases mediaType and drops its parameters.
func BaseMediaType(mediaType string) string {
	mt := strings.TrimSpace(mediaType)
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// Limits are the per-strategy byte ceilings.
type Limits struct {
	MaxTextBytes  int64
	MaxPDFBytes   int64
	MaxImageBytes int64
}

func (l Limits) forStrategy(s constants.Strategy) int64 {
	switch s {
	case constants.StrategyPlainText:
		return l.MaxTextBytes
	case constants.StrategyPdfText:
		return l.MaxPDFBytes
	default:
		return l.MaxImageBytes
	}
}

// Classifier gates a document before any extraction: format, size and,
// optionally, the declared type against the content.
type Classifier struct {
	limits Limits
	verify bool
	logger *slog.Logger
}

func NewClassifier(limits Limits, verifyContent bool, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if limits.MaxTextBytes <= 0 {
		limits.MaxTextBytes = 10 << 20
	}
	if limits.MaxPDFBytes <= 0 {
		limits.MaxPDFBytes = 10 << 20
	}
	if limits.MaxImageBytes <= 0 {
		limits.MaxImageBytes = 25 << 20
	}
	return &Classifier{limits: limits, verify: verifyContent, logger: logger}
}

// Classify returns the strategy for doc or a typed rejection.
func (c *Classifier) Classify(doc UploadedDocument) (constants.Strategy, error) {
	strategy, err := Classify(doc.MediaType)
	if err != nil {
		c.logger.Warn("classify.unsupported", "name", doc.Name, "media_type", doc.MediaType)
		return "", err
	}
	if limit := c.limits.forStrategy(strategy); doc.Size() > limit {
		c.logger.Warn("classify.too_large", "name", doc.Name, "size", doc.Size(), "limit", limit)
		return "", &PayloadTooLargeError{Size: doc.Size(), Limit: limit}
	}
	if c.verify {
		if err := verifyContent(strategy, doc); err != nil {
			c.logger.Warn("classify.type_mismatch", "name", doc.Name, "error", err)
			return "", err
		}
	}
	return strategy, nil
}

func verifyContent(strategy constants.Strategy, doc UploadedDocument) error {
	detected := mimetype.Detect(doc.Data)
	ok := false
	switch strategy {
	case constants.StrategyPlainText:
		ok = isText(detected)
	case constants.StrategyPdfText:
		ok = detected.Is(constants.MediaTypePDF)
	case constants.StrategyVisionImage:
		ok = strings.HasPrefix(detected.String(), "image/")
	}
	if ok {
		return nil
	}
	return &TypeMismatchError{Declared: doc.MediaType, Detected: BaseMediaType(detected.String())}
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(constants.MediaTypeText) {
			return true
		}
	}
	return false
}
