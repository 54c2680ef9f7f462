// Package ingest turns files on disk into pipeline documents for the
// batch CLI.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/labwise/constants"
	"github.com/joseph-ayodele/labwise/internal/common"
	"github.com/joseph-ayodele/labwise/internal/document"
)

// File is one loaded report.
type File struct {
	Path     string
	HashHex  string
	Document document.UploadedDocument
}

// LoadFile reads path and declares its media type from the extension.
func LoadFile(path string) (File, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	mediaType := constants.MediaTypeForExt(ext)
	if mediaType == "" {
		return File{}, common.NewAppError(common.CodeUnsupportedFormat,
			fmt.Sprintf("unsupported or missing extension %q", ext), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return File{
		Path:    path,
		HashHex: hex.EncodeToString(sum[:]),
		Document: document.UploadedDocument{
			Data:      data,
			MediaType: mediaType,
			Name:      filepath.Base(path),
		},
	}, nil
}

// AllowedExt reports whether ext maps to an accepted media type.
func AllowedExt(ext string) bool {
	return constants.MediaTypeForExt(ext) != ""
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}
