package document

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/labwise/internal/common"
)

// UploadedDocument is the caller-supplied input of one pipeline invocation.
type UploadedDocument struct {
	Data      []byte
	MediaType string
	Name      string
}

// Size is the byte length of the document.
func (d UploadedDocument) Size() int64 { return int64(len(d.Data)) }

// UnsupportedFormatError rejects a declared media type outside the accepted set.
type UnsupportedFormatError struct {
	MediaType string
	Accepted  []string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported media type %q (accepted: %s)", e.MediaType, strings.Join(e.Accepted, ", "))
}

func (e *UnsupportedFormatError) Is(target error) bool { return target == common.ErrUnsupportedFormat }

func (e *UnsupportedFormatError) ErrorCode() string { return common.CodeUnsupportedFormat }

// PayloadTooLargeError rejects a document above the configured ceiling for its strategy.
type PayloadTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("file is %d bytes, limit is %d bytes", e.Size, e.Limit)
}

func (e *PayloadTooLargeError) Is(target error) bool { return target == common.ErrPayloadTooLarge }

func (e *PayloadTooLargeError) ErrorCode() string { return common.CodePayloadTooLarge }

// TypeMismatchError is raised when content sniffing disagrees with the declared type.
type TypeMismatchError struct {
	Declared string
	Detected string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("declared type %q but content looks like %q", e.Declared, e.Detected)
}

func (e *TypeMismatchError) Is(target error) bool { return target == common.ErrTypeMismatch }

func (e *TypeMismatchError) ErrorCode() string { return common.CodeTypeMismatch }
