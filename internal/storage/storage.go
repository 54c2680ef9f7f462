// Package storage archives uploaded reports in an S3-compatible object store.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
)

type PutObjectOptions struct {
	Size        int64 // -1 when unknown
	ContentType string
	Metadata    map[string]string
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is safe for concurrent use.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Ping(ctx context.Context) error
}

// ObjectKey names the archived upload of analysis id:
// uploads/2006/01/02/<id>/<file name>.
func ObjectKey(id, fileName string, at time.Time) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f, r == '/', r == '?', r == '#', r == '%':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "upload"
	}
	return path.Join("uploads", at.UTC().Format("2006/01/02"), id, name)
}
