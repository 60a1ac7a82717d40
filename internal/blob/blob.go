package blob

import (
	"context"
	"errors"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	ErrUpload   = errors.New("photo upload failed")
	ErrTooLarge = errors.New("photo exceeds size limit")
	ErrEmpty    = errors.New("photo is empty")
)

// Store puts bytes under key and returns a URL clients can fetch them from.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Object is the bookkeeping row for one uploaded blob.
type Object struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

const keyPrefix = "photos"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeName keeps the base name of a client-supplied file name with
// anything outside [A-Za-z0-9._-] collapsed to a dash.
func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeName.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		return "upload"
	}
	if len(name) > 80 {
		name = name[len(name)-80:]
	}
	return name
}
