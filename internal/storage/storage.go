// Package storage persists uploaded images and hands back stable references.
// The workflow service depends only on the reference string, never on the
// backend behind it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrImageNotFound   = errors.New("stored image not found")
	ErrFileTooLarge    = errors.New("image exceeds maximum allowed size")
	ErrUnsupportedType = errors.New("content type is not an allowed image type")
)

// allowedContentTypes lists the image MIME types accepted for upload.
var allowedContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// ImageStore is the contract for image storage backends.
type ImageStore interface {
	// Store persists the image and returns a stable reference usable for
	// display and for later retrieval via Open.
	Store(ctx context.Context, filename, contentType string, r io.Reader) (string, error)

	// Open streams back a previously stored image by its reference.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// Delete removes a stored image. Deleting a missing image is an error.
	Delete(ctx context.Context, ref string) error
}

func checkContentType(contentType string) error {
	// Strip any media-type parameters before matching.
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	if !allowedContentTypes[strings.TrimSpace(strings.ToLower(contentType))] {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	return nil
}

// objectName builds a collision-resistant storage name from the original
// filename, keeping the upload time visible the way the original uploads
// directory did.
func objectName(filename string) string {
	base := filepath.Base(filename)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, base)
	if base == "" || base == "." {
		base = "image"
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), base)
}
