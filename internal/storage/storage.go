package storage

import (
	"context"
	"io"
)

// Uploader stores a session audio artifact and returns where it landed.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}
