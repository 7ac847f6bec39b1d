// Package filestore keeps uploaded chat attachments addressed by the sha256
// of their content.
package filestore

import (
	"errors"
	"io"
)

var ErrInvalidHash = errors.New("invalid content hash")

// FileStore stores and retrieves attachments by content hash.
type FileStore interface {
	// Save is idempotent: content already stored under hash is kept.
	Save(r io.Reader, hash string) error

	// Open returns models.ErrNotFound when nothing is stored under hash.
	Open(hash string) (io.ReadCloser, error)
}
