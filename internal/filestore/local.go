package filestore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"jammy/internal/models"
)

// LocalFileStore implements FileStore on the local filesystem, fanning files
// out into directories named by the first byte of their hash.
type LocalFileStore struct {
	root string
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &LocalFileStore{root: root}, nil
}

func (s *LocalFileStore) path(hash string) (string, error) {
	if len(hash) != 64 {
		return "", ErrInvalidHash
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return "", ErrInvalidHash
	}
	return filepath.Join(s.root, hash[:2], hash), nil
}

func (s *LocalFileStore) Save(r io.Reader, hash string) error {
	path, err := s.path(hash)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

func (s *LocalFileStore) Open(hash string) (io.ReadCloser, error) {
	path, err := s.path(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file %s: %w", hash, err)
	}
	return f, nil
}
