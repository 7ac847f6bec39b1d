package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"jammy/internal/models"
	"jammy/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const (
	DefaultMaxUploadSize = 10 << 20
	textMimeType         = "text/plain; charset=utf-8"
	maxFileNameLength    = 255
)

// Types accepted by magic number. Plain text has none and is accepted by
// extension when the content is valid UTF-8.
var allowedTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

type UploadResponse struct {
	models.APIResponse
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
}

// detectType returns the MIME type of an upload or "" when it is not allowed.
func detectType(name string, data []byte) string {
	kind, err := filetype.Match(data)
	if err == nil && kind != filetype.Unknown {
		if allowedTypes[kind.MIME.Value] {
			return kind.MIME.Value
		}
		return ""
	}
	if strings.EqualFold(filepath.Ext(name), ".txt") && utf8.Valid(data) {
		return textMimeType
	}
	return ""
}

func cleanFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r == '"' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	if utf8.RuneCountInString(name) > maxFileNameLength {
		name = string([]rune(name)[:maxFileNameLength])
	}
	return name
}

// UploadHandler stores a multipart "file" and returns the URL that chat
// messages may reference as fileUrl.
func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	maxSize := a.cfg.MaxUploadSize
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	if int64(len(data)) > maxSize {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	name := cleanFileName(header.Filename)
	mimeType := detectType(name, data)
	if mimeType == "" {
		writeError(w, http.StatusBadRequest, "Invalid file type. Only images, PDFs, and documents are allowed")
		return
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if err := a.files.Save(bytes.NewReader(data), hash); err != nil {
		slog.Error("failed to store upload", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		Name:      name,
		MimeType:  mimeType,
		Size:      int64(len(data)),
		CreatedAt: a.now().UnixMilli(),
		UserID:    identity.UserID,
	}
	if err := a.store.UpsertFileMetadata(meta); err != nil {
		slog.Error("failed to store upload metadata", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	slog.Info("file uploaded", "file_id", meta.ID, "user_id", identity.UserID, "mime", mimeType, "size", meta.Size)
	writeJSON(w, http.StatusOK, UploadResponse{
		APIResponse: models.APIResponse{Success: true},
		Filename:    name,
		URL:         a.cfg.BaseURL + "/uploads/" + meta.ID,
	})
}

func (a *API) FileHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	meta, err := a.store.GetFileMetadata(id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		slog.Error("failed to load file metadata", "file_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load file")
		return
	}

	rc, err := a.files.Open(meta.Hash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		slog.Error("failed to open file", "file_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load file")
		return
	}
	defer func() { _ = rc.Close() }()

	disposition := "attachment"
	if strings.HasPrefix(meta.MimeType, "image/") {
		disposition = "inline"
	}

	h := w.Header()
	h.Set("Content-Type", meta.MimeType)
	h.Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	h.Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, meta.Name))
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "private, max-age=31536000, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("failed to send file", "file_id", id, "error", err)
	}
}
