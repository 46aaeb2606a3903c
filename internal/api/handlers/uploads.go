package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/nextconvert/assembler/internal/shared/storage"
	"go.uber.org/zap"
)

// MaxUploadSize bounds one uploaded scene asset or music track.
const MaxUploadSize = 100 << 20

// UploadHandler stores scene assets so manifests can reference them as
// storage:// refs instead of public URLs.
type UploadHandler struct {
	storage *storage.Service
	logger  *zap.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(storage *storage.Service, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{storage: storage, logger: logger}
}

// UploadResponse describes a stored asset.
type UploadResponse struct {
	Ref      string `json:"ref"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Upload handles a multipart upload with a single "file" part.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORM", "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "MISSING_FILE", "form field \"file\" is required")
		return
	}
	defer file.Close()

	mimeType, err := sniff(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNREADABLE_FILE", "failed to read upload")
		return
	}
	if !acceptedMedia(mimeType) {
		writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA", "only image and audio files are accepted, got "+mimeType)
		return
	}

	info, err := h.storage.Store(r.Context(), storage.ZoneUpload, header.Filename, file)
	if err != nil {
		h.logger.Error("Failed to store upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "STORE_FAILED", "failed to store file")
		return
	}

	h.logger.Info("Asset uploaded",
		zap.String("key", info.Key),
		zap.String("filename", header.Filename),
		zap.Int64("size", info.Size),
		zap.String("mime_type", mimeType),
	)

	writeJSON(w, http.StatusCreated, UploadResponse{
		Ref:      info.Ref(),
		Name:     header.Filename,
		Size:     info.Size,
		MimeType: mimeType,
	})
}

// sniff detects the content type from the first 512 bytes and rewinds.
func sniff(file multipart.File) (string, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}

func acceptedMedia(mimeType string) bool {
	switch {
	case strings.HasPrefix(mimeType, "image/"), strings.HasPrefix(mimeType, "audio/"):
		return true
	case mimeType == "application/ogg", mimeType == "video/mp4": // ogg/opus narration, m4a
		return true
	}
	return false
}
