package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// ArchivesHandler serves the cold-storage exports written by the archiver.
type ArchivesHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

// NewArchivesHandler creates an ArchivesHandler over the given blob reader.
func NewArchivesHandler(reader domain.BlobReader, logger *slog.Logger) *ArchivesHandler {
	return &ArchivesHandler{reader: reader, logger: logger}
}

// ListArchives returns metadata for archived objects under a prefix.
// GET /api/archives?prefix=archive/funding
func (h *ArchivesHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}
	// Keep listings inside the archive tree whatever the caller asks for.
	if !strings.HasPrefix(prefix, "archive/") {
		writeError(w, http.StatusBadRequest, "prefix must start with archive/")
		return
	}

	infos, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}

// GetArchive streams one archived NDJSON batch.
// GET /api/archives/{path...}
func (h *ArchivesHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "missing archive path")
		return
	}
	if !strings.HasPrefix(path, "archive/") || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	body, err := h.reader.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
