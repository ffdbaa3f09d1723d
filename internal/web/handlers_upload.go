package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/jobqueue"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/logging"
)

const (
	// multipartMemory is how much of a form is buffered before spilling to disk.
	multipartMemory = 8 << 20

	// multipartOverhead allows for boundaries and headers on top of the file.
	multipartOverhead = 1 << 20

	defaultListLimit = 50
	maxListLimit     = 500
)

// StoredFileName names an accepted upload on disk: {yyyyMMdd_HHmmss}_{uuid}.csv.
func StoredFileName(now time.Time, id uuid.UUID) string {
	return now.UTC().Format("20060102_150405") + "_" + id.String() + ".csv"
}

type createUploadResponse struct {
	ID        int64             `json:"id"`
	Status    core.UploadStatus `json:"status"`
	StatusURL string            `json:"status_url"`
}

// handleCreateUpload stores the posted CSV, records a Pending upload and
// queues it for the worker. It answers 202 before any processing happens.
func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.slots.Acquire(ctx); err != nil {
		w.Header().Set("Retry-After", "5")
		respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	defer s.slots.Release()

	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: limit %d bytes", errFileTooLarge, maxSize), http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", errNoFile, err), http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		respondError(w, r, fmt.Errorf("%w: %q", errNotCSV, header.Filename), http.StatusBadRequest)
		return
	}
	if header.Size > maxSize {
		respondError(w, r, fmt.Errorf("%w: %d > %d bytes", errFileTooLarge, header.Size, maxSize), http.StatusRequestEntityTooLarge)
		return
	}

	now := s.now()
	path, err := s.storeFile(file, StoredFileName(now, uuid.New()))
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	upload, err := s.uploads.CreateUpload(ctx, path, now)
	if err != nil {
		_ = os.Remove(path)
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	logger := logging.FromContext(logging.WithUpload(ctx, upload.ID))

	enqueueCtx, cancel := context.WithTimeout(ctx, s.cfg.Upload.EnqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(enqueueCtx, jobqueue.Command{UploadID: upload.ID, FilePath: path}); err != nil {
		// The record stays Pending; `process` can pick the file up later.
		respondError(w, r, fmt.Errorf("enqueue upload %d: %w", upload.ID, err), http.StatusServiceUnavailable)
		return
	}

	if s.recorder != nil {
		s.recorder.UploadAccepted()
	}
	logger.Info("upload accepted",
		"file", header.Filename,
		"stored_as", filepath.Base(path),
		"size", header.Size,
	)

	statusURL := fmt.Sprintf("/api/uploads/%d", upload.ID)
	w.Header().Set("Location", statusURL)
	writeJSONStatus(w, r, http.StatusAccepted, createUploadResponse{
		ID:        upload.ID,
		Status:    upload.Status,
		StatusURL: statusURL,
	})
}

// storeFile copies src into the upload directory under name. A partial file
// is removed on error.
func (s *Server) storeFile(src io.Reader, name string) (string, error) {
	dir := s.cfg.Upload.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(dir, name)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return path, nil
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, r, fmt.Errorf("invalid parameter limit %q", raw), http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	uploads, err := s.uploads.ListUploads(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if uploads == nil {
		uploads = []core.Upload{}
	}
	writeJSON(w, r, map[string]any{"uploads": uploads})
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.loadUpload(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, upload)
}

type uploadEpisodesResponse struct {
	UploadID int64                  `json:"upload_id"`
	Status   core.UploadStatus      `json:"status"`
	Episodes []core.EnrichedEpisode `json:"episodes"`
}

// handleUploadEpisodes returns the episodes an upload touched with the
// characters stored for each. Episodes appear once the upload completes.
func (s *Server) handleUploadEpisodes(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.loadUpload(w, r)
	if !ok {
		return
	}

	episodes, err := s.uploads.EnrichedEpisodes(r.Context(), upload.ID)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if episodes == nil {
		episodes = []core.EnrichedEpisode{}
	}
	writeJSON(w, r, uploadEpisodesResponse{
		UploadID: upload.ID,
		Status:   upload.Status,
		Episodes: episodes,
	})
}

// loadUpload resolves {uploadID}, writing the error response itself.
func (s *Server) loadUpload(w http.ResponseWriter, r *http.Request) (core.Upload, bool) {
	raw := chi.URLParam(r, "uploadID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, fmt.Errorf("invalid parameter id %q", raw), http.StatusBadRequest)
		return core.Upload{}, false
	}

	upload, err := s.uploads.GetUpload(r.Context(), id)
	switch {
	case errors.Is(err, core.ErrUploadNotFound):
		respondError(w, r, err, http.StatusNotFound)
		return core.Upload{}, false
	case err != nil:
		respondError(w, r, err, http.StatusInternalServerError)
		return core.Upload{}, false
	}
	return upload, true
}
