package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/receipt-router/internal/routing"
	"github.com/zombor/receipt-router/internal/scanning"
)

// maxFormSize bounds multipart uploads (high-resolution phone photos)
const maxFormSize = int64(50 << 20)

// maxBatchFormSize bounds a multi-file batch upload
const maxBatchFormSize = int64(200 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes a JSON error body
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// contentTypeFor uses the part's declared type, falling back to the file
// extension
func contentTypeFor(header *multipart.FileHeader) string {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".gif":
			contentType = "image/gif"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = "application/octet-stream"
		}
	}
	return scanning.NormalizeMediaType(contentType)
}

func readUpload(header *multipart.FileHeader) (Upload, error) {
	if header.Size > maxFormSize {
		return Upload{}, fmt.Errorf("%s is too large. Maximum size is 50MB", header.Filename)
	}
	f, err := header.Open()
	if err != nil {
		return Upload{}, fmt.Errorf("opening %s: %w", header.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Upload{}, fmt.Errorf("reading %s: %w", header.Filename, err)
	}
	return Upload{Filename: header.Filename, ContentType: contentTypeFor(header), Data: data}, nil
}

// statusFor maps extraction errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, scanning.ErrUnsupportedInput):
		return http.StatusBadRequest
	case errors.Is(err, routing.ErrAllTiersRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrExtractionFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleListExtractions returns a list of all extractions
func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	extractions, err := s.service.ListExtractions()
	if err != nil {
		slog.Error("Error listing extractions", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, extractions)
}

// handleCreateExtraction extracts a single uploaded document
func (s *Server) handleCreateExtraction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize+(1<<20))
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	_, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	upload, err := readUpload(header)
	if err != nil {
		slog.Error("Error reading upload", "filename", header.Filename, "error", err)
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	extraction, err := s.service.ExtractOne(r.Context(), upload.Filename, upload.Data, upload.ContentType)
	if err != nil {
		slog.Error("Error extracting document", "filename", upload.Filename, "error", err)
		if extraction != nil {
			// the record was saved but nothing was accepted or produced
			writeJSON(w, statusFor(err), extraction)
			return
		}
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, extraction)
}

// handleCreateBatch extracts every uploaded file through the batch controller
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchFormSize+(1<<20))
	if err := r.ParseMultipartForm(maxBatchFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		jsonError(w, "No files provided", http.StatusBadRequest)
		return
	}

	opts := s.batchDefaults
	query := r.URL.Query()
	if v := query.Get("concurrency"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonError(w, "concurrency must be a positive integer", http.StatusBadRequest)
			return
		}
		// the configured bound protects remote rate limits; requests may only lower it
		if limit := max(s.batchDefaults.Concurrency, 1); n > limit {
			jsonError(w, fmt.Sprintf("concurrency must not exceed %d", limit), http.StatusBadRequest)
			return
		}
		opts.Concurrency = n
	}
	if v := query.Get("stop_on_error"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			jsonError(w, "stop_on_error must be a boolean", http.StatusBadRequest)
			return
		}
		opts.StopOnError = b
	}
	if v := query.Get("stagger"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			jsonError(w, "stagger must be a duration such as 250ms", http.StatusBadRequest)
			return
		}
		opts.Stagger = d
	}

	uploads := make([]Upload, 0, len(headers))
	for _, header := range headers {
		upload, err := readUpload(header)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		uploads = append(uploads, upload)
	}

	total := len(uploads)
	opts.Progress = func(completed, total int) {
		slog.Debug("Batch progress", "completed", completed, "total", total)
	}

	extractions, err := s.service.ExtractBatch(r.Context(), uploads, opts)
	response := struct {
		Extractions []*Extraction `json:"extractions"`
		Total       int           `json:"total"`
		Failed      int           `json:"failed"`
		Error       string        `json:"error,omitempty"`
	}{Extractions: extractions, Total: total}
	for _, e := range extractions {
		if e != nil && e.Failed {
			response.Failed++
		}
	}
	if err != nil {
		slog.Warn("Batch stopped early", "error", err)
		response.Error = err.Error()
	}

	writeJSON(w, http.StatusOK, response)
}

// handleGetExtraction returns a single extraction
func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Extraction ID required", http.StatusBadRequest)
		return
	}
	extraction, err := s.service.GetExtraction(id)
	if err != nil {
		corsError(w, "Extraction not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, extraction)
}

// handleGetExtractionFile returns the source document of an extraction
func (s *Server) handleGetExtractionFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Extraction ID required", http.StatusBadRequest)
		return
	}
	data, contentType, err := s.service.GetExtractionFile(id)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteExtraction deletes an extraction
func (s *Server) handleDeleteExtraction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Extraction ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteExtraction(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Extraction not found", http.StatusNotFound)
			return
		}
		corsError(w, "Error deleting extraction", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListTiers returns the configured tiers
func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Tiers())
}
