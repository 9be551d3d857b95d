package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/coincard/internal/export"
	"github.com/zombor/coincard/internal/query"
	"github.com/zombor/coincard/internal/record"
	"github.com/zombor/coincard/internal/scanning"
)

// maxPhotoSize bounds uploads; high-resolution phone photos run to tens of MB
const maxPhotoSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body with CORS headers set
func writeError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, record.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, record.ErrInvalidRecord):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// serviceError logs failures the client cannot fix and writes the mapped status
func serviceError(w http.ResponseWriter, action string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Error "+action, "error", err)
		writeError(w, "Internal server error", code)
		return
	}
	writeError(w, err.Error(), code)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: record ID must be a positive integer", ErrValidation)
	}
	return id, nil
}

func listOptions(r *http.Request) (query.Options, error) {
	q := r.URL.Query()
	mode, err := query.ParseSortMode(q.Get("sort"))
	if err != nil {
		return query.Options{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return query.Options{
		Search: q.Get("q"),
		Tag:    q.Get("tag"),
		Sort:   mode,
	}, nil
}

// photoContentType falls back to the file extension when the upload carries no type
func photoContentType(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleScan stores an uploaded photo and returns the draft the scanner made of it
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "Photo is too large. Maximum size is 50MB.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No photo was provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading photo", "error", err, "filename", header.Filename)
		writeError(w, "Error reading photo. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := photoContentType(header.Header.Get("Content-Type"), header.Filename)
	draft, err := s.service.Analyze(r.Context(), header.Filename, data, contentType)
	if err != nil {
		serviceError(w, "analyzing photo", err)
		return
	}

	writeJSON(w, http.StatusOK, draft)
}

// handleAnalyze classifies a base64 image and answers with the raw reply
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req scanning.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, scanning.AnalyzeResponse{Error: "Invalid request body"})
		return
	}

	reply, err := s.service.Classify(r.Context(), req.Image)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrValidation) {
			code = http.StatusBadRequest
		} else {
			slog.Error("Error classifying image", "error", err)
		}
		writeJSON(w, code, scanning.AnalyzeResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, scanning.AnalyzeResponse{Result: reply})
}

// handleListRecords returns the searched, filtered and sorted records with their total
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := s.service.List(opts)
	if err != nil {
		serviceError(w, "listing records", err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleSaveRecord stores a confirmed draft
func (s *Server) handleSaveRecord(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := s.service.Save(req)
	if err != nil {
		serviceError(w, "saving record", err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleGetRecord returns a single record
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := s.service.Get(id)
	if err != nil {
		serviceError(w, "getting record", err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleUpdateRecord edits a stored record
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := s.service.Update(id, req)
	if err != nil {
		serviceError(w, "updating record", err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteRecord deletes a record
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.service.Delete(id); err != nil {
		serviceError(w, "deleting record", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleReset deletes every record and the hashtag vocabulary
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Reset(); err != nil {
		serviceError(w, "resetting ledger", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetPhoto returns the photo a record was captured from
func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, contentType, err := s.service.Photo(id)
	if err != nil {
		serviceError(w, "getting photo", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleListHashtags returns the hashtag vocabulary
func (s *Server) handleListHashtags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.service.Hashtags()
	if err != nil {
		serviceError(w, "listing hashtags", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]string{"hashtags": tags})
}

// handleAddHashtags grows the hashtag vocabulary
func (s *Server) handleAddHashtags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hashtags []string `json:"hashtags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tags, err := s.service.AddHashtags(req.Hashtags)
	if err != nil {
		serviceError(w, "adding hashtags", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]string{"hashtags": tags})
}

// handleExport downloads the listed records as a spreadsheet
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, now, err := s.service.Export(opts)
	if err != nil {
		serviceError(w, "exporting records", err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, data); err != nil {
		serviceError(w, "writing export", err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename(now)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}
