package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/invoice-markup/internal/document"
	"github.com/zombor/invoice-markup/internal/invoice"
)

// MaxUploadSize caps uploaded source invoices
const MaxUploadSize = 10 << 20

// acceptedContentTypes are the source formats the scanners can read
var acceptedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/heic":      true,
	"image/heif":      true,
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

type errorResponse struct {
	Error  string   `json:"error"`
	Stage  string   `json:"stage,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, errorResponse{Error: message})
}

// writeServiceError maps service errors onto status codes. Normalization
// failures are checked first since they may wrap a ValidationError.
func writeServiceError(w http.ResponseWriter, err error) {
	var processing *invoice.ProcessingError
	var validation *invoice.ValidationError
	switch {
	case errors.As(err, &processing):
		resp := errorResponse{Error: processing.Error(), Stage: string(processing.Stage)}
		if errors.As(processing, &validation) {
			resp.Fields = validation.Fields
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Error(), Fields: validation.Fields})
	case errors.Is(err, ErrNotFound):
		writeError(w, "Invoice not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidState):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("Internal error", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeDocument(w http.ResponseWriter, doc *document.Document) {
	w.Header().Set("Content-Type", document.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename()}))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Bytes())))
	if _, err := doc.WriteTo(w); err != nil {
		slog.Error("Error writing document", "filename", doc.Filename(), "error", err)
	}
}

// detectContentType prefers the part header, then the file extension.
// Browsers and multipart writers send application/octet-stream when unsure.
func detectContentType(filename, header string) string {
	if header != "" {
		mediaType, _, err := mime.ParseMediaType(header)
		if err == nil && mediaType != "application/octet-stream" {
			return strings.ToLower(mediaType)
		}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleListDrafts returns all drafts
func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := s.service.ListDrafts()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, drafts)
}

// handleUpload accepts a source invoice and scans it into a new draft
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 10MB.", http.StatusRequestEntityTooLarge)
			return
		}
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > MaxUploadSize {
		writeError(w, "File is too large. Maximum size is 10MB.", http.StatusRequestEntityTooLarge)
		return
	}

	contentType := detectContentType(header.Filename, header.Header.Get("Content-Type"))
	if !acceptedContentTypes[contentType] {
		writeError(w, fmt.Sprintf("Unsupported file type %q", contentType), http.StatusUnsupportedMediaType)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	draft, err := s.service.Upload(r.Context(), header.Filename, data, contentType)
	if err != nil {
		if draft != nil {
			// scanning failed; the failed draft is kept so the operator can see why
			writeJSON(w, http.StatusBadGateway, draft)
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

// handleGetDraft returns a single draft
func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.service.GetDraft(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleGetSourceFile returns the uploaded file for a draft
func (s *Server) handleGetSourceFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetSourceFile(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteDraft deletes a draft
func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDraft(r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitDetails attaches client details and normalizes the draft
func (s *Server) handleSubmitDetails(w http.ResponseWriter, r *http.Request) {
	var md invoice.Metadata
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	draft, err := s.service.SubmitDetails(r.PathValue("id"), md)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleGetDocument downloads the PDF for a ready draft
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.Document(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeDocument(w, doc)
}

type renderRequest struct {
	Payload  any              `json:"payload"`
	Metadata invoice.Metadata `json:"metadata"`
}

// handleRender normalizes and renders a payload in one request
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	decoder := json.NewDecoder(r.Body)
	// Keep amounts as written so they reach the normalizer without float rounding
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	doc, err := s.service.Render(req.Payload, req.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeDocument(w, doc)
}
