package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/latticehq/lattice/internal/domain"
)

type documentResponse struct {
	ID                 int64  `json:"id"`
	Filename           string `json:"filename"`
	Checksum           string `json:"checksum"`
	ContentType        string `json:"content_type"`
	FileSize           int64  `json:"file_size"`
	UseAgenticChunking bool   `json:"use_agentic_chunking"`
	ExtractionStatus   string `json:"extraction_status"`
	CreatedAt          string `json:"created_at"`
}

func toDocumentResponse(d domain.Document) documentResponse {
	return documentResponse{
		ID:                 d.ID,
		Filename:           d.Filename,
		Checksum:           d.Checksum,
		ContentType:        d.ContentType,
		FileSize:           d.FileSize,
		UseAgenticChunking: d.UseAgenticChunking,
		ExtractionStatus:   string(d.ExtractionStatus),
		CreatedAt:          d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// UploadDocument handles POST /v1/documents (multipart/form-data, field
// "file"). A byte-identical duplicate returns 200 with the existing document;
// a new document returns 201 and starts the extraction workflow.
func (s *Server) UploadDocument() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(s.Cfg.MaxUploadMB << 20); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code: "PAYLOAD_TOO_LARGE", Message: fmt.Sprintf("upload exceeds %d MB", s.Cfg.MaxUploadMB),
				}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: malformed multipart form: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file field required", domain.ErrInvalidArgument), nil)
			return
		}
		defer func() { _ = file.Close() }()

		filename := sanitizeFilename(header.Filename)
		if filename == "" {
			writeError(w, r, fmt.Errorf("%w: empty filename", domain.ErrInvalidArgument), nil)
			return
		}
		useAgentic := r.FormValue("use_agentic_chunking") == "true"

		doc, duplicate, err := s.Uploads.Upload(r.Context(), companyFrom(r.Context()), filename, file, useAgentic)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		status := http.StatusCreated
		if duplicate {
			status = http.StatusOK
		}
		resp := toDocumentResponse(doc)
		writeJSON(w, status, map[string]any{"document": resp, "duplicate": duplicate})
	}
}

// GetDocument handles GET /v1/documents/{documentID}.
func (s *Server) GetDocument() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "documentID")
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		doc, err := s.Documents.Get(r.Context(), companyFrom(r.Context()), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toDocumentResponse(doc))
	}
}

// sanitizeFilename strips any path components and control characters from a
// client-supplied filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "." || name == ".." {
		return ""
	}
	return strings.TrimSpace(name)
}
