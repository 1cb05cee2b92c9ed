package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Matrices   domain.MatrixRepository
	Questions  domain.QuestionRepository
	Documents  domain.DocumentRepository
	Executions domain.WorkflowExecutionRepository
	EntitySets usecase.EntitySetService
	Uploads    usecase.UploadService
	Search     usecase.SearchService
	Reprocess  usecase.ReprocessService
	Templates  usecase.TemplateService
	Quota      usecase.QuotaService
	Workflows  domain.WorkflowStarter
	// Readiness probes by dependency name; all must pass for /readyz.
	Readiness map[string]func(ctx context.Context) error
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrInvalidArgument, name)
	}
	return id, nil
}

type matrixResponse struct {
	ID          int64  `json:"id"`
	WorkspaceID int64  `json:"workspace_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MatrixType  string `json:"matrix_type"`
	CreatedAt   string `json:"created_at"`
}

func toMatrixResponse(m domain.Matrix) matrixResponse {
	return matrixResponse{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		Name:        m.Name,
		Description: m.Description,
		MatrixType:  string(m.MatrixType),
		CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateMatrix handles POST /v1/matrices.
func (s *Server) CreateMatrix() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createMatrixRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		m := domain.Matrix{
			WorkspaceID: req.WorkspaceID,
			CompanyID:   companyFrom(r.Context()),
			Name:        req.Name,
			Description: req.Description,
			MatrixType:  domain.MatrixType(req.MatrixType),
			CreatedAt:   time.Now().UTC(),
		}
		id, err := s.Matrices.Create(r.Context(), m)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		m.ID = id
		writeJSON(w, http.StatusCreated, toMatrixResponse(m))
	}
}

// GetMatrix handles GET /v1/matrices/{matrixID}.
func (s *Server) GetMatrix() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "matrixID")
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		m, err := s.Matrices.Get(r.Context(), companyFrom(r.Context()), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toMatrixResponse(m))
	}
}

type entitySetResponse struct {
	ID         int64  `json:"id"`
	MatrixID   int64  `json:"matrix_id"`
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
}

// CreateEntitySet handles POST /v1/matrices/{matrixID}/entity-sets.
func (s *Server) CreateEntitySet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matrixID, err := pathID(r, "matrixID")
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var req createEntitySetRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		companyID := companyFrom(r.Context())
		if _, err := s.Matrices.Get(r.Context(), companyID, matrixID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		set, err := s.EntitySets.CreateEntitySet(r.Context(), domain.EntitySet{
			MatrixID:   matrixID,
			CompanyID:  companyID,
			Name:       req.Name,
			EntityType: domain.EntityType(req.EntityType),
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, entitySetResponse{
			ID: set.ID, MatrixID: set.MatrixID, Name: set.Name, EntityType: string(set.EntityType),
		})
	}
}

// ListEntitySets handles GET /v1/matrices/{matrixID}/entity-sets.
func (s *Server) ListEntitySets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matrixID, err := pathID(r, "matrixID")
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		sets, err := s.EntitySets.ListMatrixEntitySets(r.Context(), companyFrom(r.Context()), matrixID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]entitySetResponse, 0, len(sets))
		for _, set := range sets {
			out = append(out, entitySetResponse{
				ID: set.ID, MatrixID: set.MatrixID, Name: set.Name, EntityType: string(set.EntityType),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"entity_sets": out})
	}
}

type memberResponse struct {
	ID          int64  `json:"id"`
	EntityID    int64  `json:"entity_id"`
	EntityType  string `json:"entity_type"`
	MemberOrder int    `json:"member_order"`
	Label       string `json:"label,omitempty"`
}

// AddMembers handles POST /v1/matrices/{matrixID}/entity-sets/{setID}/members.
// With "expand": true the matrix strategy runs for each new member, creating
// cells and queueing QA jobs.
func (s *Server) AddMembers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matrixID, err := pathID(r, "matrixID")
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		setID, err := pathID(r, "setID")
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var req addMembersRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		companyID := companyFrom(r.Context())
		entityType := domain.EntityType(req.EntityType)

		var (
			members []domain.EntitySetMember
			cells   []domain.MatrixCell
		)
		if req.Expand {
			members, cells, err = s.EntitySets.AddMembersAndExpand(r.Context(), companyID, matrixID, setID, req.EntityIDs, entityType)
		} else {
			members, err = s.EntitySets.AddMembersBatch(r.Context(), companyID, setID, req.EntityIDs, entityType)
		}
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		out := make([]memberResponse, 0, len(members))
		for _, m := range members {
			out = append(out, memberResponse{
				ID: m.ID, EntityID: m.EntityID, EntityType: string(m.EntityType),
				MemberOrder: m.MemberOrder, Label: m.Label,
			})
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"members":       out,
			"cells_created": len(cells),
		})
	}
}

// ReprocessCells handles POST /v1/matrices/{matrixID}/reprocess.
func (s *Server) ReprocessCells() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matrixID, err := pathID(r, "matrixID")
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var req reprocessRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		filters := make([]domain.EntitySetFilter, 0, len(req.Filters))
		for _, f := range req.Filters {
			filters = append(filters, domain.EntitySetFilter{
				EntitySetID: f.EntitySetID,
				EntityIDs:   f.EntityIDs,
				Role:        domain.EntityRole(f.Role),
			})
		}
		jobs, err := s.Reprocess.Reprocess(r.Context(), companyFrom(r.Context()), matrixID, usecase.ReprocessRequest{
			WholeMatrix: req.WholeMatrix,
			CellIDs:     req.CellIDs,
			Filters:     filters,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"jobs_queued": len(jobs)})
	}
}

// UpdateQuestion handles PATCH /v1/questions/{questionID}: updates the text
// and reconciles the template-variable associations against it.
func (s *Server) UpdateQuestion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		questionID, err := pathID(r, "questionID")
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var req updateQuestionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		companyID := companyFrom(r.Context())
		if _, err := s.Questions.Get(r.Context(), companyID, questionID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Questions.UpdateText(r.Context(), companyID, questionID, req.Text); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Templates.SyncQuestionTemplateVariables(r.Context(), questionID, req.Text); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": questionID, "text": req.Text})
	}
}

// StartExecution handles POST /v1/executions/{executionID}/start: admits the
// run against the monthly workflow quota and launches the durable workflow.
func (s *Server) StartExecution() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		executionID, err := pathID(r, "executionID")
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		companyID := companyFrom(r.Context())
		exec, err := s.Executions.Get(r.Context(), executionID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if exec.CompanyID != companyID {
			writeError(w, r, fmt.Errorf("%w: execution %d", domain.ErrNotFound, executionID), nil)
			return
		}
		if err := s.Quota.CheckWorkflowQuota(r.Context(), companyID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Workflows.StartWorkflowExecution(r.Context(), companyID, exec.WorkflowID, exec.ID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"execution_id": exec.ID,
			"workflow_id":  exec.WorkflowID,
			"status":       "STARTED",
		})
	}
}

// SearchChunks handles GET /v1/search.
func (s *Server) SearchChunks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(w, r, fmt.Errorf("%w: q is required", domain.ErrInvalidArgument), nil)
			return
		}
		skip := queryInt(r, "skip", 0)
		limit := queryInt(r, "limit", 10)
		if limit > 100 {
			limit = 100
		}
		filters := domain.ChunkFilters{CompanyID: companyFrom(r.Context())}
		if raw := r.URL.Query().Get("document_ids"); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
				if err != nil || id <= 0 {
					writeError(w, r, fmt.Errorf("%w: invalid document_ids", domain.ErrInvalidArgument), nil)
					return
				}
				filters.DocumentIDs = append(filters.DocumentIDs, id)
			}
		}

		hits, err := s.Search.Hybrid(r.Context(), q, filters, skip, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		type hitResponse struct {
			ChunkID    string  `json:"chunk_id"`
			DocumentID int64   `json:"document_id"`
			Score      float64 `json:"score"`
			Content    string  `json:"content"`
		}
		out := make([]hitResponse, 0, len(hits))
		for _, h := range hits {
			out = append(out, hitResponse{ChunkID: h.ChunkID, DocumentID: h.DocumentID, Score: h.Score, Content: h.Content})
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": out})
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// Healthz is the liveness probe.
func (s *Server) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Readyz probes every registered dependency and reports per-dependency state.
func (s *Server) Readyz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		status := http.StatusOK
		deps := make(map[string]string, len(s.Readiness))
		for name, probe := range s.Readiness {
			if err := probe(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}
		writeJSON(w, status, map[string]any{"status": http.StatusText(status), "dependencies": deps})
	}
}
