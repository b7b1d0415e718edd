package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/keyturner/internal/model"
	"github.com/seantiz/keyturner/internal/store"
)

// submitOperationRequest is the JSON body for POST /v1/operations.
type submitOperationRequest struct {
	Address string `json:"address" validate:"required,mac"`
	Action  string `json:"action"`
}

// listOperationsResponse wraps the paginated list response.
type listOperationsResponse struct {
	Operations []*model.Operation `json:"operations"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

func (s *Server) handleSubmitOperation(w http.ResponseWriter, r *http.Request) {
	var req submitOperationRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	op, err := s.service.SubmitAction(r.Context(), req.Address, req.Action)
	if err != nil {
		s.writeServiceError(w, "submit operation", err, http.StatusNotFound)
		return
	}

	w.Header().Set("Location", "/v1/operations/"+op.ID)
	s.writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	op, err := s.store.GetOperation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("get operation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}

	s.writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	ops, total, err := s.store.ListOperations(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list operations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}

	if ops == nil {
		ops = []*model.Operation{}
	}

	s.writeJSON(w, http.StatusOK, listOperationsResponse{
		Operations: ops,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}
