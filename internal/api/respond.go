package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/seantiz/keyturner/internal/engine"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 16
)

var errMalformedAddress = errors.New("MAC address is malformed")

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// messageResponse carries a human readable outcome plus an optional payload.
type messageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps an engine error to a status code. notPaired is the
// status used for unknown devices, which differs between the v1 and legacy
// routes.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error, notPaired int) {
	switch {
	case engine.Unavailable(err):
		s.logger.Error(op, "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "Device dispatcher is not available",
			Code:  "dispatcher_unavailable",
		})
	case errors.Is(err, engine.ErrInvalidAddress), errors.Is(err, engine.ErrUnknownAction):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotPaired):
		s.writeError(w, notPaired, err.Error())
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, engine.ErrorMessage(err))
	}
}

// decodeBody decodes a size-limited JSON body into v and validates it.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "required" {
			return engine.ErrInvalidAddress
		}
		return errMalformedAddress
	}
	return nil
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
