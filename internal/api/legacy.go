package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/keyturner/internal/engine"
	"github.com/seantiz/keyturner/internal/model"
)

// legacyRequest is the body accepted by the original bridge routes. The
// address is not format checked there.
type legacyRequest struct {
	Address string `json:"address"`
}

// legacyRoutes registers the flat routes of the original bridge API. Unknown
// devices are reported as bad requests there.
func (s *Server) legacyRoutes() {
	s.router.Group(func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Get("/listPaired", s.handleLegacyListPaired)
		r.Post("/pair", s.handleLegacyPair)
		r.Post("/unpair", s.handleLegacyUnpair)
		r.Get("/scan", s.handleScan)
		r.Post("/lock", s.legacyCommand(model.ActionLock))
		r.Post("/unlock", s.legacyCommand(model.ActionUnlock))
		r.Post("/unlatch", s.legacyCommand(model.ActionUnlatch))
		r.Get("/state", s.handleLegacyState)
	})
}

func (s *Server) handleLegacyListPaired(w http.ResponseWriter, r *http.Request) {
	devices, err := s.service.ListPaired(r.Context())
	if err != nil {
		s.writeServiceError(w, "list paired", err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, devicesResponse{
		Message: fmt.Sprintf("Found %d registered devices", len(devices)),
		Devices: devices,
	})
}

func (s *Server) handleLegacyPair(w http.ResponseWriter, r *http.Request) {
	address, ok := s.legacyAddress(w, r)
	if !ok {
		return
	}
	if _, err := s.service.Pair(r.Context(), address); err != nil {
		s.writeServiceError(w, "pair", err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "Device registered successfully"})
}

func (s *Server) handleLegacyUnpair(w http.ResponseWriter, r *http.Request) {
	address, ok := s.legacyAddress(w, r)
	if !ok {
		return
	}
	if err := s.service.Unpair(r.Context(), address); err != nil {
		s.writeServiceError(w, "unpair", err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "Device unpaired successfully"})
}

func (s *Server) legacyCommand(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, ok := s.legacyAddress(w, r)
		if !ok {
			return
		}

		var (
			result engine.ActionResult
			err    error
		)
		switch action {
		case model.ActionLock:
			result, err = s.service.Lock(r.Context(), address)
		case model.ActionUnlock:
			result, err = s.service.Unlock(r.Context(), address)
		case model.ActionUnlatch:
			result, err = s.service.Unlatch(r.Context(), address)
		}
		if err != nil {
			s.writeServiceError(w, action, err, http.StatusBadRequest)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleLegacyState(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.State(r.Context(), r.URL.Query().Get("address"))
	if err != nil {
		s.writeServiceError(w, "state", err, http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// legacyAddress decodes the address from the body. A missing address is
// reported the same way as an unreadable body.
func (s *Server) legacyAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req legacyRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		s.writeError(w, http.StatusBadRequest, engine.ErrInvalidAddress.Error())
		return "", false
	}
	return req.Address, true
}
