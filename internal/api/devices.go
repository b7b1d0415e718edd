package api

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/keyturner/internal/engine"
	"github.com/seantiz/keyturner/internal/model"
)

// addressRequest is the JSON body for pairing.
type addressRequest struct {
	Address string `json:"address" validate:"required,mac"`
}

// devicesResponse lists paired devices with their reachability.
type devicesResponse struct {
	Message string                `json:"message"`
	Devices []engine.DeviceStatus `json:"devices"`
}

// scanResponse lists discovered keyturner candidates.
type scanResponse struct {
	Message string `json:"message"`
	Devices any    `json:"devices"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.service.ListPaired(r.Context())
	if err != nil {
		s.writeServiceError(w, "list devices", err, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, devicesResponse{
		Message: fmt.Sprintf("Found %d registered devices", len(devices)),
		Devices: devices,
	})
}

func (s *Server) handlePairDevice(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pd, err := s.service.Pair(r.Context(), req.Address)
	if err != nil {
		s.writeServiceError(w, "pair device", err, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusCreated, messageResponse{Message: "Device registered successfully", Data: pd})
}

func (s *Server) handleUnpairDevice(w http.ResponseWriter, r *http.Request) {
	address, ok := s.addressParam(w, r)
	if !ok {
		return
	}
	if err := s.service.Unpair(r.Context(), address); err != nil {
		s.writeServiceError(w, "unpair device", err, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "Device unpaired successfully"})
}

func (s *Server) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	address, ok := s.addressParam(w, r)
	if !ok {
		return
	}
	state, err := s.service.State(r.Context(), address)
	if err != nil {
		s.writeServiceError(w, "device state", err, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	address, ok := s.addressParam(w, r)
	if !ok {
		return
	}

	var (
		result engine.ActionResult
		err    error
	)
	switch action := chi.URLParam(r, "action"); action {
	case model.ActionLock:
		result, err = s.service.Lock(r.Context(), address)
	case model.ActionUnlock:
		result, err = s.service.Unlock(r.Context(), address)
	case model.ActionUnlatch:
		result, err = s.service.Unlatch(r.Context(), address)
	default:
		err = fmt.Errorf("%w: %q", engine.ErrUnknownAction, action)
	}
	if err != nil {
		s.writeServiceError(w, "device command", err, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	ads, err := s.service.Scan(r.Context())
	if err != nil {
		s.writeServiceError(w, "scan", err, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, scanResponse{
		Message: fmt.Sprintf("Found %d possible Nuki devices", len(ads)),
		Devices: ads,
	})
}

// addressParam reads the {address} path segment. Colons may arrive escaped.
func (s *Server) addressParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	address, err := url.PathUnescape(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errMalformedAddress.Error())
		return "", false
	}
	if err := s.validate.Var(address, "required,mac"); err != nil {
		if address == "" {
			s.writeError(w, http.StatusBadRequest, engine.ErrInvalidAddress.Error())
		} else {
			s.writeError(w, http.StatusBadRequest, errMalformedAddress.Error())
		}
		return "", false
	}
	return address, true
}
