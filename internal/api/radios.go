package api

import (
	"net/http"

	"github.com/seantiz/keyturner/internal/device"
)

// radiosResponse lists the registered radio drivers.
type radiosResponse struct {
	Radios []device.RadioInfo `json:"radios"`
}

func (s *Server) handleListRadios(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, radiosResponse{Radios: s.radios.List()})
}
