package api

import (
	"net/http"

	"github.com/seantiz/keyturner/internal/dispatch"
	"github.com/seantiz/keyturner/internal/engine"
)

type healthResponse struct {
	Status     string `json:"status"`
	Dispatcher string `json:"dispatcher"`
	Error      string `json:"error,omitempty"`
}

// handleHealthz reports ok while the dispatcher accepts work.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	code, body := health(s.service.DispatcherStatus())
	s.writeJSON(w, code, body)
}

// health maps a dispatcher status to the probe response. A dispatcher that
// hit a fatal error is failed even while its state still reads running.
func health(st engine.DispatcherStatus) (int, healthResponse) {
	switch {
	case st.Error != "":
		return http.StatusServiceUnavailable, healthResponse{Status: "failed", Dispatcher: st.State, Error: st.Error}
	case st.State != dispatch.StateRunning.String():
		return http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Dispatcher: st.State}
	}
	return http.StatusOK, healthResponse{Status: "ok", Dispatcher: st.State}
}
