package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/greybox/hackcore/auth"
	"github.com/greybox/hackcore/domain/process"
	"github.com/greybox/hackcore/engine"
	"github.com/greybox/hackcore/fanout"
	hcerrors "github.com/greybox/hackcore/infrastructure/errors"
	"github.com/greybox/hackcore/infrastructure/logging"
)

// Server wires the engine.Service, fanout.Hub, and auth.Verifier into a
// routable HTTP surface.
type Server struct {
	svc      *engine.Service
	hub      *fanout.Hub
	verifier *auth.Verifier
	log      *logging.Logger
}

func NewServer(svc *engine.Service, hub *fanout.Hub, verifier *auth.Verifier, log *logging.Logger) *Server {
	return &Server{svc: svc, hub: hub, verifier: verifier, log: log}
}

func (s *Server) handleStartProcess(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, hcerrors.Unauthorized("authentication required"))
		return
	}

	var req startProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, hcerrors.InvalidInput("body", "malformed JSON"))
		return
	}

	p, err := s.svc.StartProcess(r.Context(), engine.StartRequest{
		Creator:       identity.UserID,
		Victim:        req.Victim,
		Kind:          process.Kind(req.Kind),
		GatewayServer: req.GatewayServer,
		TargetServer:  req.TargetServer,
		SoftwareRef:   req.SoftwareRef,
		Priority:      req.Priority,
		Hardware:      process.Hardware{CPU: process.Units(req.HardwareCPU), Net: process.Units(req.HardwareNet)},
		Target:        process.Target{Difficulty: process.Units(req.Difficulty)},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProcessResponse(p))
}

func (s *Server) handleCancelProcess(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, hcerrors.Unauthorized("authentication required"))
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.svc.CancelProcess(r.Context(), identity.UserID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseProcess(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, hcerrors.Unauthorized("authentication required"))
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.svc.PauseProcess(r.Context(), identity.UserID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeProcess(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, hcerrors.Unauthorized("authentication required"))
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.svc.ResumeProcess(r.Context(), identity.UserID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, hcerrors.Unauthorized("authentication required"))
		return
	}

	id := mux.Vars(r)["id"]
	p, err := s.svc.GetProcess(r.Context(), identity.UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessResponse(p))
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, hcerrors.Unauthorized("authentication required"))
		return
	}

	procs, err := s.svc.ListProcesses(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]processResponse, 0, len(procs))
	for _, p := range procs {
		resp = append(resp, toProcessResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, hcerrors.Unauthorized("authentication required"))
		return
	}
	fanout.ServeWS(s.hub, s.log, w, r, identity.UserID)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
