package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sweeney/kiln-controller/internal/firing"
	"github.com/sweeney/kiln-controller/internal/preset"
	"github.com/sweeney/kiln-controller/internal/schedule"
)

var errNoProfile = errors.New("no profile selected")

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, name, err := s.start(r, req)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, StartResponse{SessionID: id, Profile: name})
}

// start resolves the requested schedule and starts a firing. Inline points
// take precedence over a stored profile.
func (s *Server) start(r *http.Request, req StartRequest) (id, name string, err error) {
	var sched *schedule.Schedule
	name = req.Profile
	switch {
	case len(req.Points) > 0:
		if name == "" {
			name = "custom"
		}
		sched, err = preset.Profile{Name: name, Points: req.Points}.Schedule()
	case name == "":
		return "", "", errNoProfile
	default:
		var p preset.Profile
		if p, err = s.presets.Get(r.Context(), name); err == nil {
			sched, err = p.Schedule()
		}
	}
	if err != nil {
		return "", "", err
	}

	id, err = s.firings.StartFiring(name, sched)
	if err != nil {
		return "", "", err
	}
	s.logger.Info("firing_requested", "profile", name, "session", id, "remote", r.RemoteAddr)
	return id, name, nil
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.firings.StopFiring()
	s.logger.Info("stop_requested", "stopped", stopped, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, StopResponse{Stopped: stopped})
}

// handleControl serves the original single-button page's API.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "Invalid command"})
		return
	}
	switch req.Action {
	case "start":
		if req.Profile == "" {
			req.Profile = s.defaultProfile
		}
		if _, _, err := s.start(r, StartRequest{Profile: req.Profile}); err != nil {
			writeJSON(w, errorStatus(err), MessageResponse{Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Kiln started"})
	case "stop":
		s.firings.StopFiring()
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Kiln stopped"})
	default:
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "Invalid command"})
	}
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	names, err := s.presets.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, ProfilesResponse{Profiles: names})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.presets.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var p preset.Profile
	if err := decodeBody(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if p.Name != "" && p.Name != name {
		writeError(w, http.StatusBadRequest, fmt.Errorf("profile name %q does not match path %q", p.Name, name))
		return
	}
	p.Name = name
	if err := s.presets.Put(r.Context(), p); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	s.logger.Info("profile_saved", "profile", name, "points", len(p.Points))
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.presets.Delete(r.Context(), name); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	s.logger.Info("profile_deleted", "profile", name)
	w.WriteHeader(http.StatusNoContent)
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var cfgErr *schedule.ConfigurationError
	switch {
	case errors.Is(err, preset.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, firing.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, preset.ErrInvalidName), errors.Is(err, errNoProfile), errors.As(err, &cfgErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}
