package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/archrepod/buildsvc/pkg/buildaction"
)

// createBuildActionRequest is the wire shape for `POST /api/v0/build-actions`.
type createBuildActionRequest struct {
	Type           string            `json:"type"`
	TaskName       string            `json:"taskName"`
	Directory      string            `json:"directory"`
	SourceDbs      []string          `json:"sourceDbs"`
	DestinationDbs []string          `json:"destinationDbs"`
	PackageNames   []string          `json:"packageNames"`
	Flags          []string          `json:"flags"`
	Settings       map[string]string `json:"settings"`
	StartAfter     []uint64          `json:"startAfter"`
}

func (s *Server) listBuildActions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.List())
}

func (s *Server) getBuildAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid action id", http.StatusBadRequest)
		return
	}
	action, ok := s.engine.Get(id)
	if !ok {
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(action)
}

func (s *Server) abortBuildAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid action id", http.StatusBadRequest)
		return
	}
	if err := s.engine.Abort(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) createBuildAction(w http.ResponseWriter, r *http.Request) {
	var req createBuildActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	meta := buildaction.TypeInfoForName(req.Type)
	if meta.ID == buildaction.TypeInvalid {
		http.Error(w, "unknown build action type", http.StatusBadRequest)
		return
	}

	action := s.engine.Create(meta.ID, req.TaskName)
	action.Directory = req.Directory
	action.SourceDbs = req.SourceDbs
	action.DestinationDbs = req.DestinationDbs
	action.PackageNames = req.PackageNames
	action.StartAfter = req.StartAfter
	for k, v := range req.Settings {
		action.Settings[k] = v
	}
	for _, name := range req.Flags {
		for _, fi := range meta.Flags {
			if fi.Name == name {
				action.Flags |= fi.Flag
			}
		}
	}

	if err := s.engine.Enqueue(context.Background(), action); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(action)
}
