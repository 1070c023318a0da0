package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/jonathan/storm-crm/internal/records"
	"github.com/jonathan/storm-crm/internal/types"
)

// handleGetRun returns the audit view of an intake run: its status, captured payloads,
// and the rowsets it produced
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	ctx := r.Context()
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "Run not found")
			return
		}
		s.writeError(w, err)
		return
	}

	artifacts, err := s.store.ListRunArtifacts(ctx, runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rowsets, err := s.store.ListRunRowsets(ctx, runID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, types.NewRunResponse(run, artifacts, rowsets))
}
