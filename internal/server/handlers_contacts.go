package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/storm-crm/internal/intake"
	"github.com/jonathan/storm-crm/internal/records"
	"github.com/jonathan/storm-crm/internal/types"
)

// maxBodyBytes caps a contact submission.
const maxBodyBytes = 64 << 10

// parseQueryInt reads a non-negative integer query parameter, falling back to defaultValue
// when it is absent or malformed and capping it at maxValue when maxValue > 0.
func parseQueryInt(r *http.Request, key string, defaultValue, maxValue int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 0 {
		return defaultValue
	}
	if maxValue > 0 && val > maxValue {
		return maxValue
	}
	return val
}

// decodeContact reads and validates a contact body. It returns the parsed contact and
// the body bytes exactly as received.
func decodeContact(w http.ResponseWriter, r *http.Request) (*types.ContactCreate, []byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, &ErrValidation{Field: "body", Message: "request body too large"}
		}
		return nil, nil, &ErrValidation{Field: "body", Message: "failed to read request body"}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil, &ErrValidation{Field: "body", Message: "request body is required"}
	}

	contact, err := types.ParseContact(body)
	if err != nil {
		return nil, nil, err
	}
	return contact, body, nil
}

// writeError maps err onto a status and writes it. Validation failures carry details.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	switch status {
	case http.StatusBadRequest:
		s.jsonResponse(w, status, map[string]any{
			"error":   "validation failed",
			"details": validationDetails(err),
		})
	case http.StatusConflict:
		var dup *intake.DuplicateError
		if errors.As(err, &dup) {
			s.jsonResponse(w, status, map[string]any{
				"error":  "contact already exists",
				"row_id": dup.RowID,
			})
			return
		}
		s.errorResponse(w, status, err.Error())
	case http.StatusNotFound:
		s.errorResponse(w, status, "Contact not found")
	default:
		s.log.Error("request failed", "error", err)
		s.errorResponse(w, status, err.Error())
	}
}

// handleCreateContact ingests one contact through the intake pipeline
func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	contact, body, err := decodeContact(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sub := intake.Submission{
		Content:        contact.Document(),
		Payload:        body,
		SourceSystem:   strings.TrimSpace(r.Header.Get("X-Source-System")),
		CorrelationID:  strings.TrimSpace(r.Header.Get("X-Correlation-ID")),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}

	ingest := s.pipeline.Ingest
	if ifAbsent, _ := strconv.ParseBool(r.URL.Query().Get("if_absent")); ifAbsent {
		ingest = s.pipeline.IngestIfAbsent
	}
	res, err := ingest(r.Context(), sub)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	s.jsonResponse(w, status, types.IngestResponse{
		Status:     "ok",
		RunID:      res.RunID,
		ArtifactID: res.ArtifactID,
		RowsetID:   res.RowsetID,
		RowID:      res.RowID,
		Replayed:   res.Replayed,
	})
}

// handleQuickAdd appends a manually entered contact to the shared MANUAL rowset
func (s *Server) handleQuickAdd(w http.ResponseWriter, r *http.Request) {
	contact, _, err := decodeContact(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.pipeline.QuickAdd(r.Context(), contact.Document())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, types.QuickAddResponse{
		Status:        "ok",
		RowsetID:      res.RowsetID,
		RowID:         res.RowID,
		PositionIndex: res.PositionIndex,
	})
}

// handleListContacts lists contacts newest first
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	page := records.Page{
		Limit:  parseQueryInt(r, "limit", records.DefaultLimit, records.MaxLimit),
		Offset: parseQueryInt(r, "offset", 0, 0),
	}.Clamp()

	summaries, err := s.contacts.List(r.Context(), page)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, types.ContactListResponse{
		Contacts: summaries,
		Count:    len(summaries),
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
}

// handleGetContact returns one contact document
func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	rowID, err := uuid.Parse(r.PathValue("row_id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid row ID")
		return
	}

	view, err := s.contacts.GetByID(r.Context(), rowID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}
