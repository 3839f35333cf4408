package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/detbench/reviewoor/pkg/ingest"
	"github.com/detbench/reviewoor/pkg/review"
	"github.com/detbench/reviewoor/pkg/store"
	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError maps engine errors onto HTTP statuses.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var validationErr *ingest.ValidationError

	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, review.ErrInvalidDecision):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{err.Error()})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{err.Error()})
	default:
		s.log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})
	}
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListViolationTypes returns the violation-type catalog.
func (s *server) handleListViolationTypes(
	w http.ResponseWriter, r *http.Request,
) {
	types, err := s.store.ListViolationTypes(r.Context())
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, types)
}

// --- Upload handlers ---

// handleUploadRun ingests one run result document for an experiment.
// The document's potential_hits array doubles as the hit-to-misuse
// mapping consumed by the matching policy.
func (s *server) handleUploadRun(w http.ResponseWriter, r *http.Request) {
	experiment := chi.URLParam(r, "experiment")

	var doc ingest.RunResultDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid run result document"})

		return
	}

	run, err := s.ingest.ProcessRunResult(
		r.Context(), experiment, &doc, doc.Matches(),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"experiment": run.Experiment,
		"detector":   doc.Detector,
		"project":    run.Project,
		"version":    run.Version,
	})
}

// handleUploadMetadata ingests a misuse metadata document array.
func (s *server) handleUploadMetadata(
	w http.ResponseWriter, r *http.Request,
) {
	var docs []ingest.MetadataDocument
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid metadata document"})

		return
	}

	if err := s.ingest.ProcessMetadata(r.Context(), docs); err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"misuses": len(docs)})
}

// --- Query handlers ---

func (s *server) handleGetDetector(w http.ResponseWriter, r *http.Request) {
	detector, err := s.query.GetDetector(
		r.Context(), chi.URLParam(r, "detector"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, detector)
}

func (s *server) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	detector, err := s.query.GetDetector(
		r.Context(), chi.URLParam(r, "detector"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	runs, err := s.query.GetRuns(
		r.Context(), detector, chi.URLParam(r, "experiment"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleGetMisuse(w http.ResponseWriter, r *http.Request) {
	detector, err := s.query.GetDetector(
		r.Context(), chi.URLParam(r, "detector"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	misuse, err := s.query.GetMisuse(
		r.Context(),
		chi.URLParam(r, "experiment"),
		detector,
		chi.URLParam(r, "project"),
		chi.URLParam(r, "version"),
		chi.URLParam(r, "misuse"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, misuse)
}

// --- Review handlers ---

// reviewRequest is the review submission payload.
type reviewRequest struct {
	Comment string               `json:"comment"`
	Hits    []review.HitDecision `json:"hits"`
}

func (s *server) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	misuseID, reviewerID, ok := s.reviewIDs(w, r)
	if !ok {
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid review document"})

		return
	}

	decision, err := s.review.UpdateReview(
		r.Context(), misuseID, reviewerID, req.Comment, req.Hits,
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"decision": decision})
}

func (s *server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	misuseID, reviewerID, ok := s.reviewIDs(w, r)
	if !ok {
		return
	}

	rev, err := s.review.GetReview(r.Context(), misuseID, reviewerID)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, rev)
}

// reviewIDs parses the misuse and reviewer ids from the URL.
func (s *server) reviewIDs(
	w http.ResponseWriter, r *http.Request,
) (misuseID, reviewerID uint, ok bool) {
	misuse, err := strconv.ParseUint(chi.URLParam(r, "misuse"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid misuse id"})

		return 0, 0, false
	}

	reviewer, err := strconv.ParseUint(chi.URLParam(r, "reviewer"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid reviewer id"})

		return 0, 0, false
	}

	return uint(misuse), uint(reviewer), true
}
