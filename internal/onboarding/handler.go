// HTTP handlers for the onboarding service.
//
// All routes expect an x-actor-role header forwarded by the Gateway after
// authentication; the engine itself stays role-agnostic.
//
// Routes:
//
//	GET  /labour-profiles/{id}/stage       → derived current stage
//	GET  /labour-profiles/{id}/history     → full attempt history
//	POST /labour-profiles/{id}/transition  → request a stage transition
//	POST /labour-profiles/{id}/reattempt   → open a fresh attempt after FAILED
//	GET  /assignments/{id}/projection      → documents + stage statuses
package onboarding

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"laborflow/onboarding-service/internal/catalog"
)

// ─── Request types ───────────────────────────────────────────────────────────

// transitionRequest is the JSON body of POST .../transition.
type transitionRequest struct {
	TargetStage string        `json:"targetStage" validate:"required"`
	Outcome     string        `json:"outcome" validate:"required"`
	Documents   []documentRef `json:"documents" validate:"dive"`
	TravelDate  string        `json:"travelDate,omitempty"` // YYYY-MM-DD
	Notes       string        `json:"notes,omitempty"`
}

type documentRef struct {
	Kind string `json:"kind" validate:"required"`
	Ref  string `json:"ref" validate:"required"`
}

type reattemptRequest struct {
	Notes string `json:"notes,omitempty"`
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler adapts Service to HTTP. It owns transport concerns only: routing,
// body decoding/validation, the actor-role gate and error mapping.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler returns a configured Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

// RegisterRoutes mounts all onboarding routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/labour-profiles/", h.handleLabourProfileAction)
	mux.HandleFunc("/assignments/", h.handleAssignmentAction)
}

// assertableStages may only be closed by an agency actor: the outcome is an
// authority's assertion, not a document upload.
var assertableStages = map[catalog.Stage]bool{
	catalog.StageMedicalStatus: true,
	catalog.StageFingerprint:   true,
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

// handleLabourProfileAction handles /labour-profiles/{id}/{action}
func (h *Handler) handleLabourProfileAction(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	profileID, action := parts[1], parts[2]

	switch {
	case action == "stage" && r.Method == http.MethodGet:
		h.currentStage(w, r, profileID)
	case action == "history" && r.Method == http.MethodGet:
		h.historyFor(w, r, profileID)
	case action == "transition" && r.Method == http.MethodPost:
		h.requestTransition(w, r, profileID)
	case action == "reattempt" && r.Method == http.MethodPost:
		h.reattempt(w, r, profileID)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
	}
}

// handleAssignmentAction handles GET /assignments/{id}/projection
func (h *Handler) handleAssignmentAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[2] != "projection" {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	h.projection(w, r, parts[1])
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) currentStage(w http.ResponseWriter, r *http.Request, profileID string) {
	stage, err := h.svc.CurrentStage(r.Context(), profileID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	jsonOK(w, map[string]string{"labourProfileId": profileID, "currentStage": string(stage)})
}

func (h *Handler) historyFor(w http.ResponseWriter, r *http.Request, profileID string) {
	hist, err := h.svc.HistoryFor(r.Context(), profileID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	jsonOK(w, hist)
}

func (h *Handler) requestTransition(w http.ResponseWriter, r *http.Request, profileID string) {
	var body transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&body); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stage, err := catalog.ParseStage(body.TargetStage)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	outcome, err := catalog.ParseOutcome(body.Outcome)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if assertableStages[stage] && r.Header.Get("x-actor-role") != "agency" {
		jsonError(w, fmt.Sprintf("only an agency actor may assert %s outcomes", stage), http.StatusForbidden)
		return
	}

	ev, err := evidenceFromRequest(body)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.svc.RequestTransition(r.Context(), profileID, stage, outcome, ev, body.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	jsonOK(w, res)
}

func (h *Handler) reattempt(w http.ResponseWriter, r *http.Request, profileID string) {
	var body reattemptRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	res, err := h.svc.Reattempt(r.Context(), profileID, body.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	jsonOK(w, res)
}

func (h *Handler) projection(w http.ResponseWriter, r *http.Request, assignmentID string) {
	view, err := h.svc.Projection(r.Context(), assignmentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	jsonOK(w, view)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func evidenceFromRequest(body transitionRequest) (Evidence, error) {
	var ev Evidence
	for _, d := range body.Documents {
		ev.Documents = append(ev.Documents, DocumentRef{Kind: catalog.DocKind(d.Kind), Ref: d.Ref})
	}
	if body.TravelDate != "" {
		d, err := time.Parse("2006-01-02", body.TravelDate)
		if err != nil {
			return Evidence{}, fmt.Errorf("travelDate must be YYYY-MM-DD: %w", err)
		}
		ev.TravelDate = &d
	}
	return ev, nil
}

// writeError maps domain errors to HTTP responses. Transition rejections
// keep their code so the dashboard can render them.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var te *TransitionError
	if errors.As(err, &te) {
		status := http.StatusConflict
		switch te.Code {
		case CodeInvalidOutcome, CodeMissingEvidence:
			status = http.StatusUnprocessableEntity
		case CodeEvidenceStoreUnavailable:
			status = http.StatusBadGateway
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   te.Msg,
			"code":    te.Code,
			"missing": te.Missing,
		})
		return
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		jsonError(w, ve.Msg, http.StatusBadRequest)
		return
	}
	if errors.Is(err, ErrNotFound) {
		jsonError(w, "not found", http.StatusNotFound)
		return
	}
	jsonError(w, "internal error", http.StatusInternalServerError)
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
