// Package httptransport is the thin HTTP layer. Handlers delegate to domain
// services and own only request decoding, response shaping, and the
// caller-facing sanitization of verification outcomes.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"voicegate/internal/enrollment"
	"voicegate/internal/ledger"
	"voicegate/internal/lockout"
	"voicegate/internal/verification"
)

// Verifier runs one verification round.
type Verifier interface {
	Verify(ctx context.Context, subjectID, listenURL string) (verification.Result, error)
}

// Enroller registers a subject reference.
type Enroller interface {
	Enroll(ctx context.Context, subjectID, audioURL string) error
}

// History reads the attempt ledger.
type History interface {
	Recent(ctx context.Context, subjectID string, limit int) ([]ledger.Attempt, error)
}

// Handler handles the voice verification endpoints.
type Handler struct {
	verifier Verifier
	enroller Enroller
	history  History
	lockouts *lockout.Tracker
	logger   *slog.Logger
}

// NewHandler creates the API handler. lockouts may be nil.
func NewHandler(verifier Verifier, enroller Enroller, history History, lockouts *lockout.Tracker, logger *slog.Logger) *Handler {
	return &Handler{
		verifier: verifier,
		enroller: enroller,
		history:  history,
		lockouts: lockouts,
		logger:   logger,
	}
}

// Register mounts the API routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verify", h.handleVerify)
	r.Post("/enroll", h.handleEnroll)
	r.Get("/subjects/{subjectID}/attempts", h.handleAttempts)
}

type verifyRequest struct {
	SubjectID string `json:"subject_id"`
	ListenURL string `json:"listen_url"`
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}
	if req.SubjectID == "" || req.ListenURL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Reason: "subject_id and listen_url are required"})
		return
	}

	if h.lockouts != nil && h.lockouts.Locked(ctx, req.SubjectID) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "locked_out"})
		return
	}

	result, err := h.verifier.Verify(ctx, req.SubjectID, req.ListenURL)
	if err != nil {
		h.logger.Error("verification did not complete",
			"request_id", GetRequestID(ctx),
			"subject_id", req.SubjectID,
			"error", err,
		)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "verification_unavailable"})
		return
	}

	writeVerifyResult(w, result)
}

// writeVerifyResult maps a terminal result onto the sanitized wire contract.
// Biometric rejections are indistinguishable from a denied second factor, and
// scores never leave the service.
func writeVerifyResult(w http.ResponseWriter, result verification.Result) {
	if result.Success {
		writeJSON(w, http.StatusOK, verifyResponse{Verified: true})
		return
	}

	switch result.Reason {
	case verification.ReasonCapacityExceeded:
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "capacity_exceeded"})
	case verification.ReasonSubjectNotEnrolled:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "subject_not_enrolled"})
	case verification.ReasonCaptureTimeout, verification.ReasonCaptureIncomplete, verification.ReasonCaptureProtocol:
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "capture_failed", Reason: string(result.Reason)})
	case verification.ReasonStepUpTimedOut:
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication_failed", Reason: string(result.Reason)})
	case verification.ReasonScoreBelowThreshold, verification.ReasonStepUpDenied:
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication_failed"})
	default:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "verification_unavailable"})
	}
}

type enrollRequest struct {
	SubjectID string `json:"subject_id"`
	AudioURL  string `json:"audio_url"`
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}
	if req.SubjectID == "" || req.AudioURL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Reason: "subject_id and audio_url are required"})
		return
	}

	err := h.enroller.Enroll(ctx, req.SubjectID, req.AudioURL)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{"subject_id": req.SubjectID})
	case errors.Is(err, enrollment.ErrBadAudio), errors.Is(err, enrollment.ErrDownload):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "enrollment_failed", Reason: err.Error()})
	default:
		h.logger.Error("enrollment failed",
			"request_id", GetRequestID(ctx),
			"subject_id", req.SubjectID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}

type attemptView struct {
	ID        string    `json:"id"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Score     *float64  `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) handleAttempts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := chi.URLParam(r, "subjectID")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Reason: "limit must be in 1..200"})
			return
		}
		limit = parsed
	}

	attempts, err := h.history.Recent(ctx, subjectID, limit)
	if err != nil {
		h.logger.Error("attempt history lookup failed",
			"request_id", GetRequestID(ctx),
			"subject_id", subjectID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}

	views := make([]attemptView, 0, len(attempts))
	for _, attempt := range attempts {
		views = append(views, attemptView{
			ID:        attempt.ID.String(),
			Outcome:   string(attempt.Outcome),
			Reason:    attempt.Reason,
			Score:     attempt.Score,
			CreatedAt: attempt.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": views})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
