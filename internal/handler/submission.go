package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/komunitas/loyalty-server/internal/auth"
	"github.com/komunitas/loyalty-server/internal/model"
	"github.com/komunitas/loyalty-server/internal/store"
	"github.com/komunitas/loyalty-server/internal/submission"
	"github.com/komunitas/loyalty-server/internal/verifier"
)

type SubmissionHandler struct {
	submissions *store.SubmissionStore
	service     *submission.Service
	gateway     *verifier.Client
	logger      *slog.Logger
}

func NewSubmissionHandler(ss *store.SubmissionStore, svc *submission.Service, gw *verifier.Client, logger *slog.Logger) *SubmissionHandler {
	return &SubmissionHandler{submissions: ss, service: svc, gateway: gw, logger: logger}
}

// Callback receives the verdict from the external verification service. It
// authenticates with the callback token minted when the submission was
// dispatched; duplicate or late verdicts are rejected by the state machine.
func (h *SubmissionHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallbackToken string `json:"callback_token"`
		Success       bool   `json:"success"`
		Notes         string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	submissionID, err := h.gateway.VerifyCallbackToken(req.CallbackToken)
	if err != nil {
		h.logger.Warn("rejected verifier callback", "error", err)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid callback token"})
		return
	}

	if req.Success {
		sub, _, err := h.service.VerifySuccess(r.Context(), submissionID, nil, req.Notes)
		h.writeVerdictResult(w, sub, err)
		return
	}

	sub, err := h.service.VerifyFailure(r.Context(), submissionID, nil, req.Notes)
	h.writeVerdictResult(w, sub, err)
}

func (h *SubmissionHandler) writeVerdictResult(w http.ResponseWriter, sub *model.TaskSubmission, err error) {
	switch {
	case errors.Is(err, store.ErrAlreadyFinalized), errors.Is(err, store.ErrNotVerifying):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "submission already decided"})
	case err != nil:
		h.logger.Error("apply verdict", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to apply verdict"})
	case sub == nil:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "submission not found"})
	default:
		writeJSON(w, http.StatusOK, sub)
	}
}

// Get returns one submission. Members may only read their own; admins any.
func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	sub, err := h.submissions.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get submission"})
		return
	}
	if sub == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "submission not found"})
		return
	}
	if sub.MemberID != auth.MemberID(r.Context()) && !auth.IsAdmin(r.Context()) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Expire is the client-driven timeout path: when a member's countdown runs
// out, the client reports it. The server still enforces the deadline and the
// sweeper catches clients that never report.
func (h *SubmissionHandler) Expire(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.submissions.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get submission"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "submission not found"})
		return
	}
	if existing.MemberID != auth.MemberID(r.Context()) && !auth.IsAdmin(r.Context()) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	sub, err := h.service.Expire(r.Context(), id)
	if errors.Is(err, store.ErrDeadlineNotReached) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "deadline not reached"})
		return
	}
	if err != nil {
		h.logger.Error("expire submission", "submission_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to expire submission"})
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// ListByStatus returns submissions in a given state for the admin queue.
func (h *SubmissionHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = model.SubmissionVerifying
	}
	switch status {
	case model.SubmissionVerifying, model.SubmissionCompleted, model.SubmissionFailed:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	subs, err := h.submissions.ListByStatus(status, parseLimitQuery(r, 100))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list submissions"})
		return
	}
	if subs == nil {
		subs = []model.TaskSubmission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// AdminComplete applies a manual pass verdict, optionally overriding the
// awarded points and overriding a previous failure.
func (h *SubmissionHandler) AdminComplete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Notes          string `json:"notes"`
		OverridePoints *int64 `json:"override_points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.OverridePoints != nil && *req.OverridePoints < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "override_points must be >= 0"})
		return
	}

	adminID := auth.MemberID(r.Context())
	sub, _, err := h.service.AdminComplete(r.Context(), id, &adminID, req.Notes, req.OverridePoints)
	h.writeVerdictResult(w, sub, err)
}

// AdminFail applies a manual fail verdict.
func (h *SubmissionHandler) AdminFail(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	adminID := auth.MemberID(r.Context())
	sub, err := h.service.AdminFail(r.Context(), id, &adminID, req.Notes)
	h.writeVerdictResult(w, sub, err)
}
