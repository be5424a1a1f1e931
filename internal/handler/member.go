package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/komunitas/loyalty-server/internal/auth"
	"github.com/komunitas/loyalty-server/internal/model"
	"github.com/komunitas/loyalty-server/internal/store"
	"github.com/komunitas/loyalty-server/internal/websocket"
)

type MemberHandler struct {
	members *store.MemberStore
	points  *store.PointsStore
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewMemberHandler(ms *store.MemberStore, ps *store.PointsStore, hub *websocket.Hub, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{members: ms, points: ps, hub: hub, logger: logger}
}

func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list members"})
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *MemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	member, err := h.members.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get member"})
		return
	}
	if member == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *MemberHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := parseLimitQuery(r, 50)
	members, err := h.members.Leaderboard(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get leaderboard"})
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

// UpdateProfile updates the authenticated member's name and photo. The
// profile counts as complete once both are set; completion gates task
// participation.
func (h *MemberHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	memberID := auth.MemberID(r.Context())

	var req struct {
		Name     string `json:"name"`
		PhotoURL string `json:"photo_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	member, err := h.members.Update(memberID, req.Name, req.PhotoURL)
	if err != nil {
		h.logger.Error("update profile", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update profile"})
		return
	}

	complete := member.Name != "" && member.PhotoURL != ""
	if complete != member.ProfileComplete {
		if err := h.members.SetProfileComplete(memberID, complete); err != nil {
			h.logger.Error("set profile complete", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update profile"})
			return
		}
		member.ProfileComplete = complete
	}

	writeJSON(w, http.StatusOK, member)
}

// Balances returns the authenticated member's balance pair.
func (h *MemberHandler) Balances(w http.ResponseWriter, r *http.Request) {
	upd, err := h.points.Balances(auth.MemberID(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get balances"})
		return
	}
	if upd == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

// History returns the authenticated member's ledger, newest first.
func (h *MemberHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := parseLimitQuery(r, 50)
	entries, err := h.points.History(auth.MemberID(r.Context()), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get history"})
		return
	}
	if entries == nil {
		entries = []model.PointLedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// AdminAdjust applies a signed point delta to a member's balances.
func (h *MemberHandler) AdminAdjust(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Delta            int64  `json:"delta"`
		Reason           string `json:"reason"`
		AllowLifetimeCut bool   `json:"allow_lifetime_cut"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reason is required"})
		return
	}

	upd, err := h.points.AdminAdjust(r.Context(), id, req.Delta, req.Reason, req.AllowLifetimeCut)
	if errors.Is(err, store.ErrLifetimeCutNotAllowed) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "negative adjustment requires allow_lifetime_cut"})
		return
	}
	if errors.Is(err, store.ErrInsufficientBalance) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "adjustment would make a balance negative"})
		return
	}
	if err != nil {
		h.logger.Error("admin adjust", "member_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to adjust balance"})
		return
	}

	h.hub.Broadcast(websocket.NewMessage(websocket.EventPointsCredited, id, 0, map[string]any{
		"loyalty_point": upd.LoyaltyPoint,
		"coin":          upd.Coin,
	}))
	writeJSON(w, http.StatusOK, upd)
}

// Resync sets a member's coin balance equal to their loyalty points.
func (h *MemberHandler) Resync(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	upd, err := h.points.Resync(r.Context(), id)
	if err != nil {
		h.logger.Error("resync balances", "member_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to resync"})
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func parseLimitQuery(r *http.Request, fallback int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
