package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/komunitas/loyalty-server/internal/auth"
	"github.com/komunitas/loyalty-server/internal/model"
	"github.com/komunitas/loyalty-server/internal/notify"
	"github.com/komunitas/loyalty-server/internal/store"
	"github.com/komunitas/loyalty-server/internal/websocket"
)

const maxRedeemQuantity = 10

type RewardHandler struct {
	rewards *store.RewardStore
	emitter notify.Emitter
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewRewardHandler(rs *store.RewardStore, emitter notify.Emitter, hub *websocket.Hub, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{rewards: rs, emitter: emitter, hub: hub, logger: logger}
}

func (h *RewardHandler) List(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.rewards.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list rewards"})
		return
	}
	if rewards == nil {
		rewards = []model.Reward{}
	}
	writeJSON(w, http.StatusOK, rewards)
}

type rewardRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PointCost   int64  `json:"point_cost"`
	Stock       int64  `json:"stock"`
	Active      bool   `json:"active"`
}

func (req *rewardRequest) validate() string {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return "name is required"
	}
	if req.PointCost < 0 {
		return "point_cost must be >= 0"
	}
	if req.Stock < 0 {
		return "stock must be >= 0"
	}
	return ""
}

func (h *RewardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	reward, err := h.rewards.Create(req.Name, req.Description, req.PointCost, req.Stock, req.Active)
	if err != nil {
		h.logger.Error("create reward", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create reward"})
		return
	}
	writeJSON(w, http.StatusCreated, reward)
}

func (h *RewardHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.rewards.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get reward"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "reward not found"})
		return
	}

	var req rewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	reward, err := h.rewards.Update(id, req.Name, req.Description, req.PointCost, req.Stock, req.Active)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update reward"})
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (h *RewardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.rewards.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get reward"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "reward not found"})
		return
	}

	if err := h.rewards.Delete(id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete reward"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Redeem spends the authenticated member's coins on a reward.
func (h *RewardHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Quantity      int64  `json:"quantity"`
		ShippingNotes string `json:"shipping_notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 1 || req.Quantity > maxRedeemQuantity {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity must be between 1 and 10"})
		return
	}

	memberID := auth.MemberID(r.Context())
	redemption, upd, err := h.rewards.Redeem(r.Context(), memberID, id, req.Quantity, req.ShippingNotes)
	switch {
	case errors.Is(err, store.ErrRewardInactive):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reward is not active"})
		return
	case errors.Is(err, store.ErrInsufficientStock):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "not enough stock"})
		return
	case errors.Is(err, store.ErrInsufficientBalance):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "insufficient coins"})
		return
	case err != nil:
		h.logger.Error("redeem reward", "reward_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to redeem reward"})
		return
	case redemption == nil:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "reward not found"})
		return
	}

	h.emitter.Emit(memberID, "Redemption received. We'll process it shortly.", "/redemptions")
	h.hub.Broadcast(websocket.NewMessage(websocket.EventRewardRedeemed, memberID, redemption.ID, map[string]any{
		"reward_id": id,
		"coin":      upd.Coin,
	}))
	writeJSON(w, http.StatusCreated, redemption)
}

// MyRedemptions lists the authenticated member's redemptions, newest first.
func (h *RewardHandler) MyRedemptions(w http.ResponseWriter, r *http.Request) {
	redemptions, err := h.rewards.ListRedemptionsByMember(auth.MemberID(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list redemptions"})
		return
	}
	if redemptions == nil {
		redemptions = []model.RewardRedemption{}
	}
	writeJSON(w, http.StatusOK, redemptions)
}

// ListRedemptions returns redemptions by status for the admin queue.
func (h *RewardHandler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = model.RedemptionPending
	}
	switch status {
	case model.RedemptionPending, model.RedemptionCompleted, model.RedemptionRejected:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	redemptions, err := h.rewards.ListRedemptionsByStatus(status)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list redemptions"})
		return
	}
	if redemptions == nil {
		redemptions = []model.RewardRedemption{}
	}
	writeJSON(w, http.StatusOK, redemptions)
}

// Resolve completes or rejects a pending redemption. Rejecting refunds the
// member's coins and restores the stock.
func (h *RewardHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Status != model.RedemptionCompleted && req.Status != model.RedemptionRejected {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be completed or rejected"})
		return
	}

	redemption, err := h.rewards.Resolve(r.Context(), id, req.Status)
	switch {
	case errors.Is(err, store.ErrRedemptionResolved):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "redemption already resolved"})
		return
	case err != nil:
		h.logger.Error("resolve redemption", "redemption_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to resolve redemption"})
		return
	case redemption == nil:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "redemption not found"})
		return
	}

	if req.Status == model.RedemptionCompleted {
		h.emitter.Emit(redemption.MemberID, "Your redemption has been completed!", "/redemptions")
	} else {
		h.emitter.Emit(redemption.MemberID, "Your redemption was rejected. Coins have been refunded.", "/redemptions")
	}
	writeJSON(w, http.StatusOK, redemption)
}
