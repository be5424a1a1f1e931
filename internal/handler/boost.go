package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/komunitas/loyalty-server/internal/boost"
	"github.com/komunitas/loyalty-server/internal/model"
	"github.com/komunitas/loyalty-server/internal/store"
	"github.com/komunitas/loyalty-server/internal/websocket"
)

type BoostHandler struct {
	boosts *store.BoostStore
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewBoostHandler(bs *store.BoostStore, hub *websocket.Hub, logger *slog.Logger) *BoostHandler {
	return &BoostHandler{boosts: bs, hub: hub, logger: logger}
}

type boostView struct {
	model.BoostWindow
	Status  boost.Status `json:"status"`
	Percent float64      `json:"percent"`
}

// List returns all boost windows with their status and parsed percentage,
// plus the effective multiplier right now.
func (h *BoostHandler) List(w http.ResponseWriter, r *http.Request) {
	windows, err := h.boosts.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list boosts"})
		return
	}

	now := time.Now().UTC()
	views := []boostView{}
	for _, win := range windows {
		v := boostView{BoostWindow: win, Status: boost.Classify(now, win)}
		if parsed := boost.ParseValue(win.SettingName, win.SettingValue); parsed.Valid {
			v.Percent = parsed.Percent
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"effective_percent": boost.Resolve(now, windows),
		"windows":           views,
	})
}

type boostRequest struct {
	SettingName  string    `json:"setting_name"`
	SettingValue string    `json:"setting_value"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
}

// Upsert creates or updates the boost window keyed by setting name.
func (h *BoostHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req boostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.SettingName = strings.TrimSpace(req.SettingName)
	if req.SettingName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "setting_name is required"})
		return
	}
	if !boost.ParseValue(req.SettingName, req.SettingValue).Valid {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "setting_value must be a positive percentage or true/active"})
		return
	}
	if !req.EndDate.After(req.StartDate) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end_date must be after start_date"})
		return
	}

	window, err := h.boosts.Upsert(req.SettingName, req.SettingValue, req.Title, req.Description, req.StartDate, req.EndDate)
	if err != nil {
		h.logger.Error("upsert boost window", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save boost window"})
		return
	}

	h.hub.Broadcast(websocket.NewMessage(websocket.EventBoostChanged, 0, window.ID, map[string]any{
		"setting_name": window.SettingName,
	}))
	writeJSON(w, http.StatusOK, window)
}

func (h *BoostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.boosts.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get boost window"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "boost window not found"})
		return
	}

	if err := h.boosts.Delete(id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete boost window"})
		return
	}

	h.hub.Broadcast(websocket.NewMessage(websocket.EventBoostChanged, 0, id, nil))
	w.WriteHeader(http.StatusNoContent)
}
