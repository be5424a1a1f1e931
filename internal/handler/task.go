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
	"github.com/komunitas/loyalty-server/internal/submission"
	"github.com/komunitas/loyalty-server/internal/websocket"
)

type TaskHandler struct {
	tasks   *store.TaskStore
	service *submission.Service
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewTaskHandler(ts *store.TaskStore, svc *submission.Service, hub *websocket.Hub, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: ts, service: svc, hub: hub, logger: logger}
}

// List returns available tasks with the authenticated member's submission
// state on each. Paginated with limit/offset.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	memberID := auth.MemberID(r.Context())
	limit := parseLimitQuery(r, 10)
	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			offset = n
		}
	}

	tasks, err := h.tasks.ListForMember(memberID, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
		return
	}
	if tasks == nil {
		tasks = []model.TaskWithSubmission{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// ListAll returns every task for the admin view, inactive included.
func (h *TaskHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	task, err := h.tasks.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if task == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type taskRequest struct {
	Keyword     string `json:"keyword"`
	Description string `json:"description"`
	PostURL     string `json:"post_url"`
	PointValue  int64  `json:"point_value"`
	Status      string `json:"status"`
}

func (req *taskRequest) validate() string {
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.Keyword == "" {
		return "keyword is required"
	}
	if req.PointValue < 0 {
		return "point_value must be >= 0"
	}
	if req.Status != "" && req.Status != model.TaskAvailable && req.Status != model.TaskInactive {
		return "status must be available or inactive"
	}
	return ""
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	task, err := h.tasks.Create(req.Keyword, req.Description, req.PostURL, req.PointValue, req.Status)
	if err != nil {
		h.logger.Error("create task", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create task"})
		return
	}

	if task.Status == model.TaskAvailable {
		h.hub.Broadcast(websocket.NewMessage(websocket.EventTaskPublished, 0, task.ID, map[string]any{
			"keyword": task.Keyword,
			"points":  task.PointValue,
		}))
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.tasks.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Status == "" {
		req.Status = existing.Status
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	task, err := h.tasks.Update(id, req.Keyword, req.Description, req.PostURL, req.PointValue, req.Status)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update task"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.tasks.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	if err := h.tasks.Delete(id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete task"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Start begins the authenticated member's attempt at a task and dispatches
// it for verification.
func (h *TaskHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	sub, err := h.service.Start(r.Context(), auth.MemberID(r.Context()), id)
	switch {
	case errors.Is(err, submission.ErrProfileIncomplete):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "complete your profile before starting tasks"})
		return
	case errors.Is(err, submission.ErrTaskUnavailable):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task is not available"})
		return
	case errors.Is(err, store.ErrActiveSubmission):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "task is already being verified"})
		return
	case errors.Is(err, store.ErrAlreadyFinalized):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "task already completed"})
		return
	case err != nil:
		h.logger.Error("start submission", "task_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start task"})
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}
