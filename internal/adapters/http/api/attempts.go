package api

import (
	"net/http"
	"strconv"

	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/model"
)

// AttemptsHandler lists audit records.
type AttemptsHandler struct {
	deps Dependencies
}

// NewAttemptsHandler creates a new attempts handler.
func NewAttemptsHandler(deps Dependencies) *AttemptsHandler {
	return &AttemptsHandler{deps: deps}
}

type attemptsResponse struct {
	UserID   string          `json:"userId"`
	Attempts []model.Attempt `json:"attempts"`
}

// HandleList handles GET /v1/attempts/{userId}?limit=N requests.
func (h *AttemptsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.attempts"
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, apperr.Invalid(op, "limit", "limit must be a positive integer"))
			return
		}
		limit = n
	}
	userID := r.PathValue("userId")
	attempts, err := h.deps.RecentAttempts(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	writeJSON(w, http.StatusOK, attemptsResponse{UserID: userID, Attempts: attempts})
}
