package api

import (
	"net/http"

	"github.com/okian/strokeauth/internal/domain/types"
)

// EnrollmentHandler handles enrollment requests.
type EnrollmentHandler struct {
	deps Dependencies
	body bodyDecoder
}

// NewEnrollmentHandler creates a new enrollment handler.
func NewEnrollmentHandler(deps Dependencies, body bodyDecoder) *EnrollmentHandler {
	return &EnrollmentHandler{deps: deps, body: body}
}

// HandleEnroll handles POST /v1/enrollments requests.
func (h *EnrollmentHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	const op = "api.enroll"
	var req types.EnrollRequest
	if err := h.body.decode(w, r, op, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.Enroll(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if resp.Complete {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// HandleGet handles GET /v1/enrollments/{userId}/{biometricType} requests.
func (h *EnrollmentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.Baseline(r.Context(), r.PathValue("userId"), r.PathValue("biometricType"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleReset handles DELETE /v1/enrollments/{userId}/{biometricType} requests.
func (h *EnrollmentHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.ResetEnrollment(r.Context(), r.PathValue("userId"), r.PathValue("biometricType")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
