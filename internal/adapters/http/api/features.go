package api

import (
	"net/http"

	"github.com/okian/strokeauth/internal/domain/capture"
)

// FeaturesHandler handles feature extraction requests.
type FeaturesHandler struct {
	deps Dependencies
	body bodyDecoder
}

// NewFeaturesHandler creates a new features handler.
func NewFeaturesHandler(deps Dependencies, body bodyDecoder) *FeaturesHandler {
	return &FeaturesHandler{deps: deps, body: body}
}

// HandleExtract handles POST /v1/features requests. The body is a bare
// capture session.
func (h *FeaturesHandler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	const op = "api.extract_features"
	var session capture.Session
	if err := h.body.decode(w, r, op, &session); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.ExtractFeatures(r.Context(), session)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
