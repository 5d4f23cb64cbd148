package api

import (
	"net/http"

	"github.com/okian/strokeauth/internal/domain/types"
)

// AuthenticateHandler handles comparison requests.
type AuthenticateHandler struct {
	deps Dependencies
	body bodyDecoder
}

// NewAuthenticateHandler creates a new authenticate handler.
func NewAuthenticateHandler(deps Dependencies, body bodyDecoder) *AuthenticateHandler {
	return &AuthenticateHandler{deps: deps, body: body}
}

// HandleAuthenticate handles POST /v1/authenticate requests. A reject is
// still a 200; the decision is in the body.
func (h *AuthenticateHandler) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	const op = "api.authenticate"
	var req types.AuthenticateRequest
	if err := h.body.decode(w, r, op, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.Authenticate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
