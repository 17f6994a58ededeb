package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"safechat/internal/moderation"
)

// CreateFlag handles POST /api/flags
func (h *Handler) CreateFlag(w http.ResponseWriter, r *http.Request) {
	moderatorID, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var in moderation.ManualFlagInput
	if !decodeBody(w, r, &in) {
		return
	}

	f, err := h.Pipeline.CreateManualFlag(r.Context(), moderatorID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// GetFlag handles GET /api/flags/{id}
func (h *Handler) GetFlag(w http.ResponseWriter, r *http.Request) {
	f, err := h.Pipeline.GetFlag(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// ReviewFlag handles PUT /api/flags/{id}/review
func (h *Handler) ReviewFlag(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var in moderation.ReviewInput
	if !decodeBody(w, r, &in) {
		return
	}

	f, err := h.Pipeline.ReviewFlag(r.Context(), mux.Vars(r)["id"], reviewerID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}
