package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"safechat/internal/logging"
	"safechat/internal/pipeline"
)

// SubmitMessage handles POST /api/messages
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var in pipeline.SubmitInput
	if !decodeBody(w, r, &in) {
		return
	}

	msg, err := h.Pipeline.SubmitMessage(r.Context(), userID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	logging.Info().
		Str("message_id", msg.ID).
		Str("status", string(msg.Status)).
		Msg("[POST /api/messages] ✅ Created message")
	writeJSON(w, http.StatusCreated, msg)
}

// GetMessage handles GET /api/messages/{id}
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.Pipeline.GetMessage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetMessageStatus handles PUT /api/messages/{id}/status
func (h *Handler) SetMessageStatus(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := h.Pipeline.SetMessageStatus(r.Context(), actorID, mux.Vars(r)["id"], req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// ReanalyzeMessage handles POST /api/messages/{id}/reanalyze
func (h *Handler) ReanalyzeMessage(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	msg, err := h.Pipeline.ReanalyzeMessage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
