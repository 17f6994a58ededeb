package handler

import (
	"context"
	"net/http"
	"time"

	"safechat/internal/analysis"
)

type healthResponse struct {
	Status   string `json:"status"`
	Analyzer string `json:"analyzer"`
	// AnalyzerHealthy is omitted for the built-in engine.
	AnalyzerHealthy *bool `json:"analyzer_healthy,omitempty"`
	Online          int   `json:"online"`
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Analyzer: h.Analyzer.Name()}

	if c, ok := h.Analyzer.(*analysis.Client); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		healthy := c.Health(ctx)
		cancel()
		resp.AnalyzerHealthy = &healthy
		if !healthy {
			resp.Status = "degraded"
		}
	}
	if h.Hub != nil {
		resp.Online = h.Hub.Online()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ModelInfo handles GET /api/analysis/models
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	reporter, ok := h.Analyzer.(analysis.ModelReporter)
	if !ok {
		writeJSON(w, http.StatusOK, analysis.ModelInfo{Status: "unknown", Type: h.Analyzer.Name()})
		return
	}
	writeJSON(w, http.StatusOK, reporter.ModelInfo(r.Context()))
}
