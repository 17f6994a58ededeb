package handler

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"safechat/internal/analysis"
	"safechat/internal/config"
	"safechat/internal/pipeline"
	"safechat/internal/realtime"
)

// Handler holds application dependencies
type Handler struct {
	Pipeline *pipeline.Service
	Hub      *realtime.Hub
	Analyzer analysis.Analyzer
	Config   config.Config

	limiter *limiterPool
}

// New creates a new Handler with the given dependencies
func New(p *pipeline.Service, hub *realtime.Hub, analyzer analysis.Analyzer, cfg config.Config) *Handler {
	return &Handler{
		Pipeline: p,
		Hub:      hub,
		Analyzer: analyzer,
		Config:   cfg,
		limiter:  newLimiterPool(cfg.RateLimitWindow, cfg.RateLimitMaxRequests),
	}
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// REST API
	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/messages", h.rateLimited("submit_message", h.SubmitMessage)).Methods("POST")
	api.HandleFunc("/messages/{id}", h.GetMessage).Methods("GET")
	api.HandleFunc("/messages/{id}/status", h.SetMessageStatus).Methods("PUT")
	api.HandleFunc("/messages/{id}/reanalyze", h.ReanalyzeMessage).Methods("POST")
	api.HandleFunc("/flags", h.CreateFlag).Methods("POST")
	api.HandleFunc("/flags/{id}", h.GetFlag).Methods("GET")
	api.HandleFunc("/flags/{id}/review", h.ReviewFlag).Methods("PUT")
	api.HandleFunc("/analysis/models", h.ModelInfo).Methods("GET")

	// 運用
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	return r
}
