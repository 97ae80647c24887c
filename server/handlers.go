package server

import (
	"encoding/json"
	"net/http"

	"readecho/config"
	"readecho/core/playback"
	"readecho/core/pregen"
	"readecho/repository"
)

// APIHandler handles all API requests.
type APIHandler struct {
	assetRepo    repository.AudioAssetRepository
	jobRepo      repository.JobRepository
	service      *pregen.Service
	pipeline     *pregen.Pipeline
	orchestrator *playback.Orchestrator
	cfg          *config.Config
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(
	assetRepo repository.AudioAssetRepository,
	jobRepo repository.JobRepository,
	service *pregen.Service,
	pipeline *pregen.Pipeline,
	orchestrator *playback.Orchestrator,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		assetRepo:    assetRepo,
		jobRepo:      jobRepo,
		service:      service,
		pipeline:     pipeline,
		orchestrator: orchestrator,
		cfg:          cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
