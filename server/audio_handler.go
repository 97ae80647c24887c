package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"readecho/cache"
	"readecho/logger"
	"readecho/model"
	"readecho/storage"

	"github.com/gorilla/mux"
	"github.com/minio/minio-go/v7"
)

// GetChunkAudioHandler returns the cached audio assets for a chunk, sentence
// by sentence, or a not_generated marker. A miss promotes the chunk to an
// urgent pre-generation job so the next request is likely to hit.
func (h *APIHandler) GetChunkAudioHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bookID := vars["bookId"]
	level := vars["level"]
	chunkIndex, err := strconv.Atoi(vars["chunkIndex"])
	if err != nil || chunkIndex < 0 {
		writeError(w, http.StatusBadRequest, "invalid chunk index")
		return
	}

	provider := r.URL.Query().Get("provider")
	if provider == "" {
		provider = h.cfg.DefaultProvider
	}
	voiceID := r.URL.Query().Get("voice")
	if voiceID == "" {
		voiceID = h.cfg.DefaultVoice
	}

	assets := h.pipeline.Store().GetChunk(r.Context(), bookID, level, chunkIndex, provider, voiceID)
	if len(assets) == 0 {
		if _, err := h.service.EnqueueChunk(r.Context(), bookID, level, chunkIndex, provider, voiceID, model.PriorityUrgent); err != nil {
			logger.Warn("urgent enqueue failed",
				logger.String("bookId", bookID),
				logger.Int("chunk", chunkIndex),
				logger.ErrorField(err))
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status":     "not_generated",
			"bookId":     bookID,
			"level":      level,
			"chunkIndex": chunkIndex,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ready",
		"bookId":     bookID,
		"level":      level,
		"chunkIndex": chunkIndex,
		"provider":   provider,
		"voiceId":    voiceID,
		"sentences":  assets,
	})
}

// ProvidersHandler lists the configured TTS providers.
func (h *APIHandler) ProvidersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers":       h.pipeline.Providers(),
		"defaultProvider": h.cfg.DefaultProvider,
		"defaultVoice":    h.cfg.DefaultVoice,
	})
}

// AudioProxyHandler serves rendered audio payloads from MinIO, with a Redis
// payload cache in front so hot sentences skip object storage.
func (h *APIHandler) AudioProxyHandler(w http.ResponseWriter, r *http.Request) {
	objectPath := strings.TrimPrefix(r.URL.Path, "/audio/")
	if objectPath == "" || strings.Contains(objectPath, "..") {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	objectPath = "audio/" + objectPath

	if data, err := cache.GetAudioPayload(objectPath); err == nil && data != nil {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write(data)
		return
	}

	client := storage.GetMinioClient()
	if client == nil {
		http.Error(w, "object storage not available", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	object, err := client.GetObject(ctx, h.cfg.MinioBucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		http.Error(w, "audio not found", http.StatusNotFound)
		return
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		http.Error(w, "audio not found", http.StatusNotFound)
		return
	}

	if err := cache.SetAudioPayload(objectPath, data, h.cfg.RedisCacheTTL); err != nil {
		logger.Debug("payload cache write skipped", logger.String("path", objectPath))
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}
