package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"readecho/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// playbackCommand is a client control message.
type playbackCommand struct {
	Action string `json:"action"` // pause, resume, stop
}

// WebSocketPlaybackHandler streams playback events for one chunk: sentence
// metadata with timing lists, then word-boundary highlight events driven by
// the orchestrator clock. The client sends pause/resume/stop commands on the
// same connection.
func (h *APIHandler) WebSocketPlaybackHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	vars := mux.Vars(r)
	bookID := vars["bookId"]
	level := vars["level"]
	chunkIndex, err := strconv.Atoi(vars["chunkIndex"])
	if err != nil || chunkIndex < 0 {
		logger.Warn("invalid chunk index", logger.String("value", vars["chunkIndex"]))
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
	startSentence := 0
	if s := r.URL.Query().Get("start"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			startSentence = v
		}
	}

	session := h.orchestrator.NewSession(bookID, level, chunkIndex, provider, voiceID)
	session.Play(r.Context(), startSentence)
	defer session.Stop()

	// Reader: control commands until the client disconnects.
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				session.Stop()
				return
			}
			var cmd playbackCommand
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			switch cmd.Action {
			case "pause":
				session.Pause()
			case "resume":
				session.Resume()
			case "stop":
				session.Stop()
				return
			}
		}
	}()

	// Writer: forward orchestrator events until the session ends.
	for ev := range session.Events() {
		if err := conn.WriteJSON(ev); err != nil {
			logger.Debug("websocket write failed", logger.ErrorField(err))
			return
		}
	}
}
