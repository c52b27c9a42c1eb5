package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/rcowellai/recording-app-sub000/internal/logger"
	"github.com/rcowellai/recording-app-sub000/internal/session"
)

// sseMessage is one server-sent event on the session change stream.
type sseMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SessionEventsHandler streams the session watcher's out-of-band changes to
// the tab over SSE: removal, expiry, and external status flips all arrive
// here, letting a losing tab follow the winner without polling.
func SessionEventsHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		link, ok := parseLink(cfg, w, r)
		if !ok {
			return
		}

		known := session.Status(r.URL.Query().Get("known_status"))
		if known == "" {
			sess, err := cfg.Sessions.Load(r.Context(), link.Raw)
			if err != nil {
				apperror.WriteJSON(w, r, err)
				return
			}
			known = sess.Status
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		sendSSE(w, flusher, sseMessage{
			Event: "connected",
			Data:  map[string]string{"session_id": link.Raw, "status": string(known)},
		})
		log.Info("session event stream connected", "session_id", link.Raw)

		changes := cfg.Watcher.Watch(r.Context(), link.Raw, known)
		keepalive := time.NewTicker(30 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-r.Context().Done():
				log.Info("session event stream disconnected", "session_id", link.Raw)
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				sendSSE(w, flusher, sseMessage{
					Event: string(change.Kind),
					Data: map[string]string{
						"session_id": link.Raw,
						"status":     string(change.Status),
					},
				})
			case <-keepalive.C:
				sendSSE(w, flusher, sseMessage{
					Event: "keepalive",
					Data:  map[string]int64{"timestamp": time.Now().Unix()},
				})
			}
		}
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, msg sseMessage) {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", msg.Event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
