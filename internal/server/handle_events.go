package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/session"
)

// handleEvents streams a session as Server-Sent Events: one snapshot event
// with the whole tree, then one event per change named after its type.
func handleEvents(logger *slog.Logger, sessions *session.Manager, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, laotypo.KindInternal, "streaming not supported")
			return
		}

		// Subscribe before reading the snapshot so nothing falls in between.
		ch, err := broker.Subscribe(sessionID)
		if err != nil {
			writeFailure(w, r, logger, laotypo.Internal("subscribing", err))
			return
		}
		defer broker.Unsubscribe(sessionID, ch)

		snap, err := sessions.Snapshot(r.Context(), sessionID)
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		snapData, _ := json.Marshal(snap)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", snapData)
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				var head struct {
					Type string `json:"type"`
				}
				_ = json.Unmarshal(data, &head)
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
