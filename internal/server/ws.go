package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/session"
)

// wsMessage is one frame sent to WebSocket clients.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleWS streams the same snapshot and changes as handleEvents over a
// WebSocket. Client frames are ignored.
func handleWS(logger *slog.Logger, sessions *session.Manager, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

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

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Hour)
		defer cancel()
		ctx = conn.CloseRead(ctx)

		snapData, _ := json.Marshal(snap)
		if err := writeWS(ctx, conn, "snapshot", snapData); err != nil {
			logger.Debug("websocket write failed", "error", err)
			return
		}

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case data, ok := <-ch:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "stream ended")
					return
				}
				var head struct {
					Type string `json:"type"`
				}
				_ = json.Unmarshal(data, &head)
				if err := writeWS(ctx, conn, head.Type, data); err != nil {
					logger.Debug("websocket write failed", "error", err)
					return
				}
			}
		}
	}
}

func writeWS(ctx context.Context, conn *websocket.Conn, typ string, data []byte) error {
	msg, err := json.Marshal(wsMessage{Type: typ, Data: data})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
