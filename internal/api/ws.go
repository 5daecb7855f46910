package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/scout/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage is an inbound client frame.
type wsMessage struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// handleWebSocket subscribes the connection to the session's notifications.
// The current context is sent first when the session exists; clients may
// then request web searches over the same connection.
func handleWebSocket(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		log := deps.Logger.With("session_id", sessionID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}

		l := notify.NewWSListener(conn, deps.WriteTimeout)
		deps.Hub.Register(sessionID, l)
		defer func() {
			deps.Hub.Unregister(sessionID, l.ID())
			l.Close()
			log.Debug("websocket disconnected", "listener_id", l.ID())
		}()
		log.Debug("websocket connected", "listener_id", l.ID())

		if c, err := deps.Sessions.Get(sessionID); err == nil {
			if err := l.Send(notify.Event{Type: notify.TypeContext, Timestamp: time.Now(), Data: c}); err != nil {
				return
			}
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn("websocket read failed", "error", err)
				}
				return
			}

			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Debug("ignoring malformed websocket message", "error", err)
				continue
			}
			if msg.Type != "web_search" || msg.Query == "" {
				continue
			}

			// Failures are reported to listeners as search_error by the connector.
			res, err := deps.Search.Search(r.Context(), msg.Query, sessionID)
			if err != nil {
				continue
			}
			if err := l.WriteJSON(map[string]any{"type": notify.TypeSearchResults, "data": res}); err != nil {
				return
			}
		}
	}
}
