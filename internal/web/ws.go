package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type wsEvent struct {
	Type    string `json:"type"`
	EntryID string `json:"entryId"`
	At      string `json:"at"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		// Basic same-origin check; good enough for localhost use.
		host := strings.TrimSpace(r.Host)
		return strings.Contains(origin, "://"+host)
	},
}

// handleWS pushes an activity frame to the page whenever its entry changes.
// The page uses it as a lightweight "someone else edited this" signal
// alongside the region-refresh stream.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	st := s.store()
	sess, err := s.sessionForRequest(r.Context(), st, r)
	if err != nil {
		http.Error(w, "no session", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the handshake.
		s.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain the read side so we notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h := s.hub.hubFor(sess.EntryID)
	ch, unsubscribe := h.subscribe()
	defer unsubscribe()

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			ev := wsEvent{
				Type:    "entry-updated",
				EntryID: sess.EntryID,
				At:      time.Now().Format(time.RFC3339),
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}
}
