package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// handleChainStream pushes each refreshed raw chain for a symbol over a
// websocket. The current cached chain, if any, is sent on connect.
func (s *Server) handleChainStream(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Websocket upgrade failed", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		return
	}
	defer conn.Close()

	updates := s.feed.Subscribe(symbol)
	defer s.feed.Unsubscribe(symbol, updates)

	if cached, ok := s.chains.Get(symbol); ok {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(cached); err != nil {
			return
		}
	}

	// drain client frames so pings and close frames are processed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		}
	}
}
