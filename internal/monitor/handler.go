package monitor

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// writeWait bounds a single event write; the connection otherwise keeps
// the server's write deadline from before the upgrade.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterRoutes mounts the monitor websocket.
func RegisterRoutes(r chi.Router, bus *Bus, logger *zap.Logger) {
	r.Get("/api/monitor/ws", Handler(bus, logger))
}

// Handler upgrades the request and streams every published event as JSON
// until the client disconnects.
func Handler(bus *Bus, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("monitor: websocket upgrade", zap.Error(err))
			return
		}
		defer conn.Close()

		events, unsubscribe := bus.Subscribe()
		defer unsubscribe()

		// Reads only serve to notice the client going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						logger.Debug("monitor: websocket read", zap.Error(err))
					}
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					logger.Debug("monitor: websocket write", zap.Error(err))
					return
				}
			}
		}
	}
}
