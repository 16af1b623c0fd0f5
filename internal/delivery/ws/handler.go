package ws

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler subscribes a client to a recording's transcript stream. The
// connection is read-only from the client side; segment transcripts arrive
// as they complete.
func Handler(hub *Hub, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recID := r.URL.Query().Get("recordingID")
		if _, err := uuid.Parse(recID); err != nil {
			http.Error(w, "missing or invalid recordingID", http.StatusBadRequest)
			return
		}

		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnw("ws upgrade failed", "err", err)
			return
		}

		hub.Register(recID, conn)
		defer hub.Unregister(recID, conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
