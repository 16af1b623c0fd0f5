package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub fans segment transcript events out to websocket subscribers, one room
// per recording.
type Hub struct {
	log *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[string]map[*websocket.Conn]bool
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]map[*websocket.Conn]bool),
	}
}

func (h *Hub) Register(recordingID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[recordingID]; !ok {
		h.rooms[recordingID] = make(map[*websocket.Conn]bool)
	}

	h.rooms[recordingID][conn] = true
	h.log.Infow("ws subscribed", "recording", recordingID, "conns", len(h.rooms[recordingID]))
}

func (h *Hub) Unregister(recordingID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.rooms[recordingID]
	if !ok {
		return
	}

	if _, ok := conns[conn]; ok {
		delete(conns, conn)
		conn.Close()
		h.log.Infow("ws unsubscribed", "recording", recordingID, "conns", len(conns))
	}

	if len(conns) == 0 {
		delete(h.rooms, recordingID)
	}
}

func (h *Hub) SendToRoom(recordingID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.rooms[recordingID]
	if len(conns) == 0 {
		return
	}

	for conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Warnw("ws send", "recording", recordingID, "err", err)
		}
	}
}

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
