package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
)

// wsConn is the slice of *websocket.Conn the hub needs; tests substitute it.
type wsConn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// WSHub is the socket-based channel. Connections are write-only on the
// server side; the read half is drained just to observe disconnects.
type WSHub struct {
	mu    sync.RWMutex
	conns map[string]map[wsConn]bool

	writeTimeout time.Duration
}

func NewWSHub() *WSHub {
	return &WSHub{
		conns:        make(map[string]map[wsConn]bool),
		writeTimeout: 5 * time.Second,
	}
}

func (h *WSHub) Subscribe(userID string, conn wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[wsConn]bool)
	}
	h.conns[userID][conn] = true
	log.Printf("[WS] client connected for user %s (%d active)", userID, len(h.conns[userID]))
}

func (h *WSHub) Unsubscribe(userID string, conn wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.conns[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, userID)
		}
	}
}

func (h *WSHub) Name() string {
	return "websocket"
}

// Deliver writes the frame to every live connection for userID. A failed
// write drops that connection; the rest still receive the frame.
func (h *WSHub) Deliver(userID, eventType string, payload map[string]interface{}) error {
	frame, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns := make([]wsConn, 0, len(h.conns[userID]))
	for conn := range h.conns[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			log.Printf("[WS] dropping connection for user %s: %v", userID, err)
			h.Unsubscribe(userID, conn)
			_ = conn.Close(websocket.StatusGoingAway, "write failed")
		}
	}
	return nil
}

// HandleConnection upgrades the request and keeps the connection registered
// until the client goes away.
func (h *WSHub) HandleConnection(c *gin.Context, userID string) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("[WS] accept failed for user %s: %v", userID, err)
		return
	}

	h.Subscribe(userID, conn)
	defer h.Unsubscribe(userID, conn)

	ctx := conn.CloseRead(c.Request.Context())
	<-ctx.Done()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
