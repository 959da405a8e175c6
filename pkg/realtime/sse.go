package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Client is one live SSE connection bound to a user. Frames arrive on Send;
// the channel is closed on unsubscribe.
type Client struct {
	UserID string
	Send   chan []byte
}

type sseEvent struct {
	userID string
	frame  []byte
}

// Manager is the server-push channel: a hub goroutine owns the connection
// registry and fans frames out to every connection a user holds. Slow
// clients drop frames instead of blocking the hub.
type Manager struct {
	register   chan *Client
	unregister chan *Client
	events     chan sseEvent
	clients    map[string]map[*Client]bool

	heartbeat time.Duration
}

func NewManager() *Manager {
	return &Manager{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan sseEvent, 256),
		clients:    make(map[string]map[*Client]bool),
		heartbeat:  30 * time.Second,
	}
}

// Run owns the registry. Start it once in a goroutine.
func (m *Manager) Run() {
	for {
		select {
		case client := <-m.register:
			if m.clients[client.UserID] == nil {
				m.clients[client.UserID] = make(map[*Client]bool)
			}
			m.clients[client.UserID][client] = true
			log.Printf("[SSE] client connected for user %s (%d active)", client.UserID, len(m.clients[client.UserID]))

		case client := <-m.unregister:
			if conns, ok := m.clients[client.UserID]; ok {
				if conns[client] {
					delete(conns, client)
					close(client.Send)
					if len(conns) == 0 {
						delete(m.clients, client.UserID)
					}
					log.Printf("[SSE] client disconnected for user %s", client.UserID)
				}
			}

		case event := <-m.events:
			for client := range m.clients[event.userID] {
				select {
				case client.Send <- event.frame:
				default:
					// Slow client; frame dropped, connection kept.
				}
			}
		}
	}
}

// Subscribe registers a new connection for userID.
func (m *Manager) Subscribe(userID string) *Client {
	client := &Client{UserID: userID, Send: make(chan []byte, 16)}
	m.register <- client
	return client
}

// Unsubscribe removes the connection and closes its Send channel. Safe to
// call more than once.
func (m *Manager) Unsubscribe(client *Client) {
	m.unregister <- client
}

// SendToUser frames the payload and queues it for every connection the user
// holds. Best-effort: if the hub queue is full the event is dropped.
func (m *Manager) SendToUser(userID, eventType string, payload map[string]interface{}) {
	frame, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[SSE] marshal %s event: %v", eventType, err)
		return
	}
	select {
	case m.events <- sseEvent{userID: userID, frame: frame}:
	default:
		log.Printf("[SSE] hub queue full, dropped %s event for user %s", eventType, userID)
	}
}

// Name and Deliver make the manager a broadcast sink.
func (m *Manager) Name() string {
	return "sse"
}

func (m *Manager) Deliver(userID, eventType string, payload map[string]interface{}) error {
	m.SendToUser(userID, eventType, payload)
	return nil
}

// ServeHTTP streams events to one connection until the client goes away.
func (m *Manager) ServeHTTP(c *gin.Context, userID string) {
	client := m.Subscribe(userID)
	defer m.Unsubscribe(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(m.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case frame, ok := <-client.Send:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", frame)
			c.Writer.Flush()
		case <-heartbeat.C:
			// Comment frame keeps proxies from idling the connection out.
			fmt.Fprint(c.Writer, ": ping\n\n")
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
