package monitor

import (
	"sync"
	"time"

	"github.com/The-Promised-Neverland/transporter/internal/models"
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

// Hub fans transfer events out to every connected websocket subscriber.
// Publish never blocks; a subscriber that falls behind loses messages.
type Hub struct {
	Connections map[string]*Connection
	Mutex       sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{Connections: make(map[string]*Connection)}
}

// Connect registers conn and starts its pumps. It returns the subscriber id.
func (h *Hub) Connect(conn *websocket.Conn) string {
	c := NewConnection(uuid.NewString(), conn.RemoteAddr().String(), conn)
	h.Mutex.Lock()
	h.Connections[c.ID] = c
	h.Mutex.Unlock()
	logger.Log.Info("✨ Monitor subscriber connected", "id", c.ID, "remote", c.Remote)
	go h.ReadPump(c)
	go h.WritePump(c)
	return c.ID
}

// Disconnect is idempotent.
func (h *Hub) Disconnect(id string) {
	h.Mutex.Lock()
	c, ok := h.Connections[id]
	if ok {
		delete(h.Connections, id)
	}
	h.Mutex.Unlock()
	if !ok {
		return
	}
	close(c.DisconnectCh)
	c.Conn.Close()
	logger.Log.Info("🔴 Monitor subscriber disconnected", "id", id)
}

func (h *Hub) Count() int {
	h.Mutex.RLock()
	defer h.Mutex.RUnlock()
	return len(h.Connections)
}

func (h *Hub) Broadcast(msg models.Message) {
	h.Mutex.RLock()
	defer h.Mutex.RUnlock()
	for id, c := range h.Connections {
		select {
		case c.SendCh <- msg:
		default:
			logger.Log.Warn("⚠️ Subscriber send buffer full, dropping message", "id", id, "type", msg.Type)
		}
	}
}

// Publish implements the dispatcher's event sink.
func (h *Hub) Publish(ev models.TransferEvent) {
	h.Broadcast(models.Message{Type: models.MsgTransferEvent, Payload: ev})
}

func (h *Hub) Close() {
	h.Mutex.RLock()
	ids := make([]string, 0, len(h.Connections))
	for id := range h.Connections {
		ids = append(ids, id)
	}
	h.Mutex.RUnlock()
	for _, id := range ids {
		h.Disconnect(id)
	}
}

// ReadPump only exists to process control frames; subscribers do not send
// anything meaningful.
func (h *Hub) ReadPump(c *Connection) {
	defer h.Disconnect(c.ID)
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		h.Mutex.Lock()
		c.LastSeen = time.Now()
		h.Mutex.Unlock()
		return nil
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Warn("Monitor websocket error", "id", c.ID, "err", err)
			}
			return
		}
	}
}

func (h *Hub) WritePump(c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.SendCh:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(msg); err != nil {
				logger.Log.Warn("Failed to send to monitor subscriber", "id", c.ID, "err", err)
				h.Disconnect(c.ID)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Log.Warn("⚠️ Ping failed", "id", c.ID, "err", err)
				h.Disconnect(c.ID)
				return
			}
		case <-c.DisconnectCh:
			return
		}
	}
}
