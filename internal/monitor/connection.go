package monitor

import (
	"time"

	"github.com/The-Promised-Neverland/transporter/internal/models"
	"github.com/gorilla/websocket"
)

type Connection struct {
	ID           string
	Remote       string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastSeen     time.Time
	DisconnectCh chan struct{}
	SendCh       chan models.Message
}

func NewConnection(id, remote string, conn *websocket.Conn) *Connection {
	return &Connection{
		ID:           id,
		Remote:       remote,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastSeen:     time.Now(),
		DisconnectCh: make(chan struct{}),
		SendCh:       make(chan models.Message, 100),
	}
}
