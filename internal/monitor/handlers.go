package monitor

import (
	"net/http"
	"time"

	"github.com/The-Promised-Neverland/transporter/internal/models"
	"github.com/The-Promised-Neverland/transporter/internal/selection"
	"github.com/The-Promised-Neverland/transporter/internal/transfer"
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	"github.com/The-Promised-Neverland/transporter/pkg/system"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Transfers interface {
	Snapshot() []transfer.Info
	Len() int
	Cap() int
}

type Files interface {
	List(order selection.Order) ([]selection.Entry, error)
}

type Host interface {
	GetHostMetrics() *models.HostMetrics
}

// Deps is what the monitor reads from the running daemon. Host and
// PublicEndpoint may be nil.
type Deps struct {
	InstanceID     string
	Endpoint       string
	Transfers      Transfers
	Files          Files
	Host           Host
	PublicEndpoint func() string
}

type Handler struct {
	Deps
	Hub      *Hub
	upgrader websocket.Upgrader
}

func NewHandler(deps Deps, hub *Hub) *Handler {
	return &Handler{
		Deps: deps,
		Hub:  hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	health := models.HealthCheck{
		Status:          "Healthy",
		Uptime:          system.Uptime(),
		InstanceID:      h.InstanceID,
		Endpoint:        h.Endpoint,
		ActiveTransfers: h.Transfers.Len(),
		Capacity:        h.Transfers.Cap(),
	}
	if h.PublicEndpoint != nil {
		health.PublicEndpoint = h.PublicEndpoint()
	}
	if h.Host != nil {
		if m := h.Host.GetHostMetrics(); m != nil {
			health.Host = *m
		}
	}
	c.JSON(http.StatusOK, models.Message{
		Type:    models.MsgHealthCheck,
		Payload: health,
	})
}

func (h *Handler) ListTransfers(c *gin.Context) {
	c.JSON(http.StatusOK, models.Message{
		Type:    models.MsgTransferList,
		Payload: h.Transfers.Snapshot(),
	})
}

func (h *Handler) ListFiles(c *gin.Context) {
	order, err := selection.ParseOrder(c.DefaultQuery("order", selection.Lexical.String()))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	info, err := DirectoryListing(h.Files, order)
	if err != nil {
		logger.Log.Error("❌ Directory listing failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "directory scan failed",
		})
		return
	}
	c.JSON(http.StatusOK, models.Message{
		Type:    models.MsgFileList,
		Payload: info,
	})
}

// DirectoryListing is the served directory as the monitor reports it.
func DirectoryListing(files Files, order selection.Order) (models.DirectoryInfo, error) {
	entries, err := files.List(order)
	if err != nil {
		return models.DirectoryInfo{}, err
	}
	info := models.DirectoryInfo{
		Order: order.String(),
		Files: make([]models.FileInfo, 0, len(entries)),
	}
	for _, e := range entries {
		info.Files = append(info.Files, models.FileInfo{
			Name:     e.Name,
			Size:     e.Size,
			Modified: e.ModTime.UTC().Format(time.RFC3339),
		})
		info.TotalSize += e.Size
	}
	info.TotalFiles = len(info.Files)
	return info, nil
}

func (h *Handler) UpgradeHandler(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn("Failed to upgrade WebSocket", "remote", c.Request.RemoteAddr, "err", err)
		return
	}
	h.Hub.Connect(conn)
}
