package handlers

import (
	"fmt"
	"time"

	"github.com/The-Promised-Neverland/transporter/internal/config"
	"github.com/The-Promised-Neverland/transporter/internal/models"
	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/The-Promised-Neverland/transporter/internal/selection"
	"github.com/The-Promised-Neverland/transporter/internal/transfer"
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
)

// Sender writes one frame of the reply to the request being handled.
type Sender interface {
	Send(frame []byte, more bool) error
}

// EventSink receives transfer lifecycle events.
type EventSink interface {
	Publish(ev models.TransferEvent)
}

// SpaceChecker reports free bytes on the served filesystem.
type SpaceChecker interface {
	FreeBytes() (uint64, error)
}

type nopSink struct{}

func (nopSink) Publish(models.TransferEvent) {}

// HandlerFunc answers one request. frames always has protocol.FrameCount
// entries; the returned reply is never empty.
type HandlerFunc func(frames [][]byte) [][]byte

type Handlers struct {
	Config *config.Config
	Table  *transfer.Table
	Index  *selection.Index
	Space  SpaceChecker
	Events EventSink

	registry map[string]HandlerFunc
}

func NewHandler(
	cfg *config.Config,
	table *transfer.Table,
	index *selection.Index,
	space SpaceChecker,
	events EventSink,
) *Handlers {
	if events == nil {
		events = nopSink{}
	}
	h := &Handlers{
		Config: cfg,
		Table:  table,
		Index:  index,
		Space:  space,
		Events: events,
	}
	h.RegisterHandlers()
	return h
}

func (h *Handlers) RegisterHandlers() {
	h.registry = map[string]HandlerFunc{
		protocol.CmdCMD: h.Command,
		protocol.CmdPUT: h.Put,
		protocol.CmdGET: h.Get,
		protocol.CmdXFR: h.Transfer,
	}
}

// Process turns one request into its reply. Every request gets exactly one
// reply, ERR included.
func (h *Handlers) Process(frames [][]byte) [][]byte {
	if len(frames) != protocol.FrameCount {
		return errReply("dispatch", "INVALID COMMAND", fmt.Sprintf("expected %d frames, got %d", protocol.FrameCount, len(frames)))
	}
	tag := protocol.CString(frames[0])
	handler, ok := h.registry[tag]
	if !ok {
		return errReply("dispatch", "INVALID COMMAND", tag)
	}
	return handler(frames)
}

// Handle is the reply socket callback. nil frames mean the socket is going
// away: every live transfer is released.
func (h *Handlers) Handle(s Sender, frames [][]byte) {
	if frames == nil {
		n := h.Table.Close()
		logger.Log.Info("Dispatcher shut down", "released", n)
		return
	}
	reply := h.Process(frames)
	for i, f := range reply {
		if err := s.Send(f, i < len(reply)-1); err != nil {
			logger.Log.Error("❌ Failed to send reply", "frame", i, "err", err)
			return
		}
	}
}

func (h *Handlers) publish(kind string, info transfer.Info, reason, stats string) {
	direction := "download"
	if info.Mode == "write" {
		direction = "upload"
	}
	h.Events.Publish(models.TransferEvent{
		Kind:      kind,
		SessionID: info.SessionID,
		Name:      info.Name,
		Direction: direction,
		Size:      info.TotalSize,
		Offset:    info.Offset,
		Reason:    reason,
		Stats:     stats,
		Timestamp: time.Now().Unix(),
	})
}

// ReclaimEvent adapts the table's reclaim hook to the event sink.
func (h *Handlers) ReclaimEvent(info transfer.Info, reason string) {
	h.publish(models.EventReleased, info, reason, "")
}
