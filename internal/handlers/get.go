package handlers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/The-Promised-Neverland/transporter/internal/hashfile"
	"github.com/The-Promised-Neverland/transporter/internal/models"
	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
)

// Get answers download negotiation [GET, filename, -, -] with
// OK, filename, size, session-id.
func (h *Handlers) Get(frames [][]byte) [][]byte {
	name := protocol.CString(frames[1])
	if len(name) < 1 || len(name) > protocol.MaxFilenameLen {
		return errReply("get", "INVALID FILENAME", "")
	}
	if err := checkName(name); err != nil {
		return errReply("get", "INVALID FILENAME "+name, err.Error())
	}

	path := filepath.Join(h.Config.ServeDir(), name)
	size := int64(-1)
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		size = info.Size()
	}
	if size <= 0 {
		return errReply("get", fmt.Sprintf("BAD FILESIZE: %d(%s)", size, name), "")
	}

	slot, err := h.Table.Allocate(name, path, hashfile.ModeRead, size)
	if err != nil {
		return allocErrReply("get", name, err)
	}
	logger.Log.Info("Download negotiated", "session", slot.SessionID(), "name", name, "size", size)
	h.publish(models.EventNegotiated, slot.Info(), "", "")
	return okReply(protocol.Text(name), protocol.Int(size), protocol.Text(slot.SessionID()))
}
