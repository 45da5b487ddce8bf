package handlers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/The-Promised-Neverland/transporter/internal/hashfile"
	"github.com/The-Promised-Neverland/transporter/internal/models"
	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/The-Promised-Neverland/transporter/internal/transfer"
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	"github.com/The-Promised-Neverland/transporter/pkg/stats"
)

// Put answers both upload negotiation [PUT, "", filename, size] and upload
// chunks [PUT, session-id, data, -].
func (h *Handlers) Put(frames [][]byte) [][]byte {
	id := protocol.CString(frames[1])
	if id == "" {
		return h.putNew(protocol.CString(frames[2]), frames[3])
	}
	return h.putChunk(id, frames[2])
}

func (h *Handlers) putNew(name string, sizeFrame []byte) [][]byte {
	if err := checkName(name); err != nil {
		return errReply("put", "INVALID FILENAME "+name, err.Error())
	}
	size := protocol.Atol(sizeFrame)
	if size <= 0 {
		return errReply("put", "BAD FILESIZE: "+protocol.CString(sizeFrame), "")
	}

	path := filepath.Join(h.Config.ServeDir(), name)
	if h.Config.NoClobber() {
		if _, err := os.Lstat(path); err == nil {
			return errReply("put", "Server will not clobber "+name, "")
		}
	}
	if h.Space != nil {
		free, err := h.Space.FreeBytes()
		switch {
		case err != nil:
			logger.Log.Warn("Free space check failed, accepting upload", "name", name, "err", err)
		case uint64(size) > free:
			return errReply("put", "INSUFFICIENT SPACE", fmt.Sprintf("%d > %d", size, free))
		}
	}

	slot, err := h.Table.Allocate(name, path, hashfile.ModeWrite, size)
	if err != nil {
		return allocErrReply("put", name, err)
	}
	logger.Log.Info("Upload negotiated", "session", slot.SessionID(), "name", name, "size", size)
	h.publish(models.EventNegotiated, slot.Info(), "", "")
	return okReply(protocol.Text(slot.SessionID()), protocol.Int(0))
}

func (h *Handlers) putChunk(id string, data []byte) [][]byte {
	slot, ok := h.Table.Find(id)
	if !ok {
		return errReply("put", "UNKNOWN UUID: "+id, "")
	}
	if !slot.IsUpload() || slot.State() != transfer.StateOpen {
		return errReply("put", "NOT AN OPEN UPLOAD: "+id, slot.State().String())
	}
	if int64(len(data)) > slot.Remaining() {
		return errReply("put", "CHUNK OVERRUNS FILESIZE", fmt.Sprintf("%d > %d", len(data), slot.Remaining()))
	}

	n, err := slot.Write(data)
	if err != nil || n != len(data) {
		info := slot.Info()
		if cerr := h.Table.Complete(slot, false); cerr != nil {
			logger.Log.Warn("Failed to release upload", "name", info.Name, "err", cerr)
		}
		h.publish(models.EventFailed, info, "short write", "")
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		return errReply("put", fmt.Sprintf("written(%d) != bytes(%d)", n, len(data)), detail)
	}
	h.Table.Advance(slot, int64(n))
	offset := protocol.Int(slot.Offset())
	logger.Log.Debug("Upload chunk", "session", id, "bytes", n, "offset", slot.Offset())

	if slot.Remaining() > 0 {
		return okReply(offset, protocol.Text(""))
	}

	info := slot.Info()
	digest, err := h.Table.Drain(slot)
	if err != nil {
		if cerr := h.Table.Complete(slot, false); cerr != nil {
			logger.Log.Warn("Failed to release upload", "name", info.Name, "err", cerr)
		}
		h.publish(models.EventFailed, info, "commit failed", "")
		return errReply("put", "COMMIT FAILED", err.Error())
	}
	h.Index.Invalidate()
	summary := stats.Format(info.TotalSize, slot.Elapsed())
	logger.Log.Info("Upload complete", "session", id, "name", info.Name, "stats", summary)
	h.publish(models.EventCompleted, info, "", summary)
	return okReply(offset, protocol.Text(digest))
}

// checkName applies the wire filename rules and keeps clients away from
// in-progress upload files.
func checkName(name string) error {
	if len(name) > protocol.MaxFilenameLen {
		return fmt.Errorf("filename longer than %d bytes", protocol.MaxFilenameLen)
	}
	if err := protocol.CheckFilename(name); err != nil {
		return err
	}
	if strings.HasSuffix(name, transfer.PartSuffix) {
		return errors.New("filename is reserved for uploads in progress")
	}
	return nil
}

func allocErrReply(handler, name string, err error) [][]byte {
	switch {
	case errors.Is(err, transfer.ErrNoFreeSlot):
		return errReply(handler, "Could not get open xfer slot for "+name, "")
	case errors.Is(err, transfer.ErrPathBusy):
		return errReply(handler, "FILE BUSY: "+name, "")
	default:
		return errReply(handler, "Could not open "+name, err.Error())
	}
}
