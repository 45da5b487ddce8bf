package handlers

import (
	"fmt"

	"github.com/The-Promised-Neverland/transporter/internal/models"
	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/The-Promised-Neverland/transporter/internal/transfer"
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	"github.com/The-Promised-Neverland/transporter/pkg/stats"
)

// Transfer answers [XFR, session-id, offset, blocksize-or-hash]: a block pull
// while offset < size, the completion handshake once offset == size.
func (h *Handlers) Transfer(frames [][]byte) [][]byte {
	id := protocol.CString(frames[1])
	if id == "" {
		return errReply("xfr", "MISSING SESSION", "")
	}
	slot, ok := h.Table.Find(id)
	if !ok {
		return errReply("xfr", "UNKNOWN UUID: "+id, "")
	}
	offset := protocol.Atol(frames[2])
	if offset != slot.Offset() {
		return errReply("xfr", fmt.Sprintf("BAD OFFSET: %d != %d", offset, slot.Offset()), "")
	}
	if offset == slot.TotalSize() {
		return h.complete(slot, protocol.CString(frames[3]))
	}
	return h.pull(slot, protocol.Atol(frames[3]))
}

// complete compares the client's digest with ours. A verified download
// deletes the served file; a verified upload is simply released.
func (h *Handlers) complete(slot *transfer.Slot, hash string) [][]byte {
	info := slot.Info()
	elapsed := slot.Elapsed()
	upload := slot.IsUpload()
	match := hash != "" && hash == slot.Hash()
	deleteFile := match && !upload

	if err := h.Table.Complete(slot, deleteFile); err != nil {
		logger.Log.Warn("Failed to release transfer", "session", info.SessionID, "name", info.Name, "err", err)
	}
	if deleteFile {
		h.Index.Invalidate()
	}
	if !match {
		h.publish(models.EventFailed, info, "hash mismatch", "")
		return errReply("xfr", "INVALID HASH", "")
	}

	summary := stats.Format(info.TotalSize, elapsed)
	logger.Log.Info("Transfer verified", "session", info.SessionID, "name", info.Name, "deleted", deleteFile, "stats", summary)
	if upload {
		h.publish(models.EventReleased, info, "verified", "")
	} else {
		h.publish(models.EventCompleted, info, "verified", summary)
	}
	return okReply(protocol.Text(""), protocol.Text(""))
}

func (h *Handlers) pull(slot *transfer.Slot, blockSize int64) [][]byte {
	if slot.IsUpload() {
		return errReply("xfr", "NOT A DOWNLOAD: "+slot.SessionID(), "")
	}
	if blockSize <= 0 {
		return errReply("xfr", fmt.Sprintf("BAD BLOCKSIZE: %d", blockSize), "")
	}
	if blockSize > protocol.MaxChunkSize {
		return errReply("xfr", fmt.Sprintf("CHUNK REQ TOO LARGE: %d", blockSize), "")
	}

	buf := make([]byte, min(blockSize, slot.Remaining()))
	n, err := slot.Read(buf)
	if err != nil || n == 0 {
		info := slot.Info()
		if cerr := h.Table.Complete(slot, false); cerr != nil {
			logger.Log.Warn("Failed to release download", "name", info.Name, "err", cerr)
		}
		h.publish(models.EventFailed, info, "read failed", "")
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		return errReply("xfr", "READ FAILED", detail)
	}
	h.Table.Advance(slot, int64(n))
	logger.Log.Debug("Download chunk", "session", slot.SessionID(), "bytes", n, "offset", slot.Offset())
	return okReply(buf[:n], protocol.Int(int64(n)))
}
