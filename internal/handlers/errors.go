package handlers

import (
	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
)

func okReply(frames ...[]byte) [][]byte {
	return append([][]byte{protocol.Text(protocol.StatusOK)}, frames...)
}

// errReply logs the failure and builds ERR, msg, msg2. An empty msg2 becomes
// the single-NUL empty frame.
func errReply(handler, msg, msg2 string) [][]byte {
	if msg2 != "" {
		logger.Log.Warn("Request rejected", "handler", handler, "msg", msg, "detail", msg2)
	} else {
		logger.Log.Warn("Request rejected", "handler", handler, "msg", msg)
	}
	return [][]byte{
		protocol.Text(protocol.StatusERR),
		protocol.Text(msg),
		protocol.Text(msg2),
	}
}
