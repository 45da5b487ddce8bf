package handlers

import (
	"errors"
	"strconv"

	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/The-Promised-Neverland/transporter/internal/selection"
)

var pickOrders = map[string]selection.Order{
	protocol.SubOldest:   selection.Oldest,
	protocol.SubNewest:   selection.Newest,
	protocol.SubLargest:  selection.Largest,
	protocol.SubSmallest: selection.Smallest,
}

// Command answers [CMD, sub-command, -, -].
func (h *Handlers) Command(frames [][]byte) [][]byte {
	sub := protocol.CString(frames[1])
	if !protocol.ValidSubCommandLen(sub) {
		return errReply("cmd", "INVALID COMMAND", "")
	}

	switch sub {
	case protocol.SubCount:
		n, err := h.Index.Count()
		if err != nil {
			return errReply("cmd", "ERROR COUNTING FILES", err.Error())
		}
		return okReply(protocol.Text(strconv.Itoa(n)), protocol.Text(""))
	case protocol.SubRandom:
		return h.pickReply(h.Index.Random())
	}
	if order, ok := pickOrders[sub]; ok {
		return h.pickReply(h.Index.Pick(order))
	}
	return errReply("cmd", "INVALID COMMAND", sub)
}

func (h *Handlers) pickReply(name string, err error) [][]byte {
	if errors.Is(err, selection.ErrEmpty) {
		return errReply("cmd", "ZERO FILES AVAILABLE", "")
	}
	if err != nil {
		return errReply("cmd", "DIRECTORY SCAN FAILED", err.Error())
	}
	return okReply(protocol.Text(name), protocol.Text(""))
}
