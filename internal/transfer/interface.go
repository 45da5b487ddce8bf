package transfer

import (
	"errors"
	"time"

	"github.com/The-Promised-Neverland/transporter/internal/hashfile"
)

// State is the lifecycle stage of a slot.
type State int

const (
	StateFree State = iota
	// StateOpen: file open, offset < totalSize.
	StateOpen
	// StateDraining: upload reached its size, file committed and closed,
	// digest delivered, waiting for an optional XFR confirmation.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	default:
		return "free"
	}
}

var (
	ErrNoFreeSlot     = errors.New("no free transfer slot")
	ErrPathBusy       = errors.New("file is already part of an active transfer")
	ErrUnknownSession = errors.New("unknown session")
	ErrNotComplete    = errors.New("transfer has not reached its declared size")
)

// Reclaim reasons passed to the reclaim hook.
const (
	ReasonIdle     = "idle"
	ReasonDrained  = "drained"
	ReasonShutdown = "shutdown"
)

// Info is a point-in-time copy of a live slot.
type Info struct {
	Handle     int       `json:"handle"`
	SessionID  string    `json:"session_id"`
	Name       string    `json:"name"`
	Mode       string    `json:"mode"`
	State      string    `json:"state"`
	TotalSize  int64     `json:"total_size"`
	Offset     int64     `json:"offset"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Slot is one in-flight upload or download. Its fields are only mutated by
// the table; Read and Write perform the file I/O for the owning dispatcher.
type Slot struct {
	handle     int
	sessionID  string
	name       string
	path       string
	partPath   string
	mode       hashfile.Mode
	state      State
	totalSize  int64
	offset     int64
	file       *hashfile.File
	digest     string
	createdAt  time.Time
	lastActive time.Time
}

func (s *Slot) Handle() int            { return s.handle }
func (s *Slot) SessionID() string      { return s.sessionID }
func (s *Slot) Name() string           { return s.name }
func (s *Slot) Path() string           { return s.path }
func (s *Slot) Mode() hashfile.Mode    { return s.mode }
func (s *Slot) State() State           { return s.state }
func (s *Slot) TotalSize() int64       { return s.totalSize }
func (s *Slot) Offset() int64          { return s.offset }
func (s *Slot) Remaining() int64       { return s.totalSize - s.offset }
func (s *Slot) Elapsed() time.Duration { return time.Since(s.createdAt) }
func (s *Slot) LastActive() time.Time  { return s.lastActive }
func (s *Slot) IsUpload() bool         { return s.mode == hashfile.ModeWrite }

// Hash is the running digest of an open slot, or the frozen digest of a
// draining one.
func (s *Slot) Hash() string {
	if s.file != nil {
		return s.file.Hash()
	}
	return s.digest
}

// Read reads the next block of a download slot into p.
func (s *Slot) Read(p []byte) (int, error) {
	if s.file == nil || s.mode != hashfile.ModeRead {
		return 0, hashfile.ErrClosed
	}
	return s.file.Read(p)
}

// Write appends p to an upload slot.
func (s *Slot) Write(p []byte) (int, error) {
	if s.file == nil || s.mode != hashfile.ModeWrite {
		return 0, hashfile.ErrClosed
	}
	return s.file.Write(p)
}

// Info copies the slot's current state.
func (s *Slot) Info() Info {
	return Info{
		Handle:     s.handle,
		SessionID:  s.sessionID,
		Name:       s.name,
		Mode:       s.mode.String(),
		State:      s.state.String(),
		TotalSize:  s.totalSize,
		Offset:     s.offset,
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
	}
}
