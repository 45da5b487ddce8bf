package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/transporter/internal/hashfile"
	"github.com/The-Promised-Neverland/transporter/pkg/idcommands"
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
)

// PartSuffix marks an upload that has not reached its declared size.
const PartSuffix = ".tpad-part"

type Option func(*Table)

// WithIdleTimeout reclaims open slots untouched for longer than d. Zero
// disables reclamation.
func WithIdleTimeout(d time.Duration) Option {
	return func(t *Table) { t.idleTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

func WithIDMinter(mint func(inUse func(string) bool) (string, error)) Option {
	return func(t *Table) { t.mintID = mint }
}

// WithReclaimHook is called, outside the table lock, for every slot the table
// releases on its own (idle, drained eviction, shutdown).
func WithReclaimHook(hook func(info Info, reason string)) Option {
	return func(t *Table) { t.onReclaim = hook }
}

// Table is a fixed-capacity arena of transfer slots indexed by handle, with a
// session id to handle map for lookups.
type Table struct {
	mu          sync.Mutex
	slots       []Slot
	free        []int
	byID        map[string]int
	idleTimeout time.Duration
	now         func() time.Time
	mintID      func(inUse func(string) bool) (string, error)
	onReclaim   func(info Info, reason string)
}

func NewTable(capacity int, opts ...Option) *Table {
	if capacity < 1 {
		capacity = 1
	}
	t := &Table{
		slots:  make([]Slot, capacity),
		free:   make([]int, 0, capacity),
		byID:   make(map[string]int, capacity),
		now:    time.Now,
		mintID: idcommands.NewSessionID,
	}
	for i := capacity - 1; i >= 0; i-- {
		t.slots[i].handle = i
		t.free = append(t.free, i)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// PartPath is where an upload of path is written until it completes.
func PartPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+PartSuffix)
}

// Allocate claims a free slot for name (stored at path on disk), opens the
// file with hashing enabled and mints a session id. Uploads are written to
// PartPath(path) until Drain commits them.
func (t *Table) Allocate(name, path string, mode hashfile.Mode, size int64) (*Slot, error) {
	t.mu.Lock()
	var reclaimed []reclaim
	defer func() {
		t.mu.Unlock()
		t.fireReclaimed(reclaimed)
	}()

	now := t.now()
	reclaimed = append(reclaimed, t.reclaimIdleLocked(now)...)
	if len(t.free) == 0 {
		reclaimed = append(reclaimed, t.reclaimDrainedLocked()...)
	}
	if len(t.free) == 0 {
		return nil, ErrNoFreeSlot
	}
	if t.pathBusyLocked(path, mode) {
		return nil, ErrPathBusy
	}

	openPath := path
	partPath := ""
	if mode == hashfile.ModeWrite {
		partPath = PartPath(path)
		openPath = partPath
	}
	f, err := hashfile.Open(openPath, mode)
	if err != nil {
		return nil, err
	}
	id, err := t.mintID(func(candidate string) bool {
		_, taken := t.byID[candidate]
		return taken || candidate == ""
	})
	if err != nil {
		_ = f.Close()
		if partPath != "" {
			_ = os.Remove(partPath)
		}
		return nil, err
	}

	h := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	s := &t.slots[h]
	*s = Slot{
		handle:     h,
		sessionID:  id,
		name:       name,
		path:       path,
		partPath:   partPath,
		mode:       mode,
		state:      StateOpen,
		totalSize:  size,
		file:       f,
		createdAt:  now,
		lastActive: now,
	}
	t.byID[id] = h
	return s, nil
}

// Find returns the live slot holding sessionID.
func (t *Table) Find(sessionID string) (*Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byID[sessionID]
	if !ok {
		return nil, false
	}
	return &t.slots[h], true
}

// Advance records n more bytes moved through s.
func (t *Table) Advance(s *Slot, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.offset += n
	s.lastActive = t.now()
}

// Drain finishes an upload that reached its declared size: the file is
// closed, moved onto its final name and the digest frozen. The slot stays
// live in StateDraining until Complete.
func (t *Table) Drain(s *Slot) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.state != StateOpen || s.mode != hashfile.ModeWrite {
		return "", fmt.Errorf("drain %s: slot is %s/%s", s.name, s.mode, s.state)
	}
	if s.offset != s.totalSize {
		return "", ErrNotComplete
	}
	if err := s.file.Close(); err != nil {
		return "", err
	}
	s.digest = s.file.Hash()
	s.file = nil
	if err := os.Rename(s.partPath, s.path); err != nil {
		return "", fmt.Errorf("commit %s: %w", s.name, err)
	}
	s.partPath = ""
	s.state = StateDraining
	s.lastActive = t.now()
	return s.digest, nil
}

// Complete closes the slot's file, removes an unfinished upload's part file,
// optionally deletes the file itself and returns the slot to the free pool.
func (t *Table) Complete(s *Slot, deleteFile bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.releaseLocked(s, deleteFile)
}

func (t *Table) releaseLocked(s *Slot, deleteFile bool) error {
	if s.state == StateFree {
		return ErrUnknownSession
	}
	var errs []error
	if s.file != nil {
		errs = append(errs, s.file.Close())
	}
	if s.partPath != "" {
		if err := os.Remove(s.partPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if deleteFile {
		if err := os.Remove(s.path); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", s.name, err))
		}
	}
	delete(t.byID, s.sessionID)
	h := s.handle
	*s = Slot{handle: h}
	t.free = append(t.free, h)
	return errors.Join(errs...)
}

// Close releases every live slot without deleting any served file.
func (t *Table) Close() int {
	t.mu.Lock()
	var released []reclaim
	for _, h := range t.byID {
		s := &t.slots[h]
		info := s.Info()
		if err := t.releaseLocked(s, false); err != nil {
			logger.Log.Warn("Failed to release slot on shutdown", "name", info.Name, "err", err)
		}
		released = append(released, reclaim{info, ReasonShutdown})
	}
	t.mu.Unlock()
	t.fireReclaimed(released)
	return len(released)
}

// ReclaimIdle releases open slots that exceeded the idle timeout.
func (t *Table) ReclaimIdle() int {
	t.mu.Lock()
	reclaimed := t.reclaimIdleLocked(t.now())
	t.mu.Unlock()
	t.fireReclaimed(reclaimed)
	return len(reclaimed)
}

type reclaim struct {
	info   Info
	reason string
}

func (t *Table) reclaimIdleLocked(now time.Time) []reclaim {
	if t.idleTimeout <= 0 {
		return nil
	}
	var out []reclaim
	for _, h := range t.byID {
		s := &t.slots[h]
		if now.Sub(s.lastActive) <= t.idleTimeout {
			continue
		}
		info := s.Info()
		if err := t.releaseLocked(s, false); err != nil {
			logger.Log.Warn("Failed to reclaim idle slot", "name", info.Name, "err", err)
		}
		out = append(out, reclaim{info, ReasonIdle})
	}
	return out
}

// reclaimDrainedLocked evicts the least recently active draining upload; its
// digest was already delivered with the last chunk.
func (t *Table) reclaimDrainedLocked() []reclaim {
	victim := -1
	for _, h := range t.byID {
		s := &t.slots[h]
		if s.state != StateDraining {
			continue
		}
		if victim < 0 || s.lastActive.Before(t.slots[victim].lastActive) {
			victim = h
		}
	}
	if victim < 0 {
		return nil
	}
	s := &t.slots[victim]
	info := s.Info()
	if err := t.releaseLocked(s, false); err != nil {
		logger.Log.Warn("Failed to evict drained slot", "name", info.Name, "err", err)
	}
	return []reclaim{{info, ReasonDrained}}
}

func (t *Table) pathBusyLocked(path string, mode hashfile.Mode) bool {
	for _, h := range t.byID {
		s := &t.slots[h]
		if s.path != path || s.state != StateOpen {
			continue
		}
		if mode == hashfile.ModeWrite || s.mode == hashfile.ModeWrite {
			return true
		}
	}
	return false
}

func (t *Table) fireReclaimed(reclaimed []reclaim) {
	for _, r := range reclaimed {
		logger.Log.Info("Transfer slot reclaimed", "session", r.info.SessionID, "name", r.info.Name, "reason", r.reason)
		if t.onReclaim != nil {
			t.onReclaim(r.info, r.reason)
		}
	}
}

// Snapshot copies every live slot, ordered by handle.
func (t *Table) Snapshot() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Info, 0, len(t.byID))
	for i := range t.slots {
		if t.slots[i].state != StateFree {
			out = append(out, t.slots[i].Info())
		}
	}
	return out
}

// Len is the number of live slots.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

func (t *Table) Cap() int { return len(t.slots) }
