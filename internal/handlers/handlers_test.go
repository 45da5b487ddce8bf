package handlers

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/The-Promised-Neverland/transporter/internal/config"
	"github.com/The-Promised-Neverland/transporter/internal/hashfile"
	"github.com/The-Promised-Neverland/transporter/internal/models"
	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/The-Promised-Neverland/transporter/internal/selection"
	"github.com/The-Promised-Neverland/transporter/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.TransferEvent
}

func (r *recordingSink) Publish(ev models.TransferEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixedSpace struct {
	free uint64
	err  error
}

func (f fixedSpace) FreeBytes() (uint64, error) { return f.free, f.err }

type env struct {
	dir   string
	h     *Handlers
	sink  *recordingSink
	table *transfer.Table
}

func newEnv(t *testing.T, capacity int, opts ...config.Option) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New(append([]config.Option{config.WithServeDir(dir)}, opts...)...)
	table := transfer.NewTable(capacity)
	sink := &recordingSink{}
	h := NewHandler(cfg, table, selection.New(dir), nil, sink)
	return &env{dir: dir, h: h, sink: sink, table: table}
}

func (e *env) write(t *testing.T, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), data, 0o644))
}

// req builds a request; string parts become text frames, []byte parts are raw.
func (e *env) req(parts ...any) [][]byte {
	frames := make([][]byte, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			frames = append(frames, protocol.Text(v))
		case []byte:
			frames = append(frames, v)
		case int:
			frames = append(frames, protocol.Int(int64(v)))
		}
	}
	return e.h.Process(frames)
}

func text(reply [][]byte, i int) string {
	return protocol.CString(reply[i])
}

func requireOK(t *testing.T, reply [][]byte) {
	t.Helper()
	require.NotEmpty(t, reply)
	require.Equal(t, "OK", text(reply, 0), "reply: %q", reply)
}

func requireErr(t *testing.T, reply [][]byte, msg string) {
	t.Helper()
	require.Len(t, reply, 3)
	require.Equal(t, "ERR", text(reply, 0))
	assert.Contains(t, text(reply, 1), msg)
}

func TestDownloadRoundTripDeletesSource(t *testing.T) {
	e := newEnv(t, 4)
	payload := bytes.Repeat([]byte("abcdefghij"), 300)
	e.write(t, "report.txt", payload)

	reply := e.req("GET", "report.txt", "", "")
	requireOK(t, reply)
	require.Len(t, reply, 4)
	assert.Equal(t, "report.txt", text(reply, 1))
	assert.Equal(t, "3000", text(reply, 2))
	id := text(reply, 3)
	require.NotEmpty(t, id)

	var got []byte
	for off := 0; off < 3000; off += 1000 {
		reply = e.req("XFR", id, off, 1000)
		requireOK(t, reply)
		require.Len(t, reply, 3)
		assert.Equal(t, "1000", text(reply, 2))
		got = append(got, reply[1]...)
	}
	assert.Equal(t, payload, got)

	reply = e.req("XFR", id, 3000, hashfile.HashBytes(got))
	requireOK(t, reply)
	assert.Equal(t, [][]byte{{'O', 'K', 0}, {0}, {0}}, reply)

	assert.NoFileExists(t, filepath.Join(e.dir, "report.txt"))
	_, ok := e.table.Find(id)
	assert.False(t, ok)
	assert.Equal(t, []string{models.EventNegotiated, models.EventCompleted}, e.sink.kinds())
}

func TestDownloadLastBlockIsShort(t *testing.T) {
	e := newEnv(t, 1)
	e.write(t, "f", []byte("hello world"))
	id := text(e.req("GET", "f", "", ""), 3)

	reply := e.req("XFR", id, 0, 8)
	requireOK(t, reply)
	assert.Equal(t, "hello wo", string(reply[1]))
	reply = e.req("XFR", id, 8, 8)
	requireOK(t, reply)
	assert.Equal(t, "rld", string(reply[1]))
	assert.Equal(t, "3", text(reply, 2))
}

func TestDownloadBadHashKeepsFile(t *testing.T) {
	e := newEnv(t, 1)
	e.write(t, "f", []byte("xyz"))
	id := text(e.req("GET", "f", "", ""), 3)
	requireOK(t, e.req("XFR", id, 0, 10))

	requireErr(t, e.req("XFR", id, 3, "deadbeef"), "INVALID HASH")
	assert.FileExists(t, filepath.Join(e.dir, "f"))
	_, ok := e.table.Find(id)
	assert.False(t, ok, "slot is released after a failed handshake")
}

func TestBadOffsetLeavesSlotUnchanged(t *testing.T) {
	e := newEnv(t, 1)
	e.write(t, "f", []byte("0123456789"))
	id := text(e.req("GET", "f", "", ""), 3)
	requireOK(t, e.req("XFR", id, 0, 4))

	requireErr(t, e.req("XFR", id, 0, 4), "BAD OFFSET")
	requireErr(t, e.req("XFR", id, 9, 4), "BAD OFFSET")

	reply := e.req("XFR", id, 4, 4)
	requireOK(t, reply)
	assert.Equal(t, "4567", string(reply[1]))
}

func TestPullBlockSizeLimits(t *testing.T) {
	e := newEnv(t, 1)
	e.write(t, "f", []byte("0123456789"))
	id := text(e.req("GET", "f", "", ""), 3)

	requireErr(t, e.req("XFR", id, 0, protocol.MaxChunkSize+1), "CHUNK REQ TOO LARGE")
	requireErr(t, e.req("XFR", id, 0, 0), "BAD BLOCKSIZE")
	requireErr(t, e.req("XFR", id, 0, "garbage"), "BAD BLOCKSIZE")

	slot, ok := e.table.Find(id)
	require.True(t, ok)
	assert.Zero(t, slot.Offset())
	requireOK(t, e.req("XFR", id, 0, protocol.MaxChunkSize))
}

func TestPullReadFailureReleasesSlot(t *testing.T) {
	e := newEnv(t, 1)
	path := filepath.Join(e.dir, "f")
	e.write(t, "f", []byte("0123456789"))
	id := text(e.req("GET", "f", "", ""), 3)
	require.NoError(t, os.Truncate(path, 0))

	requireErr(t, e.req("XFR", id, 0, 4), "READ FAILED")
	_, ok := e.table.Find(id)
	assert.False(t, ok)
	assert.FileExists(t, path)
}

func TestUploadRoundTrip(t *testing.T) {
	e := newEnv(t, 2)
	payload := bytes.Repeat([]byte("z"), 2500)

	reply := e.req("PUT", "", "up.bin", "2500")
	requireOK(t, reply)
	id := text(reply, 1)
	assert.Equal(t, "0", text(reply, 2))

	var last [][]byte
	for off := 0; off < len(payload); off += 1000 {
		end := min(off+1000, len(payload))
		last = e.req("PUT", id, payload[off:end], "")
		requireOK(t, last)
		assert.Equal(t, strconv.Itoa(end), text(last, 1))
		if end < len(payload) {
			assert.Empty(t, text(last, 2))
			assert.NoFileExists(t, filepath.Join(e.dir, "up.bin"), "upload stays hidden until complete")
		}
	}
	digest := text(last, 2)
	assert.Equal(t, hashfile.HashBytes(payload), digest)

	got, err := os.ReadFile(filepath.Join(e.dir, "up.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NoFileExists(t, transfer.PartPath(filepath.Join(e.dir, "up.bin")))

	slot, ok := e.table.Find(id)
	require.True(t, ok)
	assert.Equal(t, transfer.StateDraining, slot.State())

	requireOK(t, e.req("XFR", id, 2500, digest))
	_, ok = e.table.Find(id)
	assert.False(t, ok)
	assert.FileExists(t, filepath.Join(e.dir, "up.bin"), "confirmed upload is kept")
	assert.Equal(t, []string{models.EventNegotiated, models.EventCompleted, models.EventReleased}, e.sink.kinds())
}

func TestUploadConfirmationMismatchKeepsFile(t *testing.T) {
	e := newEnv(t, 1)
	id := text(e.req("PUT", "", "u", "3"), 1)
	requireOK(t, e.req("PUT", id, []byte("abc"), ""))

	requireErr(t, e.req("XFR", id, 3, "nope"), "INVALID HASH")
	assert.FileExists(t, filepath.Join(e.dir, "u"))
	_, ok := e.table.Find(id)
	assert.False(t, ok)
}

func TestUploadChunkOverrunRejected(t *testing.T) {
	e := newEnv(t, 1)
	id := text(e.req("PUT", "", "u", "4"), 1)
	requireOK(t, e.req("PUT", id, []byte("ab"), ""))

	requireErr(t, e.req("PUT", id, []byte("cde"), ""), "CHUNK OVERRUNS FILESIZE")
	slot, ok := e.table.Find(id)
	require.True(t, ok)
	assert.Equal(t, int64(2), slot.Offset())

	reply := e.req("PUT", id, []byte("cd"), "")
	requireOK(t, reply)
	assert.Equal(t, hashfile.HashBytes([]byte("abcd")), text(reply, 2))
	requireErr(t, e.req("PUT", id, []byte("x"), ""), "NOT AN OPEN UPLOAD")
}

func TestPutNegotiationRejects(t *testing.T) {
	e := newEnv(t, 1)
	cases := map[string][]any{
		"INVALID FILENAME":          {"PUT", "", "../escape", "10"},
		"INVALID FILENAME a/b":      {"PUT", "", "a/b", "10"},
		"INVALID FILENAME ../../":   {"PUT", "", "../../etc/passwd", "10"},
		"INVALID FILENAME ":         {"PUT", "", "", "10"},
		"INVALID FILENAME .x.tpad-": {"PUT", "", ".x.tpad-part", "10"},
		"BAD FILESIZE: 0":           {"PUT", "", "ok", "0"},
		"BAD FILESIZE: -5":          {"PUT", "", "ok", "-5"},
		"BAD FILESIZE: abc":         {"PUT", "", "ok", "abc"},
	}
	for msg, parts := range cases {
		requireErr(t, e.req(parts...), msg)
	}
	assert.Zero(t, e.table.Len())
}

func TestNoClobber(t *testing.T) {
	e := newEnv(t, 1, config.WithNoClobber(true))
	e.write(t, "exists", []byte("x"))
	requireErr(t, e.req("PUT", "", "exists", "1"), "Server will not clobber exists")
	requireOK(t, e.req("PUT", "", "fresh", "1"))

	e2 := newEnv(t, 1)
	e2.write(t, "exists", []byte("x"))
	requireOK(t, e2.req("PUT", "", "exists", "1"))
}

func TestInsufficientSpace(t *testing.T) {
	e := newEnv(t, 1)
	e.h.Space = fixedSpace{free: 100}
	requireErr(t, e.req("PUT", "", "big", "101"), "INSUFFICIENT SPACE")
	requireOK(t, e.req("PUT", "", "small", "100"))

	e2 := newEnv(t, 1)
	e2.h.Space = fixedSpace{err: errors.New("statfs failed")}
	requireOK(t, e2.req("PUT", "", "any", "1000"))
}

func TestTableFullRejectsNegotiation(t *testing.T) {
	e := newEnv(t, 1)
	e.write(t, "a", []byte("x"))
	e.write(t, "b", []byte("x"))
	requireOK(t, e.req("GET", "a", "", ""))
	requireErr(t, e.req("GET", "b", "", ""), "Could not get open xfer slot for b")
	requireErr(t, e.req("PUT", "", "c", "1"), "Could not get open xfer slot for c")
}

func TestFileBusy(t *testing.T) {
	e := newEnv(t, 2)
	requireOK(t, e.req("PUT", "", "u", "10"))
	requireErr(t, e.req("PUT", "", "u", "10"), "FILE BUSY")
}

func TestGetRejects(t *testing.T) {
	e := newEnv(t, 1)
	e.write(t, "empty", nil)
	require.NoError(t, os.Mkdir(filepath.Join(e.dir, "sub"), 0o755))

	requireErr(t, e.req("GET", "", "", ""), "INVALID FILENAME")
	requireErr(t, e.req("GET", string(bytes.Repeat([]byte("a"), 1025)), "", ""), "INVALID FILENAME")
	requireErr(t, e.req("GET", "../etc/passwd", "", ""), "INVALID FILENAME")
	requireErr(t, e.req("GET", "../../etc/passwd", "", ""), "INVALID FILENAME ../../etc/passwd")
	requireErr(t, e.req("GET", "a/b", "", ""), "INVALID FILENAME a/b")
	requireErr(t, e.req("GET", "missing", "", ""), "BAD FILESIZE: -1(missing)")
	requireErr(t, e.req("GET", "empty", "", ""), "BAD FILESIZE: 0(empty)")
	requireErr(t, e.req("GET", "sub", "", ""), "BAD FILESIZE")
	assert.Zero(t, e.table.Len())
}

func TestUnknownAndMissingSessions(t *testing.T) {
	e := newEnv(t, 1)
	requireErr(t, e.req("XFR", "nope", 0, 10), "UNKNOWN UUID: nope")
	requireErr(t, e.req("XFR", "", 0, 10), "MISSING SESSION")
	requireErr(t, e.req("PUT", "nope", []byte("x"), ""), "UNKNOWN UUID: nope")
}

func TestPullOnUploadRejected(t *testing.T) {
	e := newEnv(t, 1)
	id := text(e.req("PUT", "", "u", "10"), 1)
	requireErr(t, e.req("XFR", id, 0, 5), "NOT A DOWNLOAD")
}

func TestCommands(t *testing.T) {
	e := newEnv(t, 1)
	requireErr(t, e.req("CMD", protocol.SubRandom, "", ""), "ZERO FILES AVAILABLE")
	requireErr(t, e.req("CMD", protocol.SubLargest, "", ""), "ZERO FILES AVAILABLE")

	reply := e.req("CMD", protocol.SubCount, "", "")
	requireOK(t, reply)
	assert.Equal(t, "0", text(reply, 1))

	base := time.Unix(1_600_000_000, 0)
	for i, f := range []struct {
		name string
		size int
	}{{"a", 10}, {"b", 1000}, {"c", 500}} {
		e.write(t, f.name, make([]byte, f.size))
		mtime := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(e.dir, f.name), mtime, mtime))
	}

	reply = e.req("CMD", protocol.SubCount, "", "")
	requireOK(t, reply)
	assert.Equal(t, "3", text(reply, 1))
	assert.Equal(t, []byte{0}, reply[2])

	for sub, want := range map[string]string{
		protocol.SubLargest:  "b",
		protocol.SubSmallest: "a",
		protocol.SubOldest:   "a",
		protocol.SubNewest:   "c",
	} {
		reply = e.req("CMD", sub, "", "")
		requireOK(t, reply)
		assert.Equal(t, want, text(reply, 1), sub)
	}

	reply = e.req("CMD", protocol.SubRandom, "", "")
	requireOK(t, reply)
	assert.Contains(t, []string{"a", "b", "c"}, text(reply, 1))

	requireErr(t, e.req("CMD", "abcd", "", ""), "INVALID COMMAND")
	requireErr(t, e.req("CMD", "::waytoolongsubcommand()::", "", ""), "INVALID COMMAND")
	requireErr(t, e.req("CMD", "::filecounts()::", "", ""), "INVALID COMMAND")
}

func TestInvalidRequests(t *testing.T) {
	e := newEnv(t, 1)
	requireErr(t, e.req("CMD", protocol.SubCount, ""), "INVALID COMMAND")
	requireErr(t, e.req("GET", "a", "", "", ""), "INVALID COMMAND")
	requireErr(t, e.req("DEL", "a", "", ""), "INVALID COMMAND")
	requireErr(t, e.h.Process(nil), "INVALID COMMAND")
}

type captureSender struct {
	frames [][]byte
	more   []bool
}

func (c *captureSender) Send(frame []byte, more bool) error {
	c.frames = append(c.frames, frame)
	c.more = append(c.more, more)
	return nil
}

func TestHandleSendsAndShutsDown(t *testing.T) {
	e := newEnv(t, 2)
	e.write(t, "f", []byte("data"))

	s := &captureSender{}
	e.h.Handle(s, [][]byte{protocol.Text("GET"), protocol.Text("f"), {0}, {0}})
	require.Len(t, s.frames, 4)
	assert.Equal(t, []bool{true, true, true, false}, s.more)
	assert.Equal(t, 1, e.table.Len())

	e.h.Handle(s, nil)
	assert.Zero(t, e.table.Len())
	assert.FileExists(t, filepath.Join(e.dir, "f"))
}

func TestReclaimEventPublished(t *testing.T) {
	e := newEnv(t, 1)
	e.h.ReclaimEvent(transfer.Info{Name: "x", Mode: "write"}, transfer.ReasonIdle)
	require.Len(t, e.sink.events, 1)
	assert.Equal(t, models.EventReleased, e.sink.events[0].Kind)
	assert.Equal(t, "upload", e.sink.events[0].Direction)
	assert.Equal(t, transfer.ReasonIdle, e.sink.events[0].Reason)
}
