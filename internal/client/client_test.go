package client

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/The-Promised-Neverland/transporter/internal/asyncreply"
	"github.com/The-Promised-Neverland/transporter/internal/config"
	"github.com/The-Promised-Neverland/transporter/internal/handlers"
	"github.com/The-Promised-Neverland/transporter/internal/hashfile"
	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/The-Promised-Neverland/transporter/internal/selection"
	"github.com/The-Promised-Neverland/transporter/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	dir   string
	table *transfer.Table
	addr  string
}

func startServer(t *testing.T, opts ...config.Option) *server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New(append([]config.Option{config.WithServeDir(dir)}, opts...)...)
	table := transfer.NewTable(4)
	h := handlers.NewHandler(cfg, table, selection.New(dir), nil, nil)
	r, err := asyncreply.Create("tcp://127.0.0.1:*", func(r *asyncreply.Reply, frames [][]byte) {
		h.Handle(r, frames)
	}, asyncreply.Options{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { r.Destroy() })
	return &server{dir: dir, table: table, addr: r.Endpoint()}
}

func dial(t *testing.T, addr string, opts Options) *Client {
	t.Helper()
	c, err := Dial(addr, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestCountAndPick(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv.addr, Options{Timeout: 5 * time.Second})

	n, err := c.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = c.Pick(protocol.SubLargest)
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "ZERO FILES AVAILABLE", se.Msg)

	writeFile(t, srv.dir, "a", []byte("1"))
	writeFile(t, srv.dir, "b", []byte("12345"))
	n, err = c.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	name, err := c.Pick(protocol.SubLargest)
	require.NoError(t, err)
	assert.Equal(t, "b", name)
}

func TestPutUploadsAndDeletesLocal(t *testing.T) {
	srv := startServer(t)
	local := t.TempDir()
	payload := bytes.Repeat([]byte("0123456789"), 250)
	path := writeFile(t, local, "upload.bin", payload)

	var offsets []int64
	c := dial(t, srv.addr, Options{
		BlockSize: 1000,
		Confirm:   true,
		Timeout:   5 * time.Second,
		Progress:  func(_ string, off, _ int64) { offsets = append(offsets, off) },
	})
	res, err := c.Put(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{1000, 2000, 2500}, offsets)
	assert.Equal(t, hashfile.HashBytes(payload), res.Digest)
	assert.True(t, res.Deleted)
	assert.NoFileExists(t, path)

	got, err := os.ReadFile(filepath.Join(srv.dir, "upload.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Zero(t, srv.table.Len(), "confirmed upload should free its slot")
}

func TestPutKeepAndNoClobber(t *testing.T) {
	srv := startServer(t, config.WithNoClobber(true))
	writeFile(t, srv.dir, "taken", []byte("old"))
	local := t.TempDir()

	c := dial(t, srv.addr, Options{Keep: true, Timeout: 5 * time.Second})
	_, err := c.Put(writeFile(t, local, "taken", []byte("new")))
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Server will not clobber taken", se.Msg)

	path := writeFile(t, local, "fresh", []byte("data"))
	res, err := c.Put(path)
	require.NoError(t, err)
	assert.False(t, res.Deleted)
	assert.FileExists(t, path)
	assert.Equal(t, 1, srv.table.Len(), "unconfirmed upload drains until reclaimed")
}

func TestPutDirReportsEachFile(t *testing.T) {
	srv := startServer(t)
	local := t.TempDir()
	writeFile(t, local, "one", []byte("1"))
	writeFile(t, local, "two", []byte("22"))
	writeFile(t, local, "empty", nil)
	writeFile(t, local, ".hidden", []byte("x"))

	c := dial(t, srv.addr, Options{Confirm: true, Timeout: 5 * time.Second})
	var names []string
	failed := map[string]error{}
	require.NoError(t, c.PutDir(local, func(name string, _ *Result, err error) {
		names = append(names, name)
		if err != nil {
			failed[name] = err
		}
	}))
	assert.Equal(t, []string{"empty", "one", "two"}, names)
	require.Contains(t, failed, "empty")
	assert.Len(t, failed, 1)
	assert.FileExists(t, filepath.Join(srv.dir, "one"))
	assert.FileExists(t, filepath.Join(srv.dir, "two"))
}

func TestGetDownloadsAndServerDeletes(t *testing.T) {
	srv := startServer(t)
	payload := bytes.Repeat([]byte("abcdefghij"), 300)
	writeFile(t, srv.dir, "report.txt", payload)
	local := t.TempDir()

	c := dial(t, srv.addr, Options{BlockSize: 1000, Timeout: 5 * time.Second})
	res, err := c.Get("report.txt", local)
	require.NoError(t, err)
	assert.EqualValues(t, 3000, res.Size)
	assert.Equal(t, hashfile.HashBytes(payload), res.Digest)

	got, err := os.ReadFile(filepath.Join(local, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NoFileExists(t, filepath.Join(srv.dir, "report.txt"))
	assert.NoFileExists(t, transfer.PartPath(filepath.Join(local, "report.txt")))
	assert.Zero(t, srv.table.Len())
}

func TestGetKeepsPartFileWhenRenameFails(t *testing.T) {
	srv := startServer(t)
	payload := bytes.Repeat([]byte("x"), 1500)
	writeFile(t, srv.dir, "report.txt", payload)
	local := t.TempDir()
	final := filepath.Join(local, "report.txt")
	require.NoError(t, os.Mkdir(final, 0o755))
	writeFile(t, final, "occupant", []byte("o"))

	c := dial(t, srv.addr, Options{BlockSize: 1000, Timeout: 5 * time.Second})
	res, err := c.Get("report.txt", local)
	require.Error(t, err)
	part := transfer.PartPath(final)
	assert.Contains(t, err.Error(), part)
	require.NotNil(t, res)
	assert.True(t, res.Deleted)

	got, err := os.ReadFile(part)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NoFileExists(t, filepath.Join(srv.dir, "report.txt"))
}

func TestGetMissingFile(t *testing.T) {
	srv := startServer(t)
	local := t.TempDir()
	c := dial(t, srv.addr, Options{Timeout: 5 * time.Second})
	_, err := c.Get("nope", local)
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Msg, "BAD FILESIZE")

	entries, err := os.ReadDir(local)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAbsorbDrainsServer(t *testing.T) {
	srv := startServer(t)
	writeFile(t, srv.dir, "small", []byte("s"))
	writeFile(t, srv.dir, "medium", bytes.Repeat([]byte("m"), 50))
	writeFile(t, srv.dir, "large", bytes.Repeat([]byte("l"), 5000))
	local := t.TempDir()

	c := dial(t, srv.addr, Options{BlockSize: 512, Timeout: 5 * time.Second})
	var order []string
	n, err := c.Absorb(local, protocol.SubLargest, func(res *Result) { order = append(order, res.Name) })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"large", "medium", "small"}, order)

	left, err := selection.Scan(srv.dir)
	require.NoError(t, err)
	assert.Empty(t, left)
	for _, name := range order {
		assert.FileExists(t, filepath.Join(local, name))
	}
}

func TestDialRejectsHugeBlockSize(t *testing.T) {
	_, err := Dial("tcp://127.0.0.1:1", Options{BlockSize: protocol.MaxChunkSize + 1})
	assert.Error(t, err)
}

func TestServerErrorText(t *testing.T) {
	assert.Equal(t, "READ FAILED: boom", (&ServerError{Msg: "READ FAILED", Detail: "boom"}).Error())
	assert.Equal(t, "INVALID HASH", (&ServerError{Msg: "INVALID HASH"}).Error())
	assert.False(t, errors.Is(&ServerError{}, ErrHashMismatch))
}
