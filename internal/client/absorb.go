package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/The-Promised-Neverland/transporter/internal/hashfile"
	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/The-Promised-Neverland/transporter/internal/transfer"
)

// Get downloads name into dir. A completed download is confirmed with its
// digest, after which the server deletes its copy. The local file only
// appears under its final name once the server has accepted the digest.
func (c *Client) Get(name, dir string) (*Result, error) {
	reply, err := c.request(protocol.CmdGET, protocol.Text(name), empty, empty)
	if err != nil {
		return nil, err
	}
	name = protocol.CString(frame(reply, 0))
	size := protocol.Atol(frame(reply, 1))
	id := protocol.CString(frame(reply, 2))
	if err := protocol.CheckFilename(name); err != nil {
		return nil, fmt.Errorf("GET: server sent bad filename %q: %w", name, err)
	}

	final := filepath.Join(dir, name)
	part := transfer.PartPath(final)
	f, err := hashfile.Open(part, hashfile.ModeWrite)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		f.Close()
		if !committed {
			os.Remove(part)
		}
	}()

	bs := protocol.Int(int64(c.opts.BlockSize))
	for off := int64(0); off < size; {
		reply, err := c.request(protocol.CmdXFR, protocol.Text(id), protocol.Int(off), bs)
		if err != nil {
			return nil, err
		}
		data := frame(reply, 0)
		n := protocol.Atol(frame(reply, 1))
		if n <= 0 || n > int64(len(data)) || off+n > size {
			return nil, fmt.Errorf("XFR: bad chunk length %d", n)
		}
		if _, err := f.Write(data[:n]); err != nil {
			return nil, err
		}
		off += n
		if c.opts.Progress != nil {
			c.opts.Progress(name, off, size)
		}
	}

	res := &Result{Name: name, Size: size, Digest: f.Hash(), Duration: f.Duration()}
	if err := f.Close(); err != nil {
		return nil, err
	}
	if _, err := c.request(protocol.CmdXFR, protocol.Text(id), protocol.Int(size), protocol.Text(res.Digest)); err != nil {
		var se *ServerError
		if errors.As(err, &se) && se.Msg == "INVALID HASH" {
			return res, ErrHashMismatch
		}
		return res, err
	}
	// The server has dropped its copy; the part file is all that is left.
	committed = true
	res.Deleted = true
	if err := os.Rename(part, final); err != nil {
		return res, fmt.Errorf("download kept as %s: %w", part, err)
	}
	return res, nil
}

// Absorb downloads files chosen by method until the server is empty or a
// transfer fails. It returns how many files were received.
func (c *Client) Absorb(dir, method string, each func(res *Result)) (int, error) {
	received := 0
	for {
		n, err := c.Count()
		if err != nil {
			return received, err
		}
		if n <= 0 {
			return received, nil
		}
		name, err := c.Pick(method)
		if err != nil {
			return received, err
		}
		res, err := c.Get(name, dir)
		if err != nil {
			return received, fmt.Errorf("%s: %w", name, err)
		}
		received++
		if each != nil {
			each(res)
		}
	}
}
