package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/The-Promised-Neverland/transporter/internal/hashfile"
	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/The-Promised-Neverland/transporter/internal/selection"
	"github.com/The-Promised-Neverland/transporter/pkg/stats"
)

// Result describes one finished transfer.
type Result struct {
	Name     string
	Size     int64
	Digest   string
	Duration time.Duration
	// Deleted reports that the source copy is gone: the local file after
	// an upload, the server's file after a download.
	Deleted bool
}

func (r *Result) Stats() string { return stats.Format(r.Size, r.Duration) }

// Put uploads the file at path under its base name. The upload is verified
// against the digest in the last reply; a verified file is removed locally
// unless Options.Keep is set.
func (c *Client) Put(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	name := filepath.Base(path)
	size := info.Size()

	f, err := hashfile.Open(path, hashfile.ModeRead)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reply, err := c.request(protocol.CmdPUT, empty, protocol.Text(name), protocol.Int(size))
	if err != nil {
		return nil, err
	}
	id := protocol.CString(frame(reply, 0))
	if id == "" {
		return nil, errors.New("PUT: server returned no session id")
	}

	res := &Result{Name: name, Size: size}
	buf := make([]byte, c.opts.BlockSize)
	var remote string
	for off := int64(0); off < size; {
		n, err := f.Read(buf[:min(int64(len(buf)), size-off)])
		if err != nil {
			return nil, err
		}
		reply, err := c.request(protocol.CmdPUT, protocol.Text(id), buf[:n], empty)
		if err != nil {
			return nil, err
		}
		off = protocol.Atol(frame(reply, 0))
		remote = protocol.CString(frame(reply, 1))
		if c.opts.Progress != nil {
			c.opts.Progress(name, off, size)
		}
		if remote != "" {
			break
		}
	}
	res.Duration = f.Duration()
	res.Digest = f.Hash()
	if remote != res.Digest {
		return res, ErrHashMismatch
	}

	if c.opts.Confirm {
		if _, err := c.request(protocol.CmdXFR, protocol.Text(id), protocol.Int(size), protocol.Text(res.Digest)); err != nil {
			return res, err
		}
	}
	if !c.opts.Keep {
		f.Close()
		if err := os.Remove(path); err != nil {
			return res, err
		}
		res.Deleted = true
	}
	return res, nil
}

// PutDir uploads every file of dir in name order. Per-file failures are
// reported to each and do not stop the walk.
func (c *Client) PutDir(dir string, each func(name string, res *Result, err error)) error {
	entries, err := selection.Scan(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		res, err := c.Put(filepath.Join(dir, e.Name))
		if each != nil {
			each(e.Name, res, err)
		}
	}
	return nil
}
