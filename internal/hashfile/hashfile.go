// Package hashfile wraps an *os.File with a running WHIRLPOOL digest over
// every byte read from or written to it.
package hashfile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"github.com/jzelinskie/whirlpool"
)

// HashSize is the length of a hex encoded digest.
const HashSize = 128

type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

var ErrClosed = errors.New("hashfile: file is not open")

type File struct {
	path      string
	mode      Mode
	f         *os.File
	h         hash.Hash
	bytes     int64
	started   time.Time
	finalHash string
}

// Open opens path for reading, or creates/truncates it for writing.
func Open(path string, mode Mode) (*File, error) {
	var (
		f   *os.File
		err error
	)
	switch mode {
	case ModeRead:
		f, err = os.Open(path)
	case ModeWrite:
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	default:
		return nil, fmt.Errorf("hashfile: unknown mode %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s (%s): %w", path, mode, err)
	}
	return &File{
		path:    path,
		mode:    mode,
		f:       f,
		h:       whirlpool.New(),
		started: time.Now(),
	}, nil
}

func (gf *File) Path() string { return gf.path }

func (gf *File) Mode() Mode { return gf.mode }

func (gf *File) IsOpen() bool { return gf.f != nil }

// Read fills p from the file. Unlike io.Reader it reports a short read at end
// of file as (n, nil) and a read of nothing as an error.
func (gf *File) Read(p []byte) (int, error) {
	if gf.f == nil {
		return 0, ErrClosed
	}
	n, err := io.ReadFull(gf.f, p)
	if n > 0 {
		gf.h.Write(p[:n])
		gf.bytes += int64(n)
	}
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return 0, fmt.Errorf("read %s: %w", gf.path, err)
	}
	return n, nil
}

// Write writes p and feeds the digest only when every byte landed.
func (gf *File) Write(p []byte) (int, error) {
	if gf.f == nil {
		return 0, ErrClosed
	}
	n, err := gf.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", gf.path, err)
	}
	gf.h.Write(p[:n])
	gf.bytes += int64(n)
	return n, nil
}

// Hash returns the lowercase hex digest of everything transferred so far.
// After Close it returns the digest frozen at close time.
func (gf *File) Hash() string {
	if gf.f == nil {
		return gf.finalHash
	}
	return hex.EncodeToString(gf.h.Sum(nil))
}

func (gf *File) Bytecount() int64 { return gf.bytes }

func (gf *File) Duration() time.Duration { return time.Since(gf.started) }

// Close closes the file and freezes the digest. Closing twice is a no-op.
func (gf *File) Close() error {
	if gf.f == nil {
		return nil
	}
	gf.finalHash = hex.EncodeToString(gf.h.Sum(nil))
	err := gf.f.Close()
	gf.f = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", gf.path, err)
	}
	return nil
}

// HashFile computes the digest of a whole file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := whirlpool.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the digest of b.
func HashBytes(b []byte) string {
	h := whirlpool.New()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
