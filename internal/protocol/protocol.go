// Package protocol holds the wire vocabulary shared by the tpad server and its
// clients: command tags, status tokens, CMD sub-commands and frame helpers.
package protocol

import (
	"bytes"
	"errors"
	"os"
	"strconv"
	"strings"
)

// MaxChunkSize bounds a single XFR pull and the client block size.
const MaxChunkSize = 524288

// FrameCount is the number of frames in every request, tag included.
const FrameCount = 4

const (
	StatusOK  = "OK"
	StatusERR = "ERR"
)

const (
	CmdCMD = "CMD"
	CmdPUT = "PUT"
	CmdGET = "GET"
	CmdXFR = "XFR"
)

const (
	SubCount    = "::filecount()::"
	SubRandom   = "::randomfile()::"
	SubOldest   = "::oldestfile()::"
	SubNewest   = "::newestfile()::"
	SubLargest  = "::largestfile()::"
	SubSmallest = "::smallestfile()::"
)

const (
	MaxFilenameLen = 1024
	minSubCmdLen   = 5
	maxSubCmdLen   = 24
)

var (
	ErrEmptyFilename = errors.New("empty filename")
	ErrPathSeparator = errors.New("filename contains a path separator")
	ErrParentDir     = errors.New("filename contains a parent directory reference")
)

// CString returns the frame content up to the first NUL byte.
func CString(frame []byte) string {
	if i := bytes.IndexByte(frame, 0); i >= 0 {
		frame = frame[:i]
	}
	return string(frame)
}

// Text encodes s as a NUL-terminated text frame. Text("") is the single-NUL
// empty frame.
func Text(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

// Int encodes n as a NUL-terminated decimal text frame.
func Int(n int64) []byte {
	return Text(strconv.FormatInt(n, 10))
}

// Atol parses leading decimal digits with an optional sign, yielding 0 on
// malformed input.
func Atol(frame []byte) int64 {
	s := strings.TrimLeft(CString(frame), " \t\n\r\v\f")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// CheckFilename rejects names that could escape the served directory.
func CheckFilename(name string) error {
	if name == "" {
		return ErrEmptyFilename
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, os.PathSeparator) {
		return ErrPathSeparator
	}
	if strings.Contains(name, "..") {
		return ErrParentDir
	}
	return nil
}

// ValidSubCommandLen reports whether a CMD sub-command has a plausible length.
func ValidSubCommandLen(sub string) bool {
	return len(sub) >= minSubCmdLen && len(sub) <= maxSubCmdLen
}
