// Package client speaks the tpad protocol over a ZeroMQ REQ socket. It backs
// the beam (upload) and absorb (download) commands.
package client

import (
	"errors"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/The-Promised-Neverland/transporter/internal/protocol"
)

const DefaultTimeout = 30 * time.Second

// ServerError is an ERR reply.
type ServerError struct {
	Msg    string
	Detail string
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return e.Msg + ": " + e.Detail
	}
	return e.Msg
}

var ErrHashMismatch = errors.New("HASH ERROR")

type Options struct {
	BlockSize int
	// Timeout bounds every request; after a timeout the client is unusable.
	Timeout time.Duration
	// Confirm sends the final XFR after an upload so the server frees the
	// slot right away instead of keeping it until it is reclaimed.
	Confirm bool
	// Keep disables deleting a local file after a verified upload.
	Keep bool
	// Progress is called after every chunk.
	Progress func(name string, offset, total int64)
}

type Client struct {
	addr string
	opts Options
	ctx  *zmq.Context
	sock *zmq.Socket
}

func Dial(addr string, opts Options) (*Client, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 1000
	}
	if opts.BlockSize > protocol.MaxChunkSize {
		return nil, fmt.Errorf("block size %d exceeds %d", opts.BlockSize, protocol.MaxChunkSize)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("zmq context: %w", err)
	}
	sock, err := ctx.NewSocket(zmq.REQ)
	if err != nil {
		ctx.Term()
		return nil, fmt.Errorf("zmq socket: %w", err)
	}
	c := &Client{addr: addr, opts: opts, ctx: ctx, sock: sock}
	for _, set := range []func() error{
		func() error { return sock.SetLinger(0) },
		func() error { return sock.SetRcvtimeo(opts.Timeout) },
		func() error { return sock.SetSndtimeo(opts.Timeout) },
		func() error { return sock.Connect(addr) },
	} {
		if err := set(); err != nil {
			c.Close()
			return nil, fmt.Errorf("connect %s: %w", addr, err)
		}
	}
	return c, nil
}

func (c *Client) Addr() string { return c.addr }

func (c *Client) Close() error {
	if c.sock == nil {
		return nil
	}
	err := c.sock.Close()
	c.ctx.Term()
	c.sock = nil
	return err
}

// request sends a four frame request and returns the reply frames after the
// status. An ERR reply becomes a *ServerError.
func (c *Client) request(tag string, f1, f2, f3 []byte) ([][]byte, error) {
	if c.sock == nil {
		return nil, errors.New("client is closed")
	}
	if _, err := c.sock.SendMessage(protocol.Text(tag), f1, f2, f3); err != nil {
		return nil, fmt.Errorf("%s send: %w", tag, err)
	}
	reply, err := c.sock.RecvMessageBytes(0)
	if err != nil {
		return nil, fmt.Errorf("%s receive: %w", tag, err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("%s: empty reply", tag)
	}
	status := protocol.CString(reply[0])
	rest := reply[1:]
	switch status {
	case protocol.StatusOK:
		return rest, nil
	case protocol.StatusERR:
		se := &ServerError{}
		if len(rest) > 0 {
			se.Msg = protocol.CString(rest[0])
		}
		if len(rest) > 1 {
			se.Detail = protocol.CString(rest[1])
		}
		return nil, se
	default:
		return nil, fmt.Errorf("%s: unexpected status %q", tag, status)
	}
}

func frame(reply [][]byte, i int) []byte {
	if i < len(reply) {
		return reply[i]
	}
	return nil
}

var empty = protocol.Text("")

// Count asks how many files the server offers.
func (c *Client) Count() (int64, error) {
	reply, err := c.request(protocol.CmdCMD, protocol.Text(protocol.SubCount), empty, empty)
	if err != nil {
		return 0, err
	}
	return protocol.Atol(frame(reply, 0)), nil
}

// Pick asks the server to choose a file with one of the CMD selection
// sub-commands.
func (c *Client) Pick(sub string) (string, error) {
	reply, err := c.request(protocol.CmdCMD, protocol.Text(sub), empty, empty)
	if err != nil {
		return "", err
	}
	return protocol.CString(frame(reply, 0)), nil
}
