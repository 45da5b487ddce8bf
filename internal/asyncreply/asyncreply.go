// Package asyncreply runs a ZeroMQ REP socket on its own goroutine and hands
// every inbound multi-frame request to a handler, which answers through Send.
package asyncreply

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/The-Promised-Neverland/transporter/pkg/logger"
)

var ErrClosed = errors.New("asyncreply: socket closed")

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultHWM          = 1000
)

// Handler receives one request. frames is nil exactly once, after the loop
// stopped, so the handler can release what it holds.
type Handler func(r *Reply, frames [][]byte)

type Options struct {
	// Connect dials addr instead of binding it.
	Connect      bool
	RecvHWM      int
	SendHWM      int
	PollInterval time.Duration
}

type Reply struct {
	addr    string
	ctx     *zmq.Context
	sock    *zmq.Socket
	handler Handler
	poll    time.Duration

	closing  atomic.Bool
	done     chan struct{}
	destroy  sync.Once
	inReply  bool
	terminal bool
}

// Create builds the socket, binds or connects it and starts the receive loop.
func Create(addr string, handler Handler, opts Options) (*Reply, error) {
	if handler == nil {
		return nil, errors.New("asyncreply: nil handler")
	}
	if opts.RecvHWM <= 0 {
		opts.RecvHWM = defaultHWM
	}
	if opts.SendHWM <= 0 {
		opts.SendHWM = defaultHWM
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("zmq context: %w", err)
	}
	sock, err := ctx.NewSocket(zmq.REP)
	if err != nil {
		ctx.Term()
		return nil, fmt.Errorf("zmq socket: %w", err)
	}
	fail := func(step string, err error) (*Reply, error) {
		sock.Close()
		ctx.Term()
		return nil, fmt.Errorf("%s %s: %w", step, addr, err)
	}
	if err := sock.SetLinger(0); err != nil {
		return fail("set linger", err)
	}
	if err := sock.SetRcvhwm(opts.RecvHWM); err != nil {
		return fail("set rcvhwm", err)
	}
	if err := sock.SetSndhwm(opts.SendHWM); err != nil {
		return fail("set sndhwm", err)
	}
	if opts.Connect {
		err = sock.Connect(addr)
	} else {
		err = sock.Bind(addr)
	}
	if err != nil {
		if opts.Connect {
			return fail("connect", err)
		}
		return fail("bind", err)
	}

	r := &Reply{
		addr:    addr,
		ctx:     ctx,
		sock:    sock,
		handler: handler,
		poll:    opts.PollInterval,
		done:    make(chan struct{}),
	}
	if ep, err := sock.GetLastEndpoint(); err == nil && ep != "" {
		r.addr = ep
	}
	go r.loop()
	logger.Log.Info("Reply socket ready", "endpoint", r.addr, "connect", opts.Connect)
	return r, nil
}

// Endpoint is the resolved address, e.g. with the wildcard port filled in.
func (r *Reply) Endpoint() string { return r.addr }

// Send writes one frame of the reply to the request being handled. It must
// only be called from inside the handler.
func (r *Reply) Send(frame []byte, more bool) error {
	if r.terminal || !r.inReply {
		return ErrClosed
	}
	flag := zmq.Flag(0)
	if more {
		flag = zmq.SNDMORE
	}
	if _, err := r.sock.SendBytes(frame, flag); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if !more {
		r.inReply = false
	}
	return nil
}

// SendFrames sends a whole reply.
func (r *Reply) SendFrames(frames ...[]byte) error {
	if len(frames) == 0 {
		return errors.New("asyncreply: empty reply")
	}
	for i, f := range frames {
		if err := r.Send(f, i < len(frames)-1); err != nil {
			return err
		}
	}
	return nil
}

// Destroy stops the loop after the request in progress, waits for the
// terminal handler call and releases the socket.
func (r *Reply) Destroy() error {
	err := ErrClosed
	r.destroy.Do(func() {
		r.closing.Store(true)
		<-r.done
		r.sock.Close()
		r.ctx.Term()
		logger.Log.Info("Reply socket closed", "endpoint", r.addr)
		err = nil
	})
	return err
}

// Done is closed once the loop has exited, whether by Destroy or a socket
// error.
func (r *Reply) Done() <-chan struct{} { return r.done }

func (r *Reply) loop() {
	defer close(r.done)
	poller := zmq.NewPoller()
	poller.Add(r.sock, zmq.POLLIN)

	for !r.closing.Load() {
		polled, err := poller.Poll(r.poll)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EINTR) {
				continue
			}
			logger.Log.Error("Poll failed, stopping reply loop", "endpoint", r.addr, "err", err)
			break
		}
		if len(polled) == 0 {
			continue
		}
		frames, err := r.sock.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EINTR) {
				continue
			}
			logger.Log.Error("Receive failed, stopping reply loop", "endpoint", r.addr, "err", err)
			break
		}
		r.inReply = true
		r.handler(r, frames)
		if r.inReply {
			// REP cannot receive again until it has replied.
			logger.Log.Error("Handler left request unanswered", "endpoint", r.addr, "frames", len(frames))
			if _, err := r.sock.SendBytes(nil, 0); err != nil {
				logger.Log.Error("Failed to unblock reply socket", "endpoint", r.addr, "err", err)
			}
			r.inReply = false
		}
	}

	r.terminal = true
	r.handler(r, nil)
}
