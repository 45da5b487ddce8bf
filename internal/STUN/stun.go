// Package stun learns the public address of the host from a STUN server so
// the monitor can advertise where clients outside the NAT should point -Z.
package stun

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	"github.com/pion/stun/v2"
)

const (
	defaultPort    = "3478"
	resolveTimeout = 10 * time.Second
)

// Resolver keeps the last mapped address reported by one STUN server.
type Resolver struct {
	server string

	mu      sync.RWMutex
	mapped  string
	checked time.Time
	lastErr error
}

// NewResolver accepts "host" or "host:port"; the port defaults to 3478.
func NewResolver(server string) *Resolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, defaultPort)
	}
	return &Resolver{server: server}
}

func (r *Resolver) Server() string { return r.server }

// Mapped returns the last public ip:port and when it was seen, or "" before
// the first successful binding.
func (r *Resolver) Mapped() (string, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mapped, r.checked
}

// Err is the error of the latest attempt, nil after a success.
func (r *Resolver) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Resolve sends one binding request. Cancelling ctx aborts it.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", r.server)
	if err != nil {
		return "", r.fail(fmt.Errorf("dial %s: %w", r.server, err))
	}
	c, err := stun.NewClient(conn)
	if err != nil {
		conn.Close()
		return "", r.fail(fmt.Errorf("stun client: %w", err))
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	var addr stun.XORMappedAddress
	var eventErr error
	err = c.Do(stun.MustBuild(stun.TransactionID, stun.BindingRequest), func(ev stun.Event) {
		if ev.Error != nil {
			eventErr = ev.Error
			return
		}
		eventErr = addr.GetFrom(ev.Message)
	})
	if err == nil {
		err = eventErr
	}
	if err != nil {
		return "", r.fail(fmt.Errorf("binding request to %s: %w", r.server, err))
	}

	mapped := addr.String()
	r.mu.Lock()
	prev := r.mapped
	r.mapped, r.checked, r.lastErr = mapped, time.Now(), nil
	r.mu.Unlock()
	if prev != mapped {
		logger.Log.Info("Public address changed", "address", mapped, "previous", prev, "server", r.server)
	}
	return mapped, nil
}

func (r *Resolver) fail(err error) error {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
	return err
}

// Run resolves once, then every interval until ctx is done.
func (r *Resolver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Resolve(ctx); err != nil && ctx.Err() == nil {
			logger.Log.Warn("STUN resolve failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Advertise puts the public IP of mapped in front of the port of a bound tcp
// ZeroMQ endpoint. It returns "" when either side gives nothing usable.
func Advertise(mapped, endpoint string) string {
	ip, _, err := net.SplitHostPort(mapped)
	if err != nil {
		return ""
	}
	hostPort, ok := strings.CutPrefix(endpoint, "tcp://")
	if !ok {
		return ""
	}
	i := strings.LastIndexByte(hostPort, ':')
	if i < 0 {
		return ""
	}
	port := hostPort[i+1:]
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return ""
	}
	return "tcp://" + net.JoinHostPort(ip, port)
}
