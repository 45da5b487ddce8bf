// Package monitor exposes the daemon's live state over HTTP and streams
// transfer events to websocket subscribers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	"github.com/gin-gonic/gin"
)

type Server struct {
	Hub  *Hub
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

func NewServer(addr string, deps Deps, hub *Hub) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(NewHandler(deps, hub)).SetupRouter()
	return &Server{
		Hub: hub,
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		done: make(chan struct{}),
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("monitor listen %s: %w", s.srv.Addr, err)
	}
	s.ln = ln
	logger.Log.Info("Monitor listening", "addr", ln.Addr().String())
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("❌ Monitor server stopped", "err", err)
		}
	}()
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	s.Hub.Close()
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
