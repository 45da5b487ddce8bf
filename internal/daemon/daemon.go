package daemon

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	kardianos "github.com/kardianos/service"
)

// Daemon adapts Application to the kardianos service lifecycle.
type Daemon struct {
	app       *Application
	appCtx    context.Context
	appCancel context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
	started   atomic.Bool
	exit      func(code int)
}

func NewDaemon(app *Application) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		app:       app,
		appCtx:    ctx,
		appCancel: cancel,
		done:      make(chan struct{}),
		exit:      os.Exit,
	}
}

// Start binds synchronously so a bad address fails the service start.
func (d *Daemon) Start(s kardianos.Service) error {
	logger.Log.Info("Kardianos starting service", "service", s.String(), "platform", s.Platform())
	if err := d.app.Start(d.appCtx); err != nil {
		return err
	}
	d.started.Store(true)
	go d.supervise()
	return nil
}

func (d *Daemon) supervise() {
	defer close(d.done)
	select {
	case <-d.appCtx.Done():
		d.app.Shutdown()
	case <-d.app.reply.Done():
		d.app.Shutdown()
		if d.appCtx.Err() == nil {
			// Exit so the service manager restarts us.
			logger.Log.Error("❌ Reply socket lost, exiting", "err", ErrSocketLost)
			d.exit(1)
		}
	}
}

func (d *Daemon) Stop(s kardianos.Service) error {
	logger.Log.Info("Kardianos stopping service", "service", s.String())
	d.stopOnce.Do(d.appCancel)
	if !d.started.Load() {
		return nil
	}
	<-d.done
	return nil
}
