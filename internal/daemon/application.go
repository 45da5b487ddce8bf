package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	stun "github.com/The-Promised-Neverland/transporter/internal/STUN"
	"github.com/The-Promised-Neverland/transporter/internal/asyncreply"
	"github.com/The-Promised-Neverland/transporter/internal/config"
	"github.com/The-Promised-Neverland/transporter/internal/handlers"
	"github.com/The-Promised-Neverland/transporter/internal/models"
	"github.com/The-Promised-Neverland/transporter/internal/monitor"
	"github.com/The-Promised-Neverland/transporter/internal/selection"
	"github.com/The-Promised-Neverland/transporter/internal/service"
	"github.com/The-Promised-Neverland/transporter/internal/transfer"
	"github.com/The-Promised-Neverland/transporter/internal/watcher"
	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	"github.com/The-Promised-Neverland/transporter/pkg/system"
)

const (
	stunInterval    = 5 * time.Minute
	shutdownTimeout = 5 * time.Second
)

// ErrSocketLost is returned by Run when the reply loop dies on its own.
var ErrSocketLost = errors.New("reply socket loop stopped")

type Application struct {
	config   *config.Config
	table    *transfer.Table
	index    *selection.Index
	service  *service.Service
	handlers *handlers.Handlers
	hub      *monitor.Hub
	stun     *stun.Resolver

	mu      sync.Mutex
	cancel  context.CancelFunc
	reply   *asyncreply.Reply
	monitor *monitor.Server
	watcher *watcher.Watcher
	wg      sync.WaitGroup
}

func NewApplication(cfg *config.Config) *Application {
	app := &Application{
		config:  cfg,
		index:   selection.New(cfg.ServeDir()),
		service: service.NewService(cfg.ServeDir()),
	}
	var sink handlers.EventSink
	if cfg.MonitorAddr() != "" {
		app.hub = monitor.NewHub()
		sink = app.hub
	}
	// A connecting socket has no port of its own to advertise.
	if cfg.StunServer() != "" && !cfg.Connect() {
		app.stun = stun.NewResolver(cfg.StunServer())
	}
	// The table reports reclaims through the dispatcher, which needs the
	// table first.
	app.table = transfer.NewTable(cfg.MaxActive(),
		transfer.WithIdleTimeout(cfg.IdleTimeout()),
		transfer.WithReclaimHook(func(info transfer.Info, reason string) {
			app.handlers.ReclaimEvent(info, reason)
		}),
	)
	app.handlers = handlers.NewHandler(cfg, app.table, app.index, app.service, sink)
	return app
}

// Start opens the reply socket and the optional collaborators. Only a
// socket failure is fatal.
func (app *Application) Start(appCtx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.reply != nil {
		return errors.New("application already started")
	}
	system.InitStartTime()
	appCtx, app.cancel = context.WithCancel(appCtx)

	reply, err := asyncreply.Create(app.config.ZMQAddr(), func(r *asyncreply.Reply, frames [][]byte) {
		app.handlers.Handle(r, frames)
	}, asyncreply.Options{Connect: app.config.Connect()})
	if err != nil {
		app.cancel()
		return fmt.Errorf("reply socket: %w", err)
	}
	app.reply = reply
	logger.Log.Info("✅ Serving directory",
		"dir", app.config.ServeDir(),
		"endpoint", reply.Endpoint(),
		"block_size", app.config.BlockSize(),
		"max_active", app.config.MaxActive(),
		"no_clobber", app.config.NoClobber(),
	)

	if app.config.Watch() {
		app.startWatcher(appCtx)
	}
	if app.stun != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.stun.Run(appCtx, stunInterval)
		}()
	}
	if app.hub != nil {
		app.startMonitor(reply.Endpoint())
	}
	return nil
}

func (app *Application) startWatcher(appCtx context.Context) {
	w, err := watcher.NewWatcher(app.config.ServeDir(), watcher.DefaultFilterConfig(), app.index, appCtx)
	if err != nil {
		logger.Log.Warn("Failed to create watcher, listings rescan on every request", "err", err)
		return
	}
	if err := w.Start(); err != nil {
		logger.Log.Warn("Failed to start watcher, listings rescan on every request", "err", err)
		return
	}
	app.watcher = w
	app.wg.Add(2)
	go app.handleFileEvents(appCtx, w)
	go app.handleWatcherErrors(appCtx, w)
}

func (app *Application) startMonitor(endpoint string) {
	deps := monitor.Deps{
		InstanceID: app.config.InstanceID(),
		Endpoint:   endpoint,
		Transfers:  app.table,
		Files:      app.index,
		Host:       app.service,
	}
	if app.stun != nil {
		deps.PublicEndpoint = func() string {
			mapped, _ := app.stun.Mapped()
			return stun.Advertise(mapped, endpoint)
		}
	}
	srv := monitor.NewServer(app.config.MonitorAddr(), deps, app.hub)
	if err := srv.Start(); err != nil {
		logger.Log.Error("❌ Monitor disabled", "err", err)
		return
	}
	app.monitor = srv
}

// Run starts the application and blocks until appCtx is cancelled or the
// reply loop dies, then shuts everything down.
func (app *Application) Run(appCtx context.Context) error {
	if err := app.Start(appCtx); err != nil {
		return err
	}
	var err error
	select {
	case <-appCtx.Done():
	case <-app.reply.Done():
		err = ErrSocketLost
	}
	app.Shutdown()
	return err
}

// Endpoint is the resolved ZeroMQ endpoint, or "" before Start.
func (app *Application) Endpoint() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.reply == nil {
		return ""
	}
	return app.reply.Endpoint()
}

// MonitorAddr is the bound monitor address, or "" when it is not running.
func (app *Application) MonitorAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.monitor == nil {
		return ""
	}
	return app.monitor.Addr()
}

// Shutdown releases every transfer and stops all collaborators. It is safe
// to call more than once.
func (app *Application) Shutdown() {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.cancel != nil {
		app.cancel()
	}
	if app.reply != nil {
		// Destroy runs the dispatcher's terminal call, which releases
		// the table.
		if err := app.reply.Destroy(); err != nil && !errors.Is(err, asyncreply.ErrClosed) {
			logger.Log.Error("Error closing reply socket", "err", err)
		}
	}
	if app.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := app.monitor.Shutdown(ctx); err != nil {
			logger.Log.Error("Error stopping monitor", "err", err)
		}
		cancel()
		app.monitor = nil
	}
	if app.watcher != nil {
		app.watcher.Stop()
		app.watcher = nil
	}
	app.wg.Wait()
}

func (app *Application) handleFileEvents(appCtx context.Context, w *watcher.Watcher) {
	defer app.wg.Done()
	for {
		select {
		case <-appCtx.Done():
			return
		case batch := <-w.Events():
			app.processFileEvents(batch)
		}
	}
}

func (app *Application) handleWatcherErrors(appCtx context.Context, w *watcher.Watcher) {
	defer app.wg.Done()
	for {
		select {
		case <-appCtx.Done():
			return
		case err := <-w.Errors():
			logger.Log.Error("File watcher error", "err", err)
		}
	}
}

// processFileEvents pushes the fresh listing to monitor subscribers.
func (app *Application) processFileEvents(batch watcher.Batch) {
	logger.Log.Debug("Directory changed", "changes", len(batch.Changes))
	if app.hub == nil || app.hub.Count() == 0 {
		return
	}
	info, err := monitor.DirectoryListing(app.index, selection.Lexical)
	if err != nil {
		logger.Log.Error("Failed to scan directory", "err", err)
		return
	}
	app.hub.Broadcast(models.Message{Type: models.MsgFileList, Payload: info})
}
