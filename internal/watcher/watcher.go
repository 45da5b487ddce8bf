package watcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/transporter/pkg/logger"
	"github.com/fsnotify/fsnotify"
)

const settleDelay = 250 * time.Millisecond

// Invalidator is told about every change so a cached listing can be dropped.
type Invalidator interface {
	Invalidate()
	EnableCache()
	DisableCache()
}

// Watcher monitors the served directory. Every relevant change invalidates
// the listing immediately; once the directory has been quiet for the settle
// delay the accumulated changes are delivered as one Batch.
type Watcher struct {
	dir     string
	filter  FilterConfig
	index   Invalidator
	fs      *fsnotify.Watcher
	batches chan Batch
	errors  chan error

	mu      sync.Mutex
	pending map[string]FileEvent
	settle  *time.Timer
	delay   time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewWatcher(dir string, filter FilterConfig, index Invalidator, appCtx context.Context) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(appCtx)
	return &Watcher{
		dir:     dir,
		filter:  filter,
		index:   index,
		fs:      fsw,
		batches: make(chan Batch, 16),
		errors:  make(chan error, 10),
		pending: make(map[string]FileEvent),
		delay:   settleDelay,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins watching. Only once the watch is in place may the index
// trust its cache.
func (w *Watcher) Start() error {
	if err := w.fs.Add(w.dir); err != nil {
		w.fs.Close()
		return err
	}
	w.index.EnableCache()
	logger.Log.Info("File watcher started", "path", w.dir)
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop is idempotent and puts the index back into rescan mode.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.index.DisableCache()
		w.cancel()
		w.fs.Close()
		w.wg.Wait()
		w.mu.Lock()
		if w.settle != nil {
			w.settle.Stop()
		}
		w.pending = nil
		w.mu.Unlock()
		logger.Log.Info("File watcher stopped")
	})
}

func (w *Watcher) Events() <-chan Batch { return w.batches }

func (w *Watcher) Errors() <-chan error { return w.errors }

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.record(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			// The kernel queue may have overflowed; nothing cached is safe.
			w.index.Invalidate()
			select {
			case w.errors <- err:
			default:
				logger.Log.Error("Error channel full, dropping error", "err", err)
			}
		}
	}
}

func classify(ev fsnotify.Event) (EventType, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return EventCreate, true
	case ev.Has(fsnotify.Write):
		return EventWrite, true
	case ev.Has(fsnotify.Remove):
		return EventRemove, true
	case ev.Has(fsnotify.Rename):
		return EventRename, true
	case ev.Has(fsnotify.Chmod):
		return EventChmod, true
	}
	return "", false
}

func (w *Watcher) record(ev fsnotify.Event) {
	if !w.filter.ShouldProcess(ev.Name) {
		return
	}
	typ, ok := classify(ev)
	if !ok {
		return
	}
	w.index.Invalidate()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return
	}
	w.pending[ev.Name] = FileEvent{Type: typ, Path: ev.Name, Timestamp: time.Now()}
	if w.settle == nil {
		w.settle = time.AfterFunc(w.delay, w.flush)
	} else {
		w.settle.Reset(w.delay)
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := Batch{At: time.Now(), Changes: make([]FileEvent, 0, len(w.pending))}
	for _, ev := range w.pending {
		batch.Changes = append(batch.Changes, ev)
	}
	clear(w.pending)
	w.mu.Unlock()

	sort.Slice(batch.Changes, func(i, j int) bool { return batch.Changes[i].Path < batch.Changes[j].Path })
	select {
	case w.batches <- batch:
	case <-w.ctx.Done():
	default:
		logger.Log.Warn("Events channel full, dropping batch", "changes", len(batch.Changes))
	}
}
