package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often the queue is re-checked when no
// filesystem event arrives.
const DefaultPollInterval = 30 * time.Second

// PendingCounter reports how many entries the queue holds.
type PendingCounter interface {
	Pending(ctx context.Context) (int, error)
}

// Armer is re-armed when new entries are found.
type Armer interface {
	Arm()
}

// Watcher re-arms the drain trigger whenever the queue document changes
// and holds entries. It watches the directory rather than the file because
// the queue is replaced by rename on every write.
type Watcher struct {
	queuePath    string
	pending      PendingCounter
	armer        Armer
	logger       *zap.Logger
	pollInterval time.Duration

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Watcher for the queue document at queuePath.
func New(queuePath string, pending PendingCounter, armer Armer, logger *zap.Logger) (*Watcher, error) {
	if queuePath == "" {
		return nil, fmt.Errorf("queue path cannot be empty")
	}
	if pending == nil || armer == nil {
		return nil, fmt.Errorf("pending counter and armer are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		queuePath:    queuePath,
		pending:      pending,
		armer:        armer,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		stopCh:       make(chan struct{}),
	}, nil
}

// SetPollInterval overrides DefaultPollInterval. Call before Start.
func (w *Watcher) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// Start checks the queue once and then watches it until Stop.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.queuePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.fsw = fsw

	w.check()

	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop halts the watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	w.wg.Wait()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	target := filepath.Clean(w.queuePath)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.check()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("queue watch error", zap.Error(err))
		case <-ticker.C:
			w.check()
		case <-w.stopCh:
			return
		}
	}
}

// check arms the trigger when the queue holds entries.
func (w *Watcher) check() {
	n, err := w.pending.Pending(context.Background())
	if err != nil {
		w.logger.Warn("failed to read queue", zap.String("path", w.queuePath), zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Debug("queue has pending entries, arming drain", zap.Int("pending", n))
		w.armer.Arm()
	}
}
