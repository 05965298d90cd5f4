package events

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Flusher drains and dispatches the queue.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

// Trigger runs a flush at most once per arming. It starts armed so the first
// request a serving process handles picks up whatever the installer left
// behind; afterwards it stays a no-op until Arm is called.
type Trigger struct {
	flusher Flusher
	armed   atomic.Bool
	logger  *zap.Logger
}

// NewTrigger creates an armed Trigger.
func NewTrigger(f Flusher, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trigger{flusher: f, logger: logger}
	t.armed.Store(true)
	return t
}

// Fire flushes if the trigger is armed and disarms it. Concurrent callers
// race for the single flush; losers return immediately. A failed flush
// re-arms the trigger so the next call retries.
func (t *Trigger) Fire(ctx context.Context) (int, error) {
	if !t.armed.CompareAndSwap(true, false) {
		return 0, nil
	}

	n, err := t.flusher.Flush(ctx)
	if err != nil {
		t.armed.Store(true)
		t.logger.Warn("drain failed, trigger re-armed", zap.Error(err))
		return n, err
	}
	if n > 0 {
		t.logger.Debug("drain trigger fired", zap.Int("dispatched", n))
	}
	return n, nil
}

// Arm makes the next Fire flush again.
func (t *Trigger) Arm() {
	t.armed.Store(true)
}

// Armed reports whether the next Fire will flush.
func (t *Trigger) Armed() bool {
	return t.armed.Load()
}
