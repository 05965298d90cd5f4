package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/metrics"
	"github.com/blackwell-systems/addonsync/internal/queue"
)

// Source is the queue side the dispatcher consumes.
type Source interface {
	Drain(ctx context.Context) ([]queue.Entry, error)
	Acknowledge(ctx context.Context, ids []string) error
}

// RecordFinder re-fetches the record an entry refers to.
type RecordFinder interface {
	FindByID(ctx context.Context, kind addon.Kind, id int64) (*addon.Record, error)
	FindByName(ctx context.Context, kind addon.Kind, name string) (*addon.Record, error)
}

// Dispatcher delivers queued entries to their listeners.
type Dispatcher struct {
	source   Source
	records  RecordFinder
	registry *Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. logger and m may be nil.
func NewDispatcher(source Source, records RecordFinder, registry *Registry, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		source:   source,
		records:  records,
		registry: registry,
		logger:   logger,
		metrics:  m,
	}
}

// Dispatch invokes the entry's declared listeners, then subscribers of its
// package channel, then subscribers of its event kind. Listener failures are
// logged and counted; only a failure to load the record is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, entry queue.Entry) error {
	rec, err := d.resolve(ctx, entry.Kind, entry.Package)
	if err != nil {
		return err
	}

	for _, ref := range entry.Listeners {
		l, err := d.registry.Resolve(ref)
		if err != nil {
			d.listenerFailed(entry, ref, err)
			continue
		}
		d.invoke(ctx, entry, ref, l, rec)
	}

	channel := entry.Channel
	if channel == "" {
		channel = addon.Channel(entry.Kind, entry.Package.Name)
	}
	for _, l := range d.registry.Subscribers(channel) {
		d.invoke(ctx, entry, channel, l, rec)
	}
	for _, l := range d.registry.Subscribers(string(entry.Kind)) {
		d.invoke(ctx, entry, string(entry.Kind), l, rec)
	}

	d.metrics.ObserveDispatched(string(entry.Kind))
	return nil
}

// Flush drains the queue, dispatches every entry and acknowledges the ones
// that were dispatched. An empty queue is a no-op. Entries whose record
// could not be loaded stay queued and their errors are returned joined.
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	entries, err := d.source.Drain(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to drain queue: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var (
		done []string
		errs []error
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := d.Dispatch(ctx, entry); err != nil {
			d.logger.Error("dispatch failed",
				zap.String("event_kind", string(entry.Kind)),
				zap.String("package", entry.Package.Name),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		done = append(done, entry.ID)
	}

	if err := d.source.Acknowledge(ctx, done); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear dispatched entries: %w", err))
		return 0, errors.Join(errs...)
	}

	d.metrics.ObserveDrain()
	d.logger.Info("queue flushed", zap.Int("dispatched", len(done)), zap.Int("pending", len(entries)-len(done)))
	return len(done), errors.Join(errs...)
}

// resolve returns the live record for ref. A record that no longer exists,
// as after an uninstall, yields a stub built from the ref. An uninstalled
// entry carrying an ID never falls back to the name, which may belong to a
// later reinstall.
func (d *Dispatcher) resolve(ctx context.Context, kind addon.EventKind, ref addon.Ref) (*addon.Record, error) {
	if ref.ID != 0 {
		rec, err := d.records.FindByID(ctx, ref.Kind, ref.ID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, addon.ErrRecordNotFound) {
			return nil, err
		}
	}

	if ref.Name != "" && (ref.ID == 0 || kind != addon.EventUninstalled) {
		rec, err := d.records.FindByName(ctx, ref.Kind, ref.Name)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, addon.ErrRecordNotFound) {
			return nil, err
		}
	}

	return &addon.Record{Kind: ref.Kind, ID: ref.ID, Name: ref.Name}, nil
}

func (d *Dispatcher) invoke(ctx context.Context, entry queue.Entry, name string, l Listener, rec *addon.Record) {
	if err := safeCall(ctx, l, entry.Kind, rec.Clone()); err != nil {
		d.listenerFailed(entry, name, err)
	}
}

func (d *Dispatcher) listenerFailed(entry queue.Entry, listener string, err error) {
	d.logger.Warn("listener failed",
		zap.String("event_kind", string(entry.Kind)),
		zap.String("package", entry.Package.Name),
		zap.String("listener", listener),
		zap.Error(err),
	)
	d.metrics.ObserveListenerFailure(listener)
}

// safeCall runs l, converting a panic into an error.
func safeCall(ctx context.Context, l Listener, kind addon.EventKind, rec *addon.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l(ctx, kind, rec)
}
